// Package consumer 消费加工完成事件，生成加工费结算单
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

// TollCreator 创建加工费结算单
type TollCreator interface {
	CreateTollSettlement(ctx context.Context, cmd application.CreateTollCommand) (*domain.Settlement, error)
}

// ProcessingCompleted 加工厂完成精矿加工的事件
type ProcessingCompleted struct {
	PlantID       string          `json:"planta_id"`
	UserID        string          `json:"usuario_id"`
	SocioID       string          `json:"socio_id"`
	Currency      string          `json:"moneda"`
	ProcessingFee decimal.Decimal `json:"costo_procesamiento"`
	Concentrates  []struct {
		ID     string          `json:"id"`
		Weight decimal.Decimal `json:"peso"`
	} `json:"concentrados"`
}

// systemUser 事件未携带操作用户时记录的用户
const systemUser = "sistema"

type ProcessingConsumer struct {
	creator TollCreator
	logger  *slog.Logger
}

func NewProcessingConsumer(creator TollCreator, logger *slog.Logger) *ProcessingConsumer {
	return &ProcessingConsumer{creator: creator, logger: logger}
}

// Handle 解析失败与业务拒绝只记录日志，不阻塞分区
func (c *ProcessingConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var evt ProcessingCompleted
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.logger.WarnContext(ctx, "discarding malformed processing event", "offset", msg.Offset, "error", err)
		return nil
	}

	userID := evt.UserID
	if userID == "" {
		userID = systemUser
	}
	cmd := application.CreateTollCommand{
		Actor:         domain.Actor{UserID: userID, Role: domain.RolePlanta, PartyID: evt.PlantID},
		SocioID:       evt.SocioID,
		Currency:      evt.Currency,
		ProcessingFee: evt.ProcessingFee,
	}
	for _, cc := range evt.Concentrates {
		cmd.Items = append(cmd.Items, application.ItemInput{ItemID: cc.ID, Weight: cc.Weight})
	}

	st, err := c.creator.CreateTollSettlement(ctx, cmd)
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "toll settlement created from processing event",
			"settlement_id", st.ID, "plant_id", evt.PlantID, "socio_id", evt.SocioID)
		return nil
	case domain.IsValidation(err), domain.IsForbidden(err), domain.IsNotFound(err), domain.IsConflict(err):
		c.logger.WarnContext(ctx, "processing event rejected",
			"plant_id", evt.PlantID, "socio_id", evt.SocioID, "offset", msg.Offset, "error", err)
		return nil
	default:
		return fmt.Errorf("failed to create toll settlement for plant %s: %w", evt.PlantID, err)
	}
}
