package application

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand 执行 validate 标签校验并转换为领域校验错误
func validateCommand(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+"("+fe.Tag()+")")
			}
			return domain.NewValidationError(strings.Join(fields, ", "), "valor inválido")
		}
		return domain.NewValidationError("", err.Error())
	}
	return nil
}

// requireActor 操作者须携带用户与合法角色
func requireActor(a domain.Actor) error {
	if a.UserID == "" || a.PartyID == "" {
		return &domain.ForbiddenError{Action: "operar", Reason: "usuario no identificado"}
	}
	if !a.Role.Valid() {
		return &domain.ForbiddenError{Action: "operar", Reason: "rol desconocido " + string(a.Role)}
	}
	return nil
}

// ItemInput 结算单关联的实物与结算重量
type ItemInput struct {
	ItemID string          `json:"item_id" validate:"required,max=64"`
	Weight decimal.Decimal `json:"peso"`
}

// CreateSaleCommand 创建销售结算单
type CreateSaleCommand struct {
	Actor            domain.Actor
	Kind             domain.Kind `validate:"required,oneof=venta_concentrado venta_lote_complejo"`
	TradingCompanyID string      `validate:"required,max=64"`
	PrincipalMineral string      `validate:"omitempty,max=8"`
	Currency         string      `validate:"omitempty,len=3"`
	Date             time.Time
	Items            []ItemInput `validate:"required,min=1,dive"`
}

// CreateTollCommand 创建加工费结算单（加工厂发起）
type CreateTollCommand struct {
	Actor         domain.Actor
	SocioID       string `validate:"required,max=64"`
	Currency      string `validate:"omitempty,len=3"`
	Date          time.Time
	ProcessingFee decimal.Decimal
	Items         []ItemInput `validate:"required,min=1,dive"`
}

// SettlementCommand 只需结算单 ID 的操作（审批、关闭前检查、标记待付款）
type SettlementCommand struct {
	Actor        domain.Actor
	SettlementID string `validate:"required,max=64"`
}

// RejectCommand 拒绝结算单
type RejectCommand struct {
	Actor        domain.Actor
	SettlementID string `validate:"required,max=64"`
	Reason       string `validate:"required,max=500"`
}

// SubmitReportCommand 提交化验报告
type SubmitReportCommand struct {
	Actor        domain.Actor
	SettlementID string `validate:"required,max=64"`
	ItemID       string `validate:"omitempty,max=64"`
	Number       string `validate:"omitempty,max=64"`
	LabName      string `validate:"required,max=128"`

	PackagedAt   *time.Time
	ReceivedAt   *time.Time
	DispatchedAt *time.Time
	AnalyzedAt   *time.Time

	PrincipalGrade *decimal.Decimal
	SilverGradeGPT *decimal.Decimal
	SilverGradeDM  *decimal.Decimal
	LeadGrade      *decimal.Decimal
	ZincGrade      *decimal.Decimal
	Moisture       *decimal.Decimal

	SackCount     *int
	SackWeight    *decimal.Decimal
	PackagingType string `validate:"omitempty,max=64"`
	DocumentURL   string `validate:"omitempty,url"`
}

// CloseCommand socio 关闭结算单
type CloseCommand struct {
	Actor        domain.Actor
	SettlementID string `validate:"required,max=64"`
	ClosingDate  *time.Time
}

// PaymentCommand 登记付款
type PaymentCommand struct {
	Actor         domain.Actor
	SettlementID  string `validate:"required,max=64"`
	Method        string `validate:"required,max=64"`
	ReceiptNumber string `validate:"required,max=64"`
	ReceiptURL    string `validate:"required,url"`
	PaidAt        *time.Time
}

// ListSettlementsQuery 结算单分页查询
type ListSettlementsQuery struct {
	Filter   domain.SettlementFilter
	Page     int
	PageSize int
}

// UpsertBracketCommand 新建或修改价格区间，ID 为 0 时新建
type UpsertBracketCommand struct {
	Actor     domain.Actor
	ID        uint64
	Mineral   string `validate:"required,max=8"`
	MinValue  decimal.Decimal
	MaxValue  decimal.Decimal
	PriceUSD  decimal.Decimal
	Unit      string    `validate:"omitempty,max=16"`
	ValidFrom time.Time `validate:"required"`
	ValidTo   *time.Time
	Active    bool
}

// PublishRuleCommand 发布扣减规则新版本
type PublishRuleCommand struct {
	Actor         domain.Actor
	Code          string `validate:"required,max=32"`
	Concept       string `validate:"required,max=128"`
	DeductionType string `validate:"omitempty,max=32"`
	Category      string `validate:"omitempty,max=32"`
	Mineral       *string
	Kind          *string
	Percentage    decimal.Decimal
	FixedAmount   decimal.Decimal
	Base          domain.DeductionBase `validate:"required"`
	Active        *bool
	Order         int       `validate:"gte=0"`
	ValidFrom     time.Time `validate:"required"`
	ValidTo       *time.Time
	Notes         string `validate:"omitempty,max=500"`
	LegalSource   string `validate:"omitempty,max=255"`
}
