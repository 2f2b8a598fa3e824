package mysql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditRepo 审计表写入，只追加
type AuditRepo struct {
	db *gorm.DB
}

func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

var _ domain.AuditLogger = (*AuditRepo)(nil)

func toJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (r *AuditRepo) Record(ctx context.Context, e domain.AuditEntry) error {
	before, err := toJSON(e.Before)
	if err != nil {
		return fmt.Errorf("failed to encode audit before: %w", err)
	}
	after, err := toJSON(e.After)
	if err != nil {
		return fmt.Errorf("failed to encode audit after: %w", err)
	}
	po := &AuditPO{
		UserID:    e.Actor.UserID,
		Role:      string(e.Actor.Role),
		PartyID:   e.Actor.PartyID,
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Action:    e.Action,
		Before:    before,
		After:     after,
		IP:        e.IP,
		CreatedAt: e.At,
	}
	return db.Conn(ctx, r.db).Create(po).Error
}

// ListByEntity 某实体的审计记录，按时间正序
func (r *AuditRepo) ListByEntity(ctx context.Context, entity, entityID string) ([]AuditPO, error) {
	var out []AuditPO
	err := db.Conn(ctx, r.db).Where("entidad = ? AND entidad_id = ?", entity, entityID).
		Order("id ASC").Find(&out).Error
	return out, err
}
