package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/db"
	"gorm.io/gorm"
)

// 实物表
const (
	tableConcentrates = "concentrados"
	tableLots         = "lotes"
)

func itemTable(t domain.ItemType) (string, error) {
	switch t {
	case domain.ItemConcentrate:
		return tableConcentrates, nil
	case domain.ItemLot:
		return tableLots, nil
	}
	return "", domain.NewValidationError("item_tipo", fmt.Sprintf("tipo desconocido %q", t))
}

// ItemStore 精矿批次与原矿批的状态读写，参与调用方事务
type ItemStore struct {
	db *gorm.DB
}

func NewItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{db: db}
}

var _ domain.PhysicalItemStore = (*ItemStore)(nil)

func (s *ItemStore) Get(ctx context.Context, t domain.ItemType, id string) (*domain.PhysicalItem, error) {
	table, err := itemTable(t)
	if err != nil {
		return nil, err
	}
	var po PhysicalItemPO
	if err := db.Conn(ctx, s.db).Table(table).Where("id = ?", id).First(&po).Error; err != nil {
		return nil, notFound(err, string(t), id)
	}
	return &domain.PhysicalItem{
		ID:      po.ItemID,
		Type:    t,
		SocioID: po.SocioID,
		State:   domain.ItemState(po.State),
		Mineral: po.Mineral,
		Weight:  po.Weight,
	}, nil
}

// UpdateState 以当前状态为条件更新，未命中说明实物已被其他流程改动
func (s *ItemStore) UpdateState(ctx context.Context, t domain.ItemType, id string, from, to domain.ItemState) error {
	table, err := itemTable(t)
	if err != nil {
		return err
	}
	res := db.Conn(ctx, s.db).Table(table).
		Where("id = ? AND estado = ?", id, from).
		Updates(map[string]any{"estado": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to update %s %s: %w", t, id, res.Error)
	}
	if res.RowsAffected == 0 {
		item, err := s.Get(ctx, t, id)
		if err != nil {
			return err
		}
		return domain.NewValidationError("estado",
			fmt.Sprintf("%s %s está en %q, se esperaba %q", t, id, item.State, from))
	}
	return nil
}

// Register 登记实物，供上游流程与测试使用
func (s *ItemStore) Register(ctx context.Context, item domain.PhysicalItem) error {
	table, err := itemTable(item.Type)
	if err != nil {
		return err
	}
	po := &PhysicalItemPO{
		ItemID:    item.ID,
		SocioID:   item.SocioID,
		State:     string(item.State),
		Mineral:   item.Mineral,
		Weight:    item.Weight,
		UpdatedAt: time.Now().UTC(),
	}
	return db.Conn(ctx, s.db).Table(table).Create(po).Error
}
