// Package mysql 结算上下文的 GORM 仓储实现，事务句柄经 context 传递
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/db"
	"github.com/wyfcoding/mineralchain/pkg/idgen"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate 行锁；sqlite 不支持 FOR UPDATE，依赖其库级写锁
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewNotFoundError(entity, id)
	}
	return err
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

type SettlementRepo struct {
	db *gorm.DB
}

func NewSettlementRepo(db *gorm.DB) domain.SettlementRepository {
	return &SettlementRepo{db: db}
}

func (r *SettlementRepo) Save(ctx context.Context, s *domain.Settlement) error {
	return db.Transaction(ctx, r.db, func(txCtx context.Context) error {
		tx := db.Conn(txCtx, r.db)
		po := &SettlementPO{}
		po.FromDomain(s)
		extras, err := mergeExtras(nil, s)
		if err != nil {
			return err
		}
		po.Extras = extras
		if err := tx.Create(po).Error; err != nil {
			return fmt.Errorf("failed to create settlement %s: %w", s.ID, err)
		}
		return r.saveLinks(tx, s)
	})
}

func (r *SettlementRepo) saveLinks(tx *gorm.DB, s *domain.Settlement) error {
	if len(s.Items) == 0 {
		return nil
	}
	links := make([]*ItemLinkPO, 0, len(s.Items))
	for _, l := range s.Items {
		links = append(links, linkFromDomain(l))
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"peso", "reporte_socio_id", "reporte_contraparte_id"}),
	}).Create(&links).Error
}

// Update 合并 extras 后更新结算单，追加尚未持久化的扣减明细与报价快照
func (r *SettlementRepo) Update(ctx context.Context, s *domain.Settlement) error {
	return db.Transaction(ctx, r.db, func(txCtx context.Context) error {
		tx := db.Conn(txCtx, r.db)
		var po SettlementPO
		if err := tx.Where("settlement_id = ?", s.ID).First(&po).Error; err != nil {
			return notFound(err, "liquidación", s.ID)
		}
		po.FromDomain(s)
		extras, err := mergeExtras(po.Extras, s)
		if err != nil {
			return err
		}
		po.Extras = extras
		if err := tx.Save(&po).Error; err != nil {
			return fmt.Errorf("failed to update settlement %s: %w", s.ID, err)
		}
		if err := r.saveLinks(tx, s); err != nil {
			return fmt.Errorf("failed to save item links: %w", err)
		}

		for i := range s.Deductions {
			if s.Deductions[i].ID != 0 {
				continue
			}
			s.Deductions[i].ID = uint64(idgen.Next().Int64())
			if err := tx.Create(deductionFromDomain(s.Deductions[i])).Error; err != nil {
				return fmt.Errorf("failed to append deduction %s: %w", s.Deductions[i].RuleCode, err)
			}
		}
		for i := range s.Quotes {
			if s.Quotes[i].ID != 0 {
				continue
			}
			s.Quotes[i].ID = uint64(idgen.Next().Int64())
			if err := tx.Create(quoteFromDomain(s.Quotes[i])).Error; err != nil {
				return fmt.Errorf("failed to append quote %s: %w", s.Quotes[i].Mineral, err)
			}
		}
		return nil
	})
}

func (r *SettlementRepo) Get(ctx context.Context, id string) (*domain.Settlement, error) {
	return r.load(db.Conn(ctx, r.db), id)
}

func (r *SettlementRepo) GetForUpdate(ctx context.Context, id string) (*domain.Settlement, error) {
	return r.load(forUpdate(db.Conn(ctx, r.db)), id)
}

func (r *SettlementRepo) load(tx *gorm.DB, id string) (*domain.Settlement, error) {
	var po SettlementPO
	if err := tx.Where("settlement_id = ?", id).First(&po).Error; err != nil {
		return nil, notFound(err, "liquidación", id)
	}
	s, err := po.ToDomain()
	if err != nil {
		return nil, err
	}

	// 关联数据不加锁，结算单行锁已串行化同一结算单的写入
	plain := tx.Session(&gorm.Session{NewDB: true})
	var links []ItemLinkPO
	if err := plain.Where("settlement_id = ?", id).Order("created_at ASC, item_id ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load item links: %w", err)
	}
	for i := range links {
		s.Items = append(s.Items, links[i].ToDomain())
	}

	var deductions []DeductionRecordPO
	if err := plain.Where("settlement_id = ?", id).Order("orden ASC, codigo ASC").Find(&deductions).Error; err != nil {
		return nil, fmt.Errorf("failed to load deductions: %w", err)
	}
	for i := range deductions {
		s.Deductions = append(s.Deductions, deductions[i].ToDomain())
	}

	var quotes []QuoteSnapshotPO
	if err := plain.Where("settlement_id = ?", id).Order("id ASC").Find(&quotes).Error; err != nil {
		return nil, fmt.Errorf("failed to load quotes: %w", err)
	}
	for i := range quotes {
		s.Quotes = append(s.Quotes, quotes[i].ToDomain())
	}
	return s, nil
}

func (r *SettlementRepo) List(ctx context.Context, filter domain.SettlementFilter, offset, limit int) ([]*domain.Settlement, int64, error) {
	query := db.Conn(ctx, r.db).Model(&SettlementPO{})
	if filter.SocioID != "" {
		query = query.Where("socio_id = ?", filter.SocioID)
	}
	if filter.CounterpartyType != "" {
		query = query.Where("counterparty_type = ?", filter.CounterpartyType)
	}
	if filter.CounterpartyID != "" {
		query = query.Where("counterparty_id = ?", filter.CounterpartyID)
	}
	if filter.Kind != "" {
		query = query.Where("tipo = ?", filter.Kind)
	}
	if filter.State != "" {
		query = query.Where("estado = ?", filter.State)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var pos []SettlementPO
	if err := query.Order("created_at DESC, settlement_id DESC").Offset(offset).Limit(limit).Find(&pos).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*domain.Settlement, 0, len(pos))
	for i := range pos {
		s, err := pos[i].ToDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, nil
}

func (r *SettlementRepo) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return db.Transaction(ctx, r.db, fn)
}
