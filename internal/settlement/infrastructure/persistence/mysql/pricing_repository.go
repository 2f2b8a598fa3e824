package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/db"
	"gorm.io/gorm"
)

type PriceBracketRepo struct {
	db *gorm.DB
}

func NewPriceBracketRepo(db *gorm.DB) domain.PriceBracketRepository {
	return &PriceBracketRepo{db: db}
}

func (r *PriceBracketRepo) Save(ctx context.Context, b *domain.PriceBracket) error {
	po := &PriceBracketPO{}
	po.FromDomain(b)
	if err := db.Conn(ctx, r.db).Save(po).Error; err != nil {
		return fmt.Errorf("failed to save price bracket: %w", err)
	}
	b.ID = uint64(po.ID)
	b.CreatedAt = po.CreatedAt
	b.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *PriceBracketRepo) Get(ctx context.Context, id uint64) (*domain.PriceBracket, error) {
	var po PriceBracketPO
	if err := db.Conn(ctx, r.db).First(&po, id).Error; err != nil {
		return nil, notFound(err, "tabla de precios", fmt.Sprintf("%d", id))
	}
	b, err := po.ToDomain()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PriceBracketRepo) find(tx *gorm.DB) ([]domain.PriceBracket, error) {
	var pos []PriceBracketPO
	if err := tx.Order("mineral ASC, valor_minimo ASC, id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PriceBracket, 0, len(pos))
	for i := range pos {
		b, err := pos[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *PriceBracketRepo) ListScope(ctx context.Context, cp domain.Counterparty, mineral string, lock bool) ([]domain.PriceBracket, error) {
	tx := db.Conn(ctx, r.db)
	if lock {
		tx = forUpdate(tx)
	}
	return r.find(tx.Where("counterparty_type = ? AND counterparty_id = ? AND mineral = ?",
		cp.Type(), cp.PartyID(), mineral))
}

func (r *PriceBracketRepo) ListByCounterparty(ctx context.Context, cp domain.Counterparty) ([]domain.PriceBracket, error) {
	return r.find(db.Conn(ctx, r.db).Where("counterparty_type = ? AND counterparty_id = ?", cp.Type(), cp.PartyID()))
}

func (r *PriceBracketRepo) ListByMineral(ctx context.Context, mineral string) ([]domain.PriceBracket, error) {
	return r.find(db.Conn(ctx, r.db).Where("mineral = ?", mineral))
}

func (r *PriceBracketRepo) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return db.Transaction(ctx, r.db, fn)
}

type DeductionRuleRepo struct {
	db *gorm.DB
}

func NewDeductionRuleRepo(db *gorm.DB) domain.DeductionRuleRepository {
	return &DeductionRuleRepo{db: db}
}

// Create 只插入，(codigo, version) 冲突时返回冲突错误
func (r *DeductionRuleRepo) Create(ctx context.Context, rule *domain.DeductionRule) error {
	po := ruleFromDomain(rule)
	if err := db.Conn(ctx, r.db).Create(po).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s versión %d ya publicada", domain.ErrConflict, rule.Code, rule.Version)
		}
		return fmt.Errorf("failed to create deduction rule: %w", err)
	}
	rule.ID = po.ID
	return nil
}

func (r *DeductionRuleRepo) LatestVersion(ctx context.Context, code string) (int, error) {
	var latest int
	if err := db.Conn(ctx, r.db).Model(&DeductionRulePO{}).
		Where("codigo = ?", code).Select("COALESCE(MAX(version), 0)").Scan(&latest).Error; err != nil {
		return 0, err
	}
	return latest, nil
}

func (r *DeductionRuleRepo) ListEffective(ctx context.Context, at time.Time) ([]domain.DeductionRule, error) {
	var pos []DeductionRulePO
	if err := db.Conn(ctx, r.db).Where("fecha_inicio <= ?", endOfDay(at)).
		Order("orden ASC, codigo ASC, version ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]domain.DeductionRule, 0, len(pos))
	for i := range pos {
		rule := pos[i].ToDomain()
		if rule.CoversDate(at) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *DeductionRuleRepo) ListByCode(ctx context.Context, code string) ([]domain.DeductionRule, error) {
	var pos []DeductionRulePO
	if err := db.Conn(ctx, r.db).Where("codigo = ?", code).Order("version ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]domain.DeductionRule, 0, len(pos))
	for i := range pos {
		out = append(out, pos[i].ToDomain())
	}
	return out, nil
}

func (r *DeductionRuleRepo) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return db.Transaction(ctx, r.db, fn)
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}
