package mysql

import (
	"context"
	"fmt"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/db"
	"gorm.io/gorm"
)

type LabReportRepo struct {
	db *gorm.DB
}

func NewLabReportRepo(db *gorm.DB) domain.LabReportRepository {
	return &LabReportRepo{db: db}
}

// Save 唯一索引是同一参与方重复提交的最后防线
func (r *LabReportRepo) Save(ctx context.Context, report *domain.LabReport) error {
	err := db.Conn(ctx, r.db).Create(reportFromDomain(report)).Error
	if err == nil {
		return nil
	}
	if !isDuplicate(err) {
		return fmt.Errorf("failed to save lab report: %w", err)
	}

	var count int64
	if cerr := db.Conn(ctx, r.db).Model(&LabReportPO{}).
		Where("settlement_id = ? AND enviado_por = ?", report.SettlementID, report.SubmittedBy).
		Count(&count).Error; cerr == nil && count == 0 {
		return fmt.Errorf("%w: número de reporte %s ya registrado", domain.ErrConflict, report.Number)
	}
	return &domain.DuplicateSubmissionError{SettlementID: report.SettlementID, Party: report.SubmittedBy}
}

func (r *LabReportRepo) Get(ctx context.Context, id string) (*domain.LabReport, error) {
	var po LabReportPO
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&po).Error; err != nil {
		return nil, notFound(err, "reporte químico", id)
	}
	return po.ToDomain(), nil
}

func (r *LabReportRepo) FindByParty(ctx context.Context, settlementID string, party domain.ReportParty) (*domain.LabReport, error) {
	var pos []LabReportPO
	if err := db.Conn(ctx, r.db).
		Where("settlement_id = ? AND enviado_por = ?", settlementID, party).
		Limit(1).Find(&pos).Error; err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, nil
	}
	return pos[0].ToDomain(), nil
}

func (r *LabReportRepo) ListBySettlement(ctx context.Context, settlementID string) ([]*domain.LabReport, error) {
	var pos []LabReportPO
	if err := db.Conn(ctx, r.db).Where("settlement_id = ?", settlementID).
		Order("created_at ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.LabReport, 0, len(pos))
	for i := range pos {
		out = append(out, pos[i].ToDomain())
	}
	return out, nil
}
