package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConcentrateFields 精矿销售的协商化验值
type ConcentrateFields struct {
	PrincipalGrade *decimal.Decimal `json:"ley_mineral_principal"`
	SilverGradeGPT *decimal.Decimal `json:"ley_ag_gmt"`
	Moisture       *decimal.Decimal `json:"humedad"`
}

// ComplexLotFields 原矿批销售的协商化验值
type ComplexLotFields struct {
	SilverGradeDM *decimal.Decimal `json:"ley_ag_dm"`
	LeadGrade     *decimal.Decimal `json:"ley_pb"`
	ZincGrade     *decimal.Decimal `json:"ley_zn"`
	Moisture      *decimal.Decimal `json:"humedad"`
}

// ReconciliationOutcome 双方报告对账结果，按结算类型只填充一种字段集
type ReconciliationOutcome struct {
	Kind           Kind
	Concentrate    *ConcentrateFields
	ComplexLot     *ComplexLotFields
	Disagreement   decimal.Decimal
	RequiresReview bool
	ReconciledAt   time.Time
}

// Thresholds 触发人工复核的差异阈值（百分点）
type Thresholds struct {
	Concentrate decimal.Decimal
	ComplexLot  decimal.Decimal
}

// DefaultThresholds 精矿 5，原矿批 3
func DefaultThresholds() Thresholds {
	return Thresholds{
		Concentrate: decimal.NewFromInt(5),
		ComplexLot:  decimal.NewFromInt(3),
	}
}

func (t Thresholds) For(kind Kind) decimal.Decimal {
	if kind == KindComplexLotSale {
		return t.ComplexLot
	}
	return t.Concentrate
}

// average 双方均为空时返回空，一方为空时取另一方
func average(a, b *decimal.Decimal) *decimal.Decimal {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil:
		v := *a
		return &v
	}
	v := a.Add(*b).Div(decimal.NewFromInt(2))
	return &v
}

// Reconcile 对双方报告逐字段取平均，并以主判别品位的差值决定是否需要复核。
// 结果只依赖报告归属方，与提交先后无关。
func Reconcile(kind Kind, socio, counterparty *LabReport, th Thresholds, at time.Time) (*ReconciliationOutcome, error) {
	if socio == nil || counterparty == nil {
		return nil, NewValidationError("reportes", "se requieren los reportes de ambas partes")
	}

	out := &ReconciliationOutcome{Kind: kind, ReconciledAt: at}

	var left, right *decimal.Decimal
	var field string
	switch kind {
	case KindConcentrateSale:
		out.Concentrate = &ConcentrateFields{
			PrincipalGrade: average(socio.PrincipalGrade, counterparty.PrincipalGrade),
			SilverGradeGPT: average(socio.SilverGradeGPT, counterparty.SilverGradeGPT),
			Moisture:       average(socio.Moisture, counterparty.Moisture),
		}
		left, right, field = socio.PrincipalGrade, counterparty.PrincipalGrade, "ley_mineral_principal"
	case KindComplexLotSale:
		out.ComplexLot = &ComplexLotFields{
			SilverGradeDM: average(socio.SilverGradeDM, counterparty.SilverGradeDM),
			LeadGrade:     average(socio.LeadGrade, counterparty.LeadGrade),
			ZincGrade:     average(socio.ZincGrade, counterparty.ZincGrade),
			Moisture:      average(socio.Moisture, counterparty.Moisture),
		}
		left, right, field = socio.LeadGrade, counterparty.LeadGrade, "ley_pb"
	default:
		return nil, NewValidationError("tipo", "la conciliación solo aplica a ventas")
	}

	if left == nil || right == nil {
		return nil, &MissingFieldsError{Kind: kind, Fields: []string{field}}
	}
	out.Disagreement = left.Sub(*right).Abs()
	out.RequiresReview = out.Disagreement.GreaterThan(th.For(kind))
	return out, nil
}

// Moisture 协商水分，缺失时为 0
func (o *ReconciliationOutcome) Moisture() decimal.Decimal {
	var m *decimal.Decimal
	if o.Concentrate != nil {
		m = o.Concentrate.Moisture
	}
	if o.ComplexLot != nil {
		m = o.ComplexLot.Moisture
	}
	if m == nil {
		return decimal.Zero
	}
	return *m
}
