package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportParty 报告提交方
type ReportParty string

const (
	PartySocio        ReportParty = "socio"
	PartyCounterparty ReportParty = "contraparte"
)

// Other 返回另一方
func (p ReportParty) Other() ReportParty {
	if p == PartySocio {
		return PartyCounterparty
	}
	return PartySocio
}

// LabReport 化验报告，提交后不可修改
type LabReport struct {
	ID           string
	Number       string // 报告编号，全局唯一
	SettlementID string
	ItemID       string
	SubmittedBy  ReportParty
	SubmitterID  string
	Kind         Kind
	LabName      string

	PackagedAt   *time.Time
	ReceivedAt   *time.Time
	DispatchedAt *time.Time
	AnalyzedAt   *time.Time

	PrincipalGrade *decimal.Decimal // 主矿物品位 %
	SilverGradeGPT *decimal.Decimal // 银品位 g/t（精矿）
	SilverGradeDM  *decimal.Decimal // 银品位 DM（原矿批）
	LeadGrade      *decimal.Decimal // 铅品位 %
	ZincGrade      *decimal.Decimal // 锌品位 %
	Moisture       *decimal.Decimal // 水分 %

	SackCount     *int
	SackWeight    *decimal.Decimal
	PackagingType string
	DocumentURL   string

	SocioSubmitted          bool
	SocioSubmittedAt        *time.Time
	CounterpartySubmitted   bool
	CounterpartySubmittedAt *time.Time

	CreatedAt time.Time
}

// RequiredFields 返回结算类型要求的化验字段
func RequiredFields(kind Kind) []string {
	switch kind {
	case KindConcentrateSale:
		return []string{"ley_mineral_principal", "ley_ag_gmt", "humedad"}
	case KindComplexLotSale:
		return []string{"ley_ag_dm", "ley_pb", "ley_zn"}
	default:
		return nil
	}
}

func (r *LabReport) field(name string) *decimal.Decimal {
	switch name {
	case "ley_mineral_principal":
		return r.PrincipalGrade
	case "ley_ag_gmt":
		return r.SilverGradeGPT
	case "ley_ag_dm":
		return r.SilverGradeDM
	case "ley_pb":
		return r.LeadGrade
	case "ley_zn":
		return r.ZincGrade
	case "humedad":
		return r.Moisture
	}
	return nil
}

// Validate 校验必填字段与取值范围，任何缺失都在持久化前失败
func (r *LabReport) Validate() error {
	if !r.Kind.IsSale() {
		return NewValidationError("tipo", "los reportes químicos solo aplican a ventas")
	}
	if r.SubmittedBy != PartySocio && r.SubmittedBy != PartyCounterparty {
		return NewValidationError("enviado_por", "parte desconocida")
	}

	var missing []string
	for _, f := range RequiredFields(r.Kind) {
		if r.field(f) == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Kind: r.Kind, Fields: missing}
	}

	for _, f := range []string{"ley_mineral_principal", "ley_pb", "ley_zn", "humedad"} {
		if v := r.field(f); v != nil && (v.IsNegative() || v.GreaterThan(hundred)) {
			return NewValidationError(f, "debe estar entre 0 y 100")
		}
	}
	for _, f := range []string{"ley_ag_gmt", "ley_ag_dm"} {
		if v := r.field(f); v != nil && v.IsNegative() {
			return NewValidationError(f, "no puede ser negativo")
		}
	}
	if r.SackCount != nil && *r.SackCount < 0 {
		return NewValidationError("numero_sacos", "no puede ser negativo")
	}
	return nil
}

// MarkSubmitted 标记提交方及时间
func (r *LabReport) MarkSubmitted(at time.Time) {
	t := at
	if r.SubmittedBy == PartySocio {
		r.SocioSubmitted = true
		r.SocioSubmittedAt = &t
		return
	}
	r.CounterpartySubmitted = true
	r.CounterpartySubmittedAt = &t
}
