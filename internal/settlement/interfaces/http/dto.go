package http

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

// ItemLinkDTO 结算单关联实物
type ItemLinkDTO struct {
	ID                   string          `json:"id"`
	ItemID               string          `json:"item_id"`
	ItemType             domain.ItemType `json:"item_tipo"`
	Weight               decimal.Decimal `json:"peso"`
	SocioReportID        *string         `json:"reporte_socio_id,omitempty"`
	CounterpartyReportID *string         `json:"reporte_contraparte_id,omitempty"`
}

// DeductionDTO 扣减明细
type DeductionDTO struct {
	Code       string               `json:"codigo"`
	Version    int                  `json:"version"`
	Concept    string               `json:"concepto"`
	Base       domain.DeductionBase `json:"base_calculo"`
	Percentage decimal.Decimal      `json:"porcentaje"`
	BaseAmount decimal.Decimal      `json:"monto_base"`
	Amount     decimal.Decimal      `json:"monto_deducido"`
	Order      int                  `json:"orden"`
}

// QuoteDTO 报价快照
type QuoteDTO struct {
	Mineral   string          `json:"mineral"`
	PriceUSD  decimal.Decimal `json:"precio_usd"`
	Unit      string          `json:"unidad"`
	Source    string          `json:"fuente"`
	QuoteDate time.Time       `json:"fecha_cotizacion"`
}

// ReconciliationDTO 对账结果
type ReconciliationDTO struct {
	Agreed         any             `json:"reporte_acordado"`
	Disagreement   decimal.Decimal `json:"diferencia"`
	RequiresReview bool            `json:"requiere_revision"`
	ReconciledAt   time.Time       `json:"conciliado_en"`
}

// SettlementDTO 结算单
type SettlementDTO struct {
	ID               string                  `json:"id"`
	Kind             domain.Kind             `json:"tipo"`
	State            domain.State            `json:"estado"`
	SocioID          string                  `json:"socio_id"`
	CounterpartyType domain.CounterpartyType `json:"contraparte_tipo"`
	CounterpartyID   string                  `json:"contraparte_id"`
	PrincipalMineral string                  `json:"mineral_principal,omitempty"`
	SettlementDate   time.Time               `json:"fecha_liquidacion"`
	Currency         string                  `json:"moneda"`
	Weight           decimal.Decimal         `json:"peso_liquidado"`
	GrossValue       decimal.Decimal         `json:"valor_bruto"`
	NetValue         decimal.Decimal         `json:"valor_neto"`
	Reconciliation   *ReconciliationDTO      `json:"conciliacion,omitempty"`
	Observations     string                  `json:"observaciones,omitempty"`
	Payment          *domain.Payment         `json:"pago,omitempty"`
	RejectionReason  string                  `json:"motivo_rechazo,omitempty"`
	ApprovedAt       *time.Time              `json:"fecha_aprobacion,omitempty"`
	ClosedAt         *time.Time              `json:"fecha_cierre,omitempty"`
	Items            []ItemLinkDTO           `json:"items"`
	Deductions       []DeductionDTO          `json:"deducciones"`
	Quotes           []QuoteDTO              `json:"cotizaciones"`
	Reports          []LabReportDTO          `json:"reportes,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
}

func toSettlementDTO(s *domain.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:               s.ID,
		Kind:             s.Kind,
		State:            s.State,
		SocioID:          s.SocioID,
		CounterpartyType: s.Counterparty.Type(),
		CounterpartyID:   s.Counterparty.PartyID(),
		PrincipalMineral: s.PrincipalMineral,
		SettlementDate:   s.SettlementDate,
		Currency:         s.Currency,
		Weight:           s.Weight,
		GrossValue:       s.GrossValue.Round(2),
		NetValue:         s.NetValue.Round(2),
		Observations:     s.Observations,
		Payment:          s.Payment,
		RejectionReason:  s.RejectionReason,
		ApprovedAt:       s.ApprovedAt,
		ClosedAt:         s.ClosedAt,
		Items:            make([]ItemLinkDTO, 0, len(s.Items)),
		Deductions:       make([]DeductionDTO, 0, len(s.Deductions)),
		Quotes:           make([]QuoteDTO, 0, len(s.Quotes)),
		CreatedAt:        s.CreatedAt,
	}
	if o := s.Reconciliation; o != nil {
		r := &ReconciliationDTO{
			Disagreement:   o.Disagreement,
			RequiresReview: o.RequiresReview,
			ReconciledAt:   o.ReconciledAt,
		}
		if o.ComplexLot != nil {
			r.Agreed = o.ComplexLot
		} else {
			r.Agreed = o.Concentrate
		}
		dto.Reconciliation = r
	}
	for _, l := range s.Items {
		dto.Items = append(dto.Items, ItemLinkDTO{
			ID:                   l.ID,
			ItemID:               l.ItemID,
			ItemType:             l.ItemType,
			Weight:               l.Weight,
			SocioReportID:        l.SocioReportID,
			CounterpartyReportID: l.CounterpartyReportID,
		})
	}
	for _, d := range s.Deductions {
		dto.Deductions = append(dto.Deductions, DeductionDTO{
			Code:       d.RuleCode,
			Version:    d.RuleVersion,
			Concept:    d.Concept,
			Base:       d.Base,
			Percentage: d.Percentage,
			BaseAmount: d.BaseAmount,
			Amount:     d.Amount,
			Order:      d.Order,
		})
	}
	for _, q := range s.Quotes {
		dto.Quotes = append(dto.Quotes, QuoteDTO{
			Mineral:   q.Mineral,
			PriceUSD:  q.PriceUSD,
			Unit:      q.Unit,
			Source:    q.Source,
			QuoteDate: q.QuoteDate,
		})
	}
	return dto
}

func toSettlementView(v *application.SettlementView) SettlementDTO {
	dto := toSettlementDTO(v.Settlement)
	dto.Reports = make([]LabReportDTO, 0, len(v.Reports))
	for _, r := range v.Reports {
		dto.Reports = append(dto.Reports, toLabReportDTO(r))
	}
	return dto
}

// LabReportDTO 化验报告
type LabReportDTO struct {
	ID             string             `json:"id"`
	Number         string             `json:"numero"`
	ItemID         string             `json:"item_id,omitempty"`
	SubmittedBy    domain.ReportParty `json:"enviado_por"`
	LabName        string             `json:"laboratorio"`
	AnalyzedAt     *time.Time         `json:"fecha_analisis,omitempty"`
	PrincipalGrade *decimal.Decimal   `json:"ley_mineral_principal,omitempty"`
	SilverGradeGPT *decimal.Decimal   `json:"ley_ag_gmt,omitempty"`
	SilverGradeDM  *decimal.Decimal   `json:"ley_ag_dm,omitempty"`
	LeadGrade      *decimal.Decimal   `json:"ley_pb,omitempty"`
	ZincGrade      *decimal.Decimal   `json:"ley_zn,omitempty"`
	Moisture       *decimal.Decimal   `json:"humedad,omitempty"`
	DocumentURL    string             `json:"url_documento,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

func toLabReportDTO(r *domain.LabReport) LabReportDTO {
	return LabReportDTO{
		ID:             r.ID,
		Number:         r.Number,
		ItemID:         r.ItemID,
		SubmittedBy:    r.SubmittedBy,
		LabName:        r.LabName,
		AnalyzedAt:     r.AnalyzedAt,
		PrincipalGrade: r.PrincipalGrade,
		SilverGradeGPT: r.SilverGradeGPT,
		SilverGradeDM:  r.SilverGradeDM,
		LeadGrade:      r.LeadGrade,
		ZincGrade:      r.ZincGrade,
		Moisture:       r.Moisture,
		DocumentURL:    r.DocumentURL,
		CreatedAt:      r.CreatedAt,
	}
}

// PriceBracketDTO 价格区间
type PriceBracketDTO struct {
	ID               uint64                  `json:"id"`
	CounterpartyType domain.CounterpartyType `json:"contraparte_tipo"`
	CounterpartyID   string                  `json:"contraparte_id"`
	Mineral          string                  `json:"mineral"`
	MinValue         decimal.Decimal         `json:"valor_minimo"`
	MaxValue         decimal.Decimal         `json:"valor_maximo"`
	PriceUSD         decimal.Decimal         `json:"precio_usd"`
	Unit             string                  `json:"unidad,omitempty"`
	ValidFrom        time.Time               `json:"fecha_inicio"`
	ValidTo          *time.Time              `json:"fecha_fin,omitempty"`
	Active           bool                    `json:"activo"`
}

func toBracketDTO(b domain.PriceBracket) PriceBracketDTO {
	return PriceBracketDTO{
		ID:               b.ID,
		CounterpartyType: b.Counterparty.Type(),
		CounterpartyID:   b.Counterparty.PartyID(),
		Mineral:          b.Mineral,
		MinValue:         b.MinValue,
		MaxValue:         b.MaxValue,
		PriceUSD:         b.PriceUSD,
		Unit:             b.Unit,
		ValidFrom:        b.ValidFrom,
		ValidTo:          b.ValidTo,
		Active:           b.Active,
	}
}

// DeductionRuleDTO 扣减规则版本
type DeductionRuleDTO struct {
	Code          string               `json:"codigo"`
	Version       int                  `json:"version"`
	Concept       string               `json:"concepto"`
	DeductionType string               `json:"tipo_deduccion,omitempty"`
	Category      string               `json:"categoria,omitempty"`
	Mineral       *string              `json:"mineral,omitempty"`
	Kind          *string              `json:"tipo_liquidacion,omitempty"`
	Percentage    decimal.Decimal      `json:"porcentaje"`
	FixedAmount   decimal.Decimal      `json:"monto_fijo"`
	Base          domain.DeductionBase `json:"base_calculo"`
	Active        bool                 `json:"activo"`
	Order         int                  `json:"orden"`
	ValidFrom     time.Time            `json:"fecha_inicio"`
	ValidTo       *time.Time           `json:"fecha_fin,omitempty"`
	LegalSource   string               `json:"fuente_legal,omitempty"`
}

func toRuleDTO(r domain.DeductionRule) DeductionRuleDTO {
	return DeductionRuleDTO{
		Code:          r.Code,
		Version:       r.Version,
		Concept:       r.Concept,
		DeductionType: r.DeductionType,
		Category:      r.Category,
		Mineral:       r.Mineral,
		Kind:          r.Kind,
		Percentage:    r.Percentage,
		FixedAmount:   r.FixedAmount,
		Base:          r.Base,
		Active:        r.Active,
		Order:         r.Order,
		ValidFrom:     r.ValidFrom,
		ValidTo:       r.ValidTo,
		LegalSource:   r.LegalSource,
	}
}

func toRuleDTOs(rules []domain.DeductionRule) []DeductionRuleDTO {
	out := make([]DeductionRuleDTO, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleDTO(r))
	}
	return out
}
