package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SettlementPO 结算单持久化对象
type SettlementPO struct {
	gorm.Model
	SettlementID     string          `gorm:"column:settlement_id;type:varchar(32);uniqueIndex;not null"`
	Kind             string          `gorm:"column:tipo;type:varchar(32);index;not null"`
	State            string          `gorm:"column:estado;type:varchar(32);index;not null"`
	SocioID          string          `gorm:"column:socio_id;type:varchar(64);index;not null"`
	CounterpartyType string          `gorm:"column:counterparty_type;type:varchar(20);index:idx_counterparty;not null"`
	CounterpartyID   string          `gorm:"column:counterparty_id;type:varchar(64);index:idx_counterparty;not null"`
	PrincipalMineral string          `gorm:"column:mineral_principal;type:varchar(8)"`
	SettlementDate   time.Time       `gorm:"column:fecha_liquidacion;not null"`
	Currency         string          `gorm:"column:moneda;type:varchar(3);not null"`
	Weight           decimal.Decimal `gorm:"column:peso_liquidado;type:decimal(20,4);not null"`
	GrossValue       decimal.Decimal `gorm:"column:valor_bruto;type:decimal(20,2);not null"`
	NetValue         decimal.Decimal `gorm:"column:valor_neto;type:decimal(20,2);not null"`
	Extras           datatypes.JSON  `gorm:"column:extras"`
	Observations     string          `gorm:"column:observaciones;type:text"`
	PaymentMethod    string          `gorm:"column:metodo_pago;type:varchar(64)"`
	ReceiptNumber    string          `gorm:"column:numero_comprobante;type:varchar(64)"`
	ReceiptURL       string          `gorm:"column:url_comprobante;type:varchar(512)"`
	PaidAt           *time.Time      `gorm:"column:fecha_pago"`
	RejectionReason  string          `gorm:"column:motivo_rechazo;type:text"`
	ApprovedAt       *time.Time      `gorm:"column:fecha_aprobacion"`
	ClosedAt         *time.Time      `gorm:"column:fecha_cierre"`
}

func (SettlementPO) TableName() string {
	return "liquidaciones"
}

// FromDomain 不处理 Extras，由仓储合并写入
func (po *SettlementPO) FromDomain(s *domain.Settlement) {
	po.SettlementID = s.ID
	po.Kind = string(s.Kind)
	po.State = string(s.State)
	po.SocioID = s.SocioID
	po.CounterpartyType = string(s.Counterparty.Type())
	po.CounterpartyID = s.Counterparty.PartyID()
	po.PrincipalMineral = s.PrincipalMineral
	po.SettlementDate = s.SettlementDate
	po.Currency = s.Currency
	po.Weight = s.Weight
	po.GrossValue = s.GrossValue
	po.NetValue = s.NetValue
	po.Observations = s.Observations
	po.RejectionReason = s.RejectionReason
	po.ApprovedAt = s.ApprovedAt
	po.ClosedAt = s.ClosedAt
	if s.Payment != nil {
		paidAt := s.Payment.PaidAt
		po.PaymentMethod = s.Payment.Method
		po.ReceiptNumber = s.Payment.ReceiptNumber
		po.ReceiptURL = s.Payment.ReceiptURL
		po.PaidAt = &paidAt
	}
	if !s.CreatedAt.IsZero() && po.CreatedAt.IsZero() {
		po.CreatedAt = s.CreatedAt
	}
}

func (po *SettlementPO) ToDomain() (*domain.Settlement, error) {
	cp, err := domain.NewCounterparty(domain.CounterpartyType(po.CounterpartyType), po.CounterpartyID)
	if err != nil {
		return nil, err
	}
	s := &domain.Settlement{
		ID:               po.SettlementID,
		Kind:             domain.Kind(po.Kind),
		State:            domain.State(po.State),
		SocioID:          po.SocioID,
		Counterparty:     cp,
		PrincipalMineral: po.PrincipalMineral,
		SettlementDate:   po.SettlementDate.UTC(),
		Currency:         po.Currency,
		Weight:           po.Weight,
		GrossValue:       po.GrossValue,
		NetValue:         po.NetValue,
		Observations:     po.Observations,
		RejectionReason:  po.RejectionReason,
		ApprovedAt:       po.ApprovedAt,
		ClosedAt:         po.ClosedAt,
		CreatedAt:        po.CreatedAt,
		UpdatedAt:        po.UpdatedAt,
	}
	if po.PaidAt != nil {
		s.Payment = &domain.Payment{
			Method:        po.PaymentMethod,
			ReceiptNumber: po.ReceiptNumber,
			ReceiptURL:    po.ReceiptURL,
			PaidAt:        *po.PaidAt,
		}
	}
	if s.Extras, s.Reconciliation, err = decodeExtras(s.Kind, po.Extras); err != nil {
		return nil, err
	}
	return s, nil
}

// ItemLinkPO 结算单与实物的关联，双方报告各占一列
type ItemLinkPO struct {
	LinkID               string          `gorm:"column:id;type:varchar(36);primaryKey"`
	SettlementID         string          `gorm:"column:settlement_id;type:varchar(32);uniqueIndex:uk_liquidacion_item;not null"`
	ItemID               string          `gorm:"column:item_id;type:varchar(64);uniqueIndex:uk_liquidacion_item;not null"`
	ItemType             string          `gorm:"column:item_tipo;type:varchar(16);not null"`
	Weight               decimal.Decimal `gorm:"column:peso;type:decimal(20,4);not null"`
	SocioReportID        *string         `gorm:"column:reporte_socio_id;type:varchar(36)"`
	CounterpartyReportID *string         `gorm:"column:reporte_contraparte_id;type:varchar(36)"`
	CreatedAt            time.Time       `gorm:"column:created_at"`
}

func (ItemLinkPO) TableName() string {
	return "liquidacion_items"
}

func linkFromDomain(l *domain.ItemLink) *ItemLinkPO {
	return &ItemLinkPO{
		LinkID:               l.ID,
		SettlementID:         l.SettlementID,
		ItemID:               l.ItemID,
		ItemType:             string(l.ItemType),
		Weight:               l.Weight,
		SocioReportID:        l.SocioReportID,
		CounterpartyReportID: l.CounterpartyReportID,
		CreatedAt:            l.CreatedAt,
	}
}

func (po *ItemLinkPO) ToDomain() *domain.ItemLink {
	return &domain.ItemLink{
		ID:                   po.LinkID,
		SettlementID:         po.SettlementID,
		ItemID:               po.ItemID,
		ItemType:             domain.ItemType(po.ItemType),
		Weight:               po.Weight,
		SocioReportID:        po.SocioReportID,
		CounterpartyReportID: po.CounterpartyReportID,
		CreatedAt:            po.CreatedAt,
	}
}

// LabReportPO 化验报告持久化对象，(settlement_id, enviado_por) 唯一
type LabReportPO struct {
	ReportID     string `gorm:"column:id;type:varchar(36);primaryKey"`
	Number       string `gorm:"column:numero;type:varchar(64);uniqueIndex;not null"`
	SettlementID string `gorm:"column:settlement_id;type:varchar(32);uniqueIndex:uk_reporte_parte;not null"`
	SubmittedBy  string `gorm:"column:enviado_por;type:varchar(16);uniqueIndex:uk_reporte_parte;not null"`
	ItemID       string `gorm:"column:item_id;type:varchar(64)"`
	SubmitterID  string `gorm:"column:usuario_id;type:varchar(64)"`
	Kind         string `gorm:"column:tipo;type:varchar(32);not null"`
	LabName      string `gorm:"column:laboratorio;type:varchar(128)"`

	PackagedAt   *time.Time `gorm:"column:fecha_empaque"`
	ReceivedAt   *time.Time `gorm:"column:fecha_recepcion"`
	DispatchedAt *time.Time `gorm:"column:fecha_despacho"`
	AnalyzedAt   *time.Time `gorm:"column:fecha_analisis"`

	PrincipalGrade *decimal.Decimal `gorm:"column:ley_mineral_principal;type:decimal(10,4)"`
	SilverGradeGPT *decimal.Decimal `gorm:"column:ley_ag_gmt;type:decimal(12,4)"`
	SilverGradeDM  *decimal.Decimal `gorm:"column:ley_ag_dm;type:decimal(12,4)"`
	LeadGrade      *decimal.Decimal `gorm:"column:ley_pb;type:decimal(10,4)"`
	ZincGrade      *decimal.Decimal `gorm:"column:ley_zn;type:decimal(10,4)"`
	Moisture       *decimal.Decimal `gorm:"column:humedad;type:decimal(10,4)"`

	SackCount     *int             `gorm:"column:numero_sacos"`
	SackWeight    *decimal.Decimal `gorm:"column:peso_por_saco;type:decimal(12,4)"`
	PackagingType string           `gorm:"column:tipo_empaque;type:varchar(64)"`
	DocumentURL   string           `gorm:"column:url_documento;type:varchar(512)"`

	SocioSubmitted          bool       `gorm:"column:enviado_socio;not null;default:false"`
	SocioSubmittedAt        *time.Time `gorm:"column:fecha_envio_socio"`
	CounterpartySubmitted   bool       `gorm:"column:enviado_contraparte;not null;default:false"`
	CounterpartySubmittedAt *time.Time `gorm:"column:fecha_envio_contraparte"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (LabReportPO) TableName() string {
	return "reportes_quimicos"
}

func reportFromDomain(r *domain.LabReport) *LabReportPO {
	return &LabReportPO{
		ReportID:                r.ID,
		Number:                  r.Number,
		SettlementID:            r.SettlementID,
		SubmittedBy:             string(r.SubmittedBy),
		ItemID:                  r.ItemID,
		SubmitterID:             r.SubmitterID,
		Kind:                    string(r.Kind),
		LabName:                 r.LabName,
		PackagedAt:              r.PackagedAt,
		ReceivedAt:              r.ReceivedAt,
		DispatchedAt:            r.DispatchedAt,
		AnalyzedAt:              r.AnalyzedAt,
		PrincipalGrade:          r.PrincipalGrade,
		SilverGradeGPT:          r.SilverGradeGPT,
		SilverGradeDM:           r.SilverGradeDM,
		LeadGrade:               r.LeadGrade,
		ZincGrade:               r.ZincGrade,
		Moisture:                r.Moisture,
		SackCount:               r.SackCount,
		SackWeight:              r.SackWeight,
		PackagingType:           r.PackagingType,
		DocumentURL:             r.DocumentURL,
		SocioSubmitted:          r.SocioSubmitted,
		SocioSubmittedAt:        r.SocioSubmittedAt,
		CounterpartySubmitted:   r.CounterpartySubmitted,
		CounterpartySubmittedAt: r.CounterpartySubmittedAt,
		CreatedAt:               r.CreatedAt,
	}
}

func (po *LabReportPO) ToDomain() *domain.LabReport {
	return &domain.LabReport{
		ID:                      po.ReportID,
		Number:                  po.Number,
		SettlementID:            po.SettlementID,
		ItemID:                  po.ItemID,
		SubmittedBy:             domain.ReportParty(po.SubmittedBy),
		SubmitterID:             po.SubmitterID,
		Kind:                    domain.Kind(po.Kind),
		LabName:                 po.LabName,
		PackagedAt:              po.PackagedAt,
		ReceivedAt:              po.ReceivedAt,
		DispatchedAt:            po.DispatchedAt,
		AnalyzedAt:              po.AnalyzedAt,
		PrincipalGrade:          po.PrincipalGrade,
		SilverGradeGPT:          po.SilverGradeGPT,
		SilverGradeDM:           po.SilverGradeDM,
		LeadGrade:               po.LeadGrade,
		ZincGrade:               po.ZincGrade,
		Moisture:                po.Moisture,
		SackCount:               po.SackCount,
		SackWeight:              po.SackWeight,
		PackagingType:           po.PackagingType,
		DocumentURL:             po.DocumentURL,
		SocioSubmitted:          po.SocioSubmitted,
		SocioSubmittedAt:        po.SocioSubmittedAt,
		CounterpartySubmitted:   po.CounterpartySubmitted,
		CounterpartySubmittedAt: po.CounterpartySubmittedAt,
		CreatedAt:               po.CreatedAt,
	}
}

// DeductionRecordPO 扣减明细，只追加
type DeductionRecordPO struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	SettlementID string          `gorm:"column:settlement_id;type:varchar(32);index;not null"`
	RuleCode     string          `gorm:"column:codigo;type:varchar(32);not null"`
	RuleVersion  int             `gorm:"column:version;not null"`
	Concept      string          `gorm:"column:concepto;type:varchar(128);not null"`
	Base         string          `gorm:"column:base_calculo;type:varchar(32);not null"`
	Percentage   decimal.Decimal `gorm:"column:porcentaje;type:decimal(10,4)"`
	FixedAmount  decimal.Decimal `gorm:"column:monto_fijo;type:decimal(20,2)"`
	BaseAmount   decimal.Decimal `gorm:"column:monto_base;type:decimal(20,2)"`
	Amount       decimal.Decimal `gorm:"column:monto_deducido;type:decimal(20,2);not null"`
	Order        int             `gorm:"column:orden;not null"`
	Currency     string          `gorm:"column:moneda;type:varchar(3);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
}

func (DeductionRecordPO) TableName() string {
	return "liquidacion_deducciones"
}

func deductionFromDomain(d domain.DeductionRecord) *DeductionRecordPO {
	return &DeductionRecordPO{
		ID:           d.ID,
		SettlementID: d.SettlementID,
		RuleCode:     d.RuleCode,
		RuleVersion:  d.RuleVersion,
		Concept:      d.Concept,
		Base:         string(d.Base),
		Percentage:   d.Percentage,
		FixedAmount:  d.FixedAmount,
		BaseAmount:   d.BaseAmount,
		Amount:       d.Amount,
		Order:        d.Order,
		Currency:     d.Currency,
		CreatedAt:    d.CreatedAt,
	}
}

func (po *DeductionRecordPO) ToDomain() domain.DeductionRecord {
	return domain.DeductionRecord{
		ID:           po.ID,
		SettlementID: po.SettlementID,
		RuleCode:     po.RuleCode,
		RuleVersion:  po.RuleVersion,
		Concept:      po.Concept,
		Base:         domain.DeductionBase(po.Base),
		Percentage:   po.Percentage,
		FixedAmount:  po.FixedAmount,
		BaseAmount:   po.BaseAmount,
		Amount:       po.Amount,
		Order:        po.Order,
		Currency:     po.Currency,
		CreatedAt:    po.CreatedAt,
	}
}

// QuoteSnapshotPO 结算报价快照
type QuoteSnapshotPO struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	SettlementID string          `gorm:"column:settlement_id;type:varchar(32);index;not null"`
	Mineral      string          `gorm:"column:mineral;type:varchar(8);not null"`
	PriceUSD     decimal.Decimal `gorm:"column:precio_usd;type:decimal(20,4);not null"`
	Unit         string          `gorm:"column:unidad;type:varchar(16);not null"`
	Source       string          `gorm:"column:fuente;type:varchar(64);not null"`
	QuoteDate    time.Time       `gorm:"column:fecha_cotizacion;not null"`
}

func (QuoteSnapshotPO) TableName() string {
	return "liquidacion_cotizaciones"
}

func quoteFromDomain(q domain.QuoteSnapshot) *QuoteSnapshotPO {
	return &QuoteSnapshotPO{
		ID:           q.ID,
		SettlementID: q.SettlementID,
		Mineral:      q.Mineral,
		PriceUSD:     q.PriceUSD,
		Unit:         q.Unit,
		Source:       q.Source,
		QuoteDate:    q.QuoteDate,
	}
}

func (po *QuoteSnapshotPO) ToDomain() domain.QuoteSnapshot {
	return domain.QuoteSnapshot{
		ID:           po.ID,
		SettlementID: po.SettlementID,
		Mineral:      po.Mineral,
		PriceUSD:     po.PriceUSD,
		Unit:         po.Unit,
		Source:       po.Source,
		QuoteDate:    po.QuoteDate.UTC(),
	}
}

// PriceBracketPO 价格区间持久化对象
type PriceBracketPO struct {
	gorm.Model
	CounterpartyType string          `gorm:"column:counterparty_type;type:varchar(20);index:idx_scope;not null"`
	CounterpartyID   string          `gorm:"column:counterparty_id;type:varchar(64);index:idx_scope;not null"`
	Mineral          string          `gorm:"column:mineral;type:varchar(8);index:idx_scope;not null"`
	MinValue         decimal.Decimal `gorm:"column:valor_minimo;type:decimal(12,4);not null"`
	MaxValue         decimal.Decimal `gorm:"column:valor_maximo;type:decimal(12,4);not null"`
	PriceUSD         decimal.Decimal `gorm:"column:precio_usd;type:decimal(20,4);not null"`
	Unit             string          `gorm:"column:unidad;type:varchar(16)"`
	ValidFrom        time.Time       `gorm:"column:fecha_inicio;not null"`
	ValidTo          *time.Time      `gorm:"column:fecha_fin"`
	Active           bool            `gorm:"column:activo;not null;default:true"`
}

func (PriceBracketPO) TableName() string {
	return "tablas_precios"
}

func (po *PriceBracketPO) FromDomain(b *domain.PriceBracket) {
	po.ID = uint(b.ID)
	po.CounterpartyType = string(b.Counterparty.Type())
	po.CounterpartyID = b.Counterparty.PartyID()
	po.Mineral = b.Mineral
	po.MinValue = b.MinValue
	po.MaxValue = b.MaxValue
	po.PriceUSD = b.PriceUSD
	po.Unit = b.Unit
	po.ValidFrom = b.ValidFrom
	po.ValidTo = b.ValidTo
	po.Active = b.Active
	if !b.CreatedAt.IsZero() {
		po.CreatedAt = b.CreatedAt
	}
}

func (po *PriceBracketPO) ToDomain() (domain.PriceBracket, error) {
	cp, err := domain.NewCounterparty(domain.CounterpartyType(po.CounterpartyType), po.CounterpartyID)
	if err != nil {
		return domain.PriceBracket{}, err
	}
	return domain.PriceBracket{
		ID:           uint64(po.ID),
		Counterparty: cp,
		Mineral:      po.Mineral,
		MinValue:     po.MinValue,
		MaxValue:     po.MaxValue,
		PriceUSD:     po.PriceUSD,
		Unit:         po.Unit,
		ValidFrom:    po.ValidFrom.UTC(),
		ValidTo:      po.ValidTo,
		Active:       po.Active,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}, nil
}

// DeductionRulePO 扣减规则版本，(codigo, version) 唯一，不做更新
type DeductionRulePO struct {
	ID            uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Code          string          `gorm:"column:codigo;type:varchar(32);uniqueIndex:uk_codigo_version;not null"`
	Version       int             `gorm:"column:version;uniqueIndex:uk_codigo_version;not null"`
	Concept       string          `gorm:"column:concepto;type:varchar(128);not null"`
	DeductionType string          `gorm:"column:tipo_deduccion;type:varchar(32)"`
	Category      string          `gorm:"column:categoria;type:varchar(32)"`
	Mineral       *string         `gorm:"column:mineral;type:varchar(8)"`
	Kind          *string         `gorm:"column:tipo_liquidacion;type:varchar(32)"`
	Percentage    decimal.Decimal `gorm:"column:porcentaje;type:decimal(10,4)"`
	FixedAmount   decimal.Decimal `gorm:"column:monto_fijo;type:decimal(20,2)"`
	Base          string          `gorm:"column:base_calculo;type:varchar(32);not null"`
	Active        bool            `gorm:"column:activo;not null"`
	Order         int             `gorm:"column:orden;not null"`
	ValidFrom     time.Time       `gorm:"column:fecha_inicio;index;not null"`
	ValidTo       *time.Time      `gorm:"column:fecha_fin"`
	Notes         string          `gorm:"column:notas;type:text"`
	LegalSource   string          `gorm:"column:fuente_legal;type:varchar(255)"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (DeductionRulePO) TableName() string {
	return "deducciones_configuracion"
}

func ruleFromDomain(r *domain.DeductionRule) *DeductionRulePO {
	return &DeductionRulePO{
		ID:            r.ID,
		Code:          r.Code,
		Version:       r.Version,
		Concept:       r.Concept,
		DeductionType: r.DeductionType,
		Category:      r.Category,
		Mineral:       r.Mineral,
		Kind:          r.Kind,
		Percentage:    r.Percentage,
		FixedAmount:   r.FixedAmount,
		Base:          string(r.Base),
		Active:        r.Active,
		Order:         r.Order,
		ValidFrom:     r.ValidFrom,
		ValidTo:       r.ValidTo,
		Notes:         r.Notes,
		LegalSource:   r.LegalSource,
		CreatedAt:     r.CreatedAt,
	}
}

func (po *DeductionRulePO) ToDomain() domain.DeductionRule {
	return domain.DeductionRule{
		ID:            po.ID,
		Code:          po.Code,
		Version:       po.Version,
		Concept:       po.Concept,
		DeductionType: po.DeductionType,
		Category:      po.Category,
		Mineral:       po.Mineral,
		Kind:          po.Kind,
		Percentage:    po.Percentage,
		FixedAmount:   po.FixedAmount,
		Base:          domain.DeductionBase(po.Base),
		Active:        po.Active,
		Order:         po.Order,
		ValidFrom:     po.ValidFrom.UTC(),
		ValidTo:       po.ValidTo,
		Notes:         po.Notes,
		LegalSource:   po.LegalSource,
		CreatedAt:     po.CreatedAt,
	}
}

// PhysicalItemPO 精矿批次与原矿批共用的最小列集，表名按实物类型选择；
// 两张表共用同一 schema，不声明命名索引
type PhysicalItemPO struct {
	ItemID    string          `gorm:"column:id;type:varchar(64);primaryKey"`
	SocioID   string          `gorm:"column:socio_id;type:varchar(64);not null"`
	State     string          `gorm:"column:estado;type:varchar(32);not null"`
	Mineral   string          `gorm:"column:mineral;type:varchar(8)"`
	Weight    decimal.Decimal `gorm:"column:peso;type:decimal(20,4)"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

// AuditPO 审计记录
type AuditPO struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string         `gorm:"column:usuario_id;type:varchar(64);index"`
	Role      string         `gorm:"column:rol;type:varchar(32)"`
	PartyID   string         `gorm:"column:party_id;type:varchar(64)"`
	Entity    string         `gorm:"column:entidad;type:varchar(64);index:idx_entidad;not null"`
	EntityID  string         `gorm:"column:entidad_id;type:varchar(64);index:idx_entidad;not null"`
	Action    string         `gorm:"column:accion;type:varchar(64);not null"`
	Before    datatypes.JSON `gorm:"column:antes"`
	After     datatypes.JSON `gorm:"column:despues"`
	IP        string         `gorm:"column:ip_origen;type:varchar(64)"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (AuditPO) TableName() string {
	return "auditoria"
}
