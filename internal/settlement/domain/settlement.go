// Package domain 结算（liquidación）引擎领域模型：状态机、化验对账、价格区间与扣减流水线
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 结算类型
type Kind string

const (
	KindToll            Kind = "servicio_procesamiento" // 加工费
	KindConcentrateSale Kind = "venta_concentrado"      // 精矿销售
	KindComplexLotSale  Kind = "venta_lote_complejo"    // 原矿批销售
)

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	switch k {
	case KindToll, KindConcentrateSale, KindComplexLotSale:
		return true
	}
	return false
}

// IsSale 是否为销售类结算
func (k Kind) IsSale() bool {
	return k == KindConcentrateSale || k == KindComplexLotSale
}

// CounterpartyType 该类型要求的对手方类型
func (k Kind) CounterpartyType() CounterpartyType {
	if k == KindToll {
		return CounterpartyPlant
	}
	return CounterpartyTrading
}

// ItemType 该类型关联的实物类型
func (k Kind) ItemType() ItemType {
	if k == KindComplexLotSale {
		return ItemLot
	}
	return ItemConcentrate
}

// State 结算状态
type State string

const (
	StatePendingApproval   State = "pendiente_aprobacion"
	StateApproved          State = "aprobado"
	StateAwaitingReports   State = "esperando_reportes"
	StateAwaitingClose     State = "esperando_cierre_venta"
	StateClosed            State = "cerrado"
	StatePaid              State = "pagado"
	StateRejected          State = "rechazado"
	StatePendingProcessing State = "pendiente_procesamiento"
	StateAwaitingPayment   State = "esperando_pago"
)

// IsTerminal 终态不可再迁移
func (s State) IsTerminal() bool {
	return s == StatePaid || s == StateRejected
}

// transitions 每种结算类型的合法迁移图
var transitions = map[Kind]map[State][]State{
	KindConcentrateSale: saleGraph,
	KindComplexLotSale:  saleGraph,
	KindToll: {
		StatePendingProcessing: {StateAwaitingPayment},
		StateAwaitingPayment:   {StatePaid},
	},
}

var saleGraph = map[State][]State{
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StateAwaitingReports},
	StateAwaitingReports: {StateAwaitingClose},
	StateAwaitingClose:   {StateClosed},
	StateClosed:          {StatePaid},
}

// CanTransition 迁移图中是否存在 from → to
func CanTransition(kind Kind, from, to State) bool {
	for _, s := range transitions[kind][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment 付款信息
type Payment struct {
	Method        string    `json:"metodo_pago"`
	ReceiptNumber string    `json:"numero_comprobante"`
	ReceiptURL    string    `json:"url_comprobante"`
	PaidAt        time.Time `json:"fecha_pago"`
}

// Validate 付款方式、凭证号、凭证链接均为必填
func (p Payment) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Method) == "" {
		missing = append(missing, "metodo_pago")
	}
	if strings.TrimSpace(p.ReceiptNumber) == "" {
		missing = append(missing, "numero_comprobante")
	}
	if strings.TrimSpace(p.ReceiptURL) == "" {
		missing = append(missing, "url_comprobante")
	}
	if len(missing) > 0 {
		return NewValidationError(strings.Join(missing, ", "), "requerido para registrar el pago")
	}
	return nil
}

// Settlement 结算单聚合根
type Settlement struct {
	ID               string
	Kind             Kind
	State            State
	SocioID          string
	Counterparty     Counterparty
	PrincipalMineral string // 精矿主矿物，例如 Pb、Zn、Sn
	SettlementDate   time.Time
	Currency         string
	Weight           decimal.Decimal // 结算重量（吨）
	GrossValue       decimal.Decimal
	NetValue         decimal.Decimal

	Reconciliation *ReconciliationOutcome
	// Extras 非对账用途的扩展字段，持久化时与对账结果合并
	Extras map[string]any

	Observations    string
	Payment         *Payment
	RejectionReason string
	ApprovedAt      *time.Time
	ClosedAt        *time.Time

	Items      []*ItemLink
	Deductions []DeductionRecord
	Quotes     []QuoteSnapshot

	CreatedAt time.Time
	UpdatedAt time.Time

	events []SettlementEvent
}

// NewSaleSettlement 创建销售结算单，状态为待审批
func NewSaleSettlement(id string, kind Kind, socioID string, buyer TradingCompany, principalMineral, currency string,
	date time.Time, items []*ItemLink, actor Actor, now time.Time) (*Settlement, error) {
	if !kind.IsSale() {
		return nil, NewValidationError("tipo", fmt.Sprintf("%s no es un tipo de venta", kind))
	}
	if !actor.IsSocio(socioID) {
		return nil, &ForbiddenError{Action: "crear liquidación de venta", Reason: "solo el socio propietario"}
	}
	if buyer.ID == "" {
		return nil, NewValidationError("comercializadora_id", "requerido")
	}
	if kind == KindConcentrateSale && principalMineral == "" {
		return nil, NewValidationError("mineral_principal", "requerido para venta de concentrado")
	}
	s, err := newSettlement(id, kind, socioID, buyer, currency, date, items, now)
	if err != nil {
		return nil, err
	}
	s.PrincipalMineral = principalMineral
	s.State = StatePendingApproval
	s.observe(actor, "crear", fmt.Sprintf("liquidación de %s creada por %s t", kind, s.Weight.String()), now)
	s.record(EventCreated, "", StatePendingApproval, actor, now)
	return s, nil
}

// NewTollSettlement 创建加工费结算单，加工费即毛值与净值
func NewTollSettlement(id, socioID string, plant ProcessingPlant, currency string, date time.Time,
	fee decimal.Decimal, items []*ItemLink, actor Actor, now time.Time) (*Settlement, error) {
	if !actor.Represents(plant) {
		return nil, &ForbiddenError{Action: "crear liquidación de servicio", Reason: "solo la planta que procesó"}
	}
	if socioID == "" {
		return nil, NewValidationError("socio_id", "requerido")
	}
	if !fee.IsPositive() {
		return nil, NewValidationError("costo_procesamiento", "debe ser positivo")
	}
	s, err := newSettlement(id, KindToll, socioID, plant, currency, date, items, now)
	if err != nil {
		return nil, err
	}
	s.GrossValue = fee.Round(2)
	s.NetValue = s.GrossValue
	s.State = StatePendingProcessing
	s.observe(actor, "crear", fmt.Sprintf("servicio de procesamiento por %s %s", s.GrossValue.StringFixed(2), currency), now)
	s.record(EventCreated, "", StatePendingProcessing, actor, now)
	return s, nil
}

func newSettlement(id string, kind Kind, socioID string, cp Counterparty, currency string,
	date time.Time, items []*ItemLink, now time.Time) (*Settlement, error) {
	if id == "" {
		return nil, NewValidationError("id", "requerido")
	}
	if cp.Type() != kind.CounterpartyType() {
		return nil, NewValidationError("contraparte", fmt.Sprintf("%s requiere %s", kind, kind.CounterpartyType()))
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "se requiere al menos un item")
	}
	if currency == "" {
		currency = "USD"
	}
	if date.IsZero() {
		date = now
	}

	weight := decimal.Zero
	seen := make(map[string]struct{}, len(items))
	for _, l := range items {
		if !l.Weight.IsPositive() {
			return nil, NewValidationError("peso", fmt.Sprintf("item %s: debe ser positivo", l.ItemID))
		}
		if _, dup := seen[l.ItemID]; dup {
			return nil, NewValidationError("items", fmt.Sprintf("item %s repetido", l.ItemID))
		}
		seen[l.ItemID] = struct{}{}
		l.SettlementID = id
		l.ItemType = kind.ItemType()
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		weight = weight.Add(l.Weight)
	}

	return &Settlement{
		ID:             id,
		Kind:           kind,
		SocioID:        socioID,
		Counterparty:   cp,
		SettlementDate: dateOnly(date),
		Currency:       currency,
		Weight:         weight,
		Extras:         map[string]any{},
		Items:          items,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// requireCounterparty 仅对手方可操作
func (s *Settlement) requireCounterparty(actor Actor, action string) error {
	if !actor.Represents(s.Counterparty) {
		return &ForbiddenError{Action: action, Reason: fmt.Sprintf("solo %s %s", s.Counterparty.Type(), s.Counterparty.PartyID())}
	}
	return nil
}

// requireSocio 仅所属 socio 可操作
func (s *Settlement) requireSocio(actor Actor, action string) error {
	if !actor.IsSocio(s.SocioID) {
		return &ForbiddenError{Action: action, Reason: "solo el socio " + s.SocioID}
	}
	return nil
}

// requireState 当前状态必须属于 expected
func (s *Settlement) requireState(action string, expected ...State) error {
	for _, st := range expected {
		if s.State == st {
			return nil
		}
	}
	return &InvalidTransitionError{SettlementID: s.ID, Action: action, Current: s.State, Expected: expected}
}

// moveTo 迁移状态并记录观察日志与事件，调用前须已通过守卫
func (s *Settlement) moveTo(to State, actor Actor, action, note string, now time.Time) error {
	from := s.State
	if !CanTransition(s.Kind, from, to) {
		return &InvalidTransitionError{SettlementID: s.ID, Action: action, Current: from, Expected: sourcesOf(s.Kind, to)}
	}
	s.State = to
	s.UpdatedAt = now
	s.observe(actor, action, note, now)
	s.record(eventFor(to), from, to, actor, now)
	return nil
}

func sourcesOf(kind Kind, to State) []State {
	var out []State
	for from, targets := range transitions[kind] {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// Approve 对手方审批通过
func (s *Settlement) Approve(actor Actor, now time.Time) error {
	const action = "aprobar"
	if err := s.requireCounterparty(actor, action); err != nil {
		return err
	}
	if err := s.requireState(action, StatePendingApproval); err != nil {
		return err
	}
	t := now
	s.ApprovedAt = &t
	return s.moveTo(StateApproved, actor, action, "liquidación aprobada", now)
}

// Reject 对手方拒绝，须给出原因；实物回退由应用层按 ItemsToRevert 执行
func (s *Settlement) Reject(actor Actor, reason string, now time.Time) error {
	const action = "rechazar"
	if err := s.requireCounterparty(actor, action); err != nil {
		return err
	}
	if err := s.requireState(action, StatePendingApproval); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("motivo", "requerido para rechazar")
	}
	s.RejectionReason = reason
	return s.moveTo(StateRejected, actor, action, "motivo: "+reason, now)
}

// PartyOf 判断操作者在本结算单中的报告方身份
func (s *Settlement) PartyOf(actor Actor) (ReportParty, error) {
	switch {
	case actor.IsSocio(s.SocioID):
		return PartySocio, nil
	case actor.Represents(s.Counterparty):
		return PartyCounterparty, nil
	}
	return "", &ForbiddenError{Action: "enviar reporte químico", Reason: "no es parte de la liquidación"}
}

// AcceptReport 登记一方的化验报告。审批后的第一份报告把状态推进到等待报告。
// itemID 为空时挂到第一条关联。
func (s *Settlement) AcceptReport(actor Actor, party ReportParty, itemID, reportID, reportNumber string, now time.Time) (*ItemLink, error) {
	const action = "enviar reporte químico"
	if err := s.requireState(action, StateApproved, StateAwaitingReports); err != nil {
		return nil, err
	}
	for _, l := range s.Items {
		if l.ReportID(party) != nil {
			return nil, &DuplicateSubmissionError{SettlementID: s.ID, Party: party}
		}
	}

	link := s.link(itemID)
	if link == nil {
		return nil, NewNotFoundError("item de liquidación", itemID)
	}
	if err := link.Attach(party, reportID); err != nil {
		return nil, err
	}

	note := fmt.Sprintf("reporte %s enviado por %s", reportNumber, party)
	if s.State == StateApproved {
		if err := s.moveTo(StateAwaitingReports, actor, action, note, now); err != nil {
			return nil, err
		}
	} else {
		s.observe(actor, action, note, now)
		s.UpdatedAt = now
	}
	return link, nil
}

func (s *Settlement) link(itemID string) *ItemLink {
	if len(s.Items) == 0 {
		return nil
	}
	if itemID == "" {
		return s.Items[0]
	}
	for _, l := range s.Items {
		if l.ItemID == itemID {
			return l
		}
	}
	return nil
}

// ReportIDs 返回双方已挂接的报告
func (s *Settlement) ReportIDs() (socio, counterparty *string) {
	for _, l := range s.Items {
		if l.SocioReportID != nil && socio == nil {
			socio = l.SocioReportID
		}
		if l.CounterpartyReportID != nil && counterparty == nil {
			counterparty = l.CounterpartyReportID
		}
	}
	return socio, counterparty
}

// ApplyReconciliation 写入对账结果并进入等待结算关闭
func (s *Settlement) ApplyReconciliation(outcome *ReconciliationOutcome, actor Actor, now time.Time) error {
	const action = "conciliar reportes"
	if err := s.requireState(action, StateAwaitingReports); err != nil {
		return err
	}
	if outcome == nil || outcome.Kind != s.Kind {
		return NewValidationError("conciliacion", "resultado no corresponde al tipo de liquidación")
	}
	s.Reconciliation = outcome
	note := fmt.Sprintf("diferencia %s", outcome.Disagreement.String())
	if outcome.RequiresReview {
		note += ", requiere revisión"
	}
	return s.moveTo(StateAwaitingClose, actor, action, note, now)
}

// CheckClose 关闭前的守卫，计算估值之前调用
func (s *Settlement) CheckClose(actor Actor) error {
	const action = "cerrar"
	if err := s.requireSocio(actor, action); err != nil {
		return err
	}
	if err := s.requireState(action, StateAwaitingClose); err != nil {
		return err
	}
	if s.Reconciliation == nil {
		return NewValidationError("conciliacion", "no hay reporte acordado")
	}
	return nil
}

// Close socio 关闭结算，写入报价快照、扣减明细与毛值/净值
func (s *Settlement) Close(actor Actor, v *Valuation, now time.Time) error {
	if err := s.CheckClose(actor); err != nil {
		return err
	}
	if v == nil {
		return NewValidationError("valoracion", "requerida")
	}
	s.GrossValue = v.Gross
	s.NetValue = v.Pipeline.Net
	s.Quotes = v.Quotes
	s.Deductions = v.Pipeline.Records
	for i := range s.Quotes {
		s.Quotes[i].SettlementID = s.ID
	}
	for i := range s.Deductions {
		s.Deductions[i].SettlementID = s.ID
		s.Deductions[i].CreatedAt = now
	}
	t := now
	s.ClosedAt = &t
	note := fmt.Sprintf("bruto %s, deducciones %s, neto %s %s",
		v.Gross.StringFixed(2), v.Pipeline.TotalDeducted.StringFixed(2), v.Pipeline.Net.StringFixed(2), s.Currency)
	return s.moveTo(StateClosed, actor, "cerrar", note, now)
}

// RegisterPayment 销售结算：对手方登记付款
func (s *Settlement) RegisterPayment(actor Actor, p Payment, now time.Time) error {
	const action = "registrar pago"
	if err := s.requireCounterparty(actor, action); err != nil {
		return err
	}
	if !s.Kind.IsSale() {
		return NewValidationError("tipo", "use el pago de servicio de procesamiento")
	}
	if err := s.requireState(action, StateClosed); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return s.pay(actor, action, p, now)
}

// MarkTollAwaitingPayment 加工厂确认加工完成，等待 socio 付款
func (s *Settlement) MarkTollAwaitingPayment(actor Actor, now time.Time) error {
	const action = "marcar esperando pago"
	if err := s.requireCounterparty(actor, action); err != nil {
		return err
	}
	if err := s.requireState(action, StatePendingProcessing); err != nil {
		return err
	}
	return s.moveTo(StateAwaitingPayment, actor, action, "procesamiento concluido", now)
}

// RegisterTollPayment 加工费结算：socio 登记付款
func (s *Settlement) RegisterTollPayment(actor Actor, p Payment, now time.Time) error {
	const action = "registrar pago de servicio"
	if err := s.requireSocio(actor, action); err != nil {
		return err
	}
	if s.Kind != KindToll {
		return NewValidationError("tipo", "solo aplica a servicio de procesamiento")
	}
	if err := s.requireState(action, StateAwaitingPayment); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return s.pay(actor, action, p, now)
}

func (s *Settlement) pay(actor Actor, action string, p Payment, now time.Time) error {
	if p.PaidAt.IsZero() {
		p.PaidAt = now
	}
	prev := s.Payment
	s.Payment = &p
	note := fmt.Sprintf("%s comprobante %s", p.Method, p.ReceiptNumber)
	if err := s.moveTo(StatePaid, actor, action, note, now); err != nil {
		s.Payment = prev
		return err
	}
	return nil
}

// ItemTransition 实物状态变更 from → to
type ItemTransition struct {
	ItemID   string
	ItemType ItemType
	From     ItemState
	To       ItemState
}

// ItemTransitions 当前状态对应的实物联动：拒绝回退、付款售出、加工费付款后可售
func (s *Settlement) ItemTransitions() []ItemTransition {
	var from, to ItemState
	t := s.Kind.ItemType()
	switch {
	case s.State == StateRejected:
		from, to = t.InSaleState(), t.ReadyState()
	case s.State == StatePaid && s.Kind.IsSale():
		from, to = t.InSaleState(), t.SoldState()
	case s.State == StatePaid && s.Kind == KindToll:
		from, to = ConcentrateAwaitingPayment, ConcentrateReadyForSale
	case s.State == StatePendingApproval:
		from, to = t.ReadyState(), t.InSaleState()
	default:
		return nil
	}
	out := make([]ItemTransition, 0, len(s.Items))
	for _, l := range s.Items {
		out = append(out, ItemTransition{ItemID: l.ItemID, ItemType: l.ItemType, From: from, To: to})
	}
	return out
}

// observe 追加观察日志，条目以 | 分隔
func (s *Settlement) observe(actor Actor, action, text string, now time.Time) {
	entry := fmt.Sprintf("%s %s %s: %s", now.UTC().Format(time.RFC3339), actor.String(), action, text)
	if s.Observations == "" {
		s.Observations = entry
		return
	}
	s.Observations += " | " + entry
}

// ObservationEntries 拆分观察日志
func (s *Settlement) ObservationEntries() []string {
	if s.Observations == "" {
		return nil
	}
	return strings.Split(s.Observations, " | ")
}

// record 记录领域事件
func (s *Settlement) record(eventType string, from, to State, actor Actor, now time.Time) {
	s.events = append(s.events, SettlementEvent{
		Type:         eventType,
		SettlementID: s.ID,
		Kind:         s.Kind,
		From:         from,
		To:           to,
		Actor:        actor.String(),
		OccurredAt:   now,
	})
}

// PullEvents 取出并清空待发布事件
func (s *Settlement) PullEvents() []SettlementEvent {
	events := s.events
	s.events = nil
	return events
}

// Snapshot 审计用的状态快照
func (s *Settlement) Snapshot() map[string]any {
	snap := map[string]any{
		"estado":      s.State,
		"valor_bruto": s.GrossValue.StringFixed(2),
		"valor_neto":  s.NetValue.StringFixed(2),
		"peso":        s.Weight.String(),
	}
	if s.Payment != nil {
		snap["numero_comprobante"] = s.Payment.ReceiptNumber
	}
	if s.Reconciliation != nil {
		snap["requiere_revision"] = s.Reconciliation.RequiresReview
	}
	return snap
}
