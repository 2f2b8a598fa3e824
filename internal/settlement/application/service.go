// Package application 结算应用服务：事务编排、实物联动与提交后的旁路通道
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/idgen"
	"github.com/wyfcoding/mineralchain/pkg/metrics"
	"github.com/wyfcoding/mineralchain/pkg/utils"
)

// Dependencies 结算服务依赖的端口
type Dependencies struct {
	Settlements domain.SettlementRepository
	Reports     domain.LabReportRepository
	Brackets    domain.PriceBracketRepository
	Rules       domain.DeductionRuleRepository
	Items       domain.PhysicalItemStore
	Notifier    domain.NotificationGateway
	Audit       domain.AuditLogger
	Events      domain.EventPublisher
	Metrics     *metrics.Metrics
}

// Options 结算业务参数
type Options struct {
	Thresholds      domain.Thresholds
	SilverDMGrams   decimal.Decimal
	TrackedMinerals []string
	BracketCeiling  decimal.Decimal
}

// DefaultOptions 默认业务参数
func DefaultOptions() Options {
	return Options{
		Thresholds:      domain.DefaultThresholds(),
		SilverDMGrams:   domain.DefaultSilverDMGrams,
		TrackedMinerals: []string{domain.MineralSilver, domain.MineralLead, domain.MineralZinc},
		BracketCeiling:  domain.DefaultBracketCeiling,
	}
}

// SettlementAppService 结算应用服务
type SettlementAppService struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSettlementAppService 创建结算应用服务
func NewSettlementAppService(deps Dependencies, opts Options, logger *slog.Logger) *SettlementAppService {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("settlement")
	}
	return &SettlementAppService{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换时钟
func (s *SettlementAppService) WithClock(now func() time.Time) *SettlementAppService {
	s.now = now
	return s
}

// SettlementView 结算单详情，包含双方化验报告
type SettlementView struct {
	Settlement *domain.Settlement
	Reports    []*domain.LabReport
}

// SubmitResult 化验报告提交结果，Outcome 在本次提交完成对账时非空
type SubmitResult struct {
	Settlement *domain.Settlement
	Report     *domain.LabReport
	Outcome    *domain.ReconciliationOutcome
}

// mutation 事务内对结算单的修改，返回提交后需发送的通知
type mutation func(txCtx context.Context, st *domain.Settlement) ([]domain.Notification, error)

// mutate 锁定结算单行执行修改并落库，状态变化时同一事务内联动实物；提交后执行旁路通道
func (s *SettlementAppService) mutate(ctx context.Context, id string, actor domain.Actor, action string, fn mutation) (*domain.Settlement, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		st     *domain.Settlement
		before map[string]any
		notes  []domain.Notification
	)
	err := s.deps.Settlements.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		st, err = s.deps.Settlements.GetForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		before = st.Snapshot()
		from := st.State

		if notes, err = fn(txCtx, st); err != nil {
			return err
		}
		if err := s.deps.Settlements.Update(txCtx, st); err != nil {
			return fmt.Errorf("failed to update settlement: %w", err)
		}
		if st.State != from {
			return s.moveItems(txCtx, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, st, actor, action, before, notes)
	return st, nil
}

// moveItems 按结算单当前状态更新实物状态
func (s *SettlementAppService) moveItems(txCtx context.Context, st *domain.Settlement) error {
	for _, t := range st.ItemTransitions() {
		if err := s.deps.Items.UpdateState(txCtx, t.ItemType, t.ItemID, t.From, t.To); err != nil {
			return fmt.Errorf("failed to move %s %s to %q: %w", t.ItemType, t.ItemID, t.To, err)
		}
	}
	return nil
}

// loadItems 读取实物并校验归属与前置状态
func (s *SettlementAppService) loadItems(ctx context.Context, itemType domain.ItemType, socioID string,
	expected domain.ItemState, inputs []ItemInput) ([]*domain.ItemLink, error) {
	links := make([]*domain.ItemLink, 0, len(inputs))
	for _, in := range inputs {
		item, err := s.deps.Items.Get(ctx, itemType, in.ItemID)
		if err != nil {
			return nil, err
		}
		if item.SocioID != socioID {
			return nil, &domain.ForbiddenError{Action: "liquidar " + string(itemType), Reason: fmt.Sprintf("%s no pertenece al socio %s", in.ItemID, socioID)}
		}
		if item.State != expected {
			return nil, domain.NewValidationError("items",
				fmt.Sprintf("%s %s está en estado %q, se esperaba %q", itemType, in.ItemID, item.State, expected))
		}
		links = append(links, &domain.ItemLink{
			ID:     uuid.NewString(),
			ItemID: in.ItemID,
			Weight: in.Weight,
		})
	}
	return links, nil
}

// CreateSaleSettlement socio 将就绪实物提交给贸易公司，实物进入销售中
func (s *SettlementAppService) CreateSaleSettlement(ctx context.Context, cmd CreateSaleCommand) (*domain.Settlement, error) {
	if err := requireActor(cmd.Actor); err != nil {
		return nil, err
	}
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	now := s.now()
	socioID := cmd.Actor.PartyID
	var st *domain.Settlement
	err := s.deps.Settlements.WithTx(ctx, func(txCtx context.Context) error {
		itemType := cmd.Kind.ItemType()
		links, err := s.loadItems(txCtx, itemType, socioID, itemType.ReadyState(), cmd.Items)
		if err != nil {
			return err
		}
		st, err = domain.NewSaleSettlement(idgen.WithPrefix("LIQ"), cmd.Kind, socioID,
			domain.TradingCompany{ID: cmd.TradingCompanyID}, cmd.PrincipalMineral, cmd.Currency, cmd.Date, links, cmd.Actor, now)
		if err != nil {
			return err
		}
		if err := s.deps.Settlements.Save(txCtx, st); err != nil {
			return fmt.Errorf("failed to save settlement: %w", err)
		}
		return s.moveItems(txCtx, st)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, st, cmd.Actor, "crear", nil, []domain.Notification{{
		UserID:   cmd.TradingCompanyID,
		Severity: domain.SeverityInfo,
		Title:    "Nueva liquidación de venta",
		Message:  fmt.Sprintf("El socio %s envió la liquidación %s (%s t) para aprobación", socioID, st.ID, st.Weight.String()),
		Metadata: notificationMeta(st),
	}})
	return st, nil
}

// CreateTollSettlement 加工厂登记加工费，精矿须处于等待付款
func (s *SettlementAppService) CreateTollSettlement(ctx context.Context, cmd CreateTollCommand) (*domain.Settlement, error) {
	if err := requireActor(cmd.Actor); err != nil {
		return nil, err
	}
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	now := s.now()
	plant := domain.ProcessingPlant{ID: cmd.Actor.PartyID}
	var st *domain.Settlement
	err := s.deps.Settlements.WithTx(ctx, func(txCtx context.Context) error {
		links, err := s.loadItems(txCtx, domain.ItemConcentrate, cmd.SocioID, domain.ConcentrateAwaitingPayment, cmd.Items)
		if err != nil {
			return err
		}
		st, err = domain.NewTollSettlement(idgen.WithPrefix("LIQ"), cmd.SocioID, plant, cmd.Currency, cmd.Date,
			cmd.ProcessingFee, links, cmd.Actor, now)
		if err != nil {
			return err
		}
		if err := s.deps.Settlements.Save(txCtx, st); err != nil {
			return fmt.Errorf("failed to save settlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, st, cmd.Actor, "crear", nil, []domain.Notification{{
		UserID:   cmd.SocioID,
		Severity: domain.SeverityInfo,
		Title:    "Servicio de procesamiento registrado",
		Message:  fmt.Sprintf("La planta %s registró el servicio %s por %s %s", plant.ID, st.ID, st.GrossValue.StringFixed(2), st.Currency),
		Metadata: notificationMeta(st),
	}})
	return st, nil
}

// Approve 贸易公司审批通过
func (s *SettlementAppService) Approve(ctx context.Context, cmd SettlementCommand) (*domain.Settlement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return s.mutate(ctx, cmd.SettlementID, cmd.Actor, "aprobar", func(_ context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		if err := st.Approve(cmd.Actor, s.now()); err != nil {
			return nil, err
		}
		return []domain.Notification{{
			UserID:   st.SocioID,
			Severity: domain.SeveritySuccess,
			Title:    "Liquidación aprobada",
			Message:  fmt.Sprintf("La liquidación %s fue aprobada, ambas partes deben enviar su reporte químico", st.ID),
			Metadata: notificationMeta(st),
		}}, nil
	})
}

// Reject 贸易公司拒绝，实物回退到就绪状态
func (s *SettlementAppService) Reject(ctx context.Context, cmd RejectCommand) (*domain.Settlement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return s.mutate(ctx, cmd.SettlementID, cmd.Actor, "rechazar", func(_ context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		if err := st.Reject(cmd.Actor, cmd.Reason, s.now()); err != nil {
			return nil, err
		}
		return []domain.Notification{{
			UserID:   st.SocioID,
			Severity: domain.SeverityWarning,
			Title:    "Liquidación rechazada",
			Message:  fmt.Sprintf("La liquidación %s fue rechazada: %s", st.ID, st.RejectionReason),
			Metadata: notificationMeta(st),
		}}, nil
	})
}

// SubmitReport 一方提交化验报告；第二份报告在同一事务内触发对账
func (s *SettlementAppService) SubmitReport(ctx context.Context, cmd SubmitReportCommand) (*SubmitResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	result := &SubmitResult{}
	st, err := s.mutate(ctx, cmd.SettlementID, cmd.Actor, "enviar reporte químico", func(txCtx context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		now := s.now()
		party, err := st.PartyOf(cmd.Actor)
		if err != nil {
			return nil, err
		}

		existing, err := s.deps.Reports.FindByParty(txCtx, st.ID, party)
		if err != nil {
			return nil, fmt.Errorf("failed to check previous report: %w", err)
		}
		if existing != nil {
			return nil, &domain.DuplicateSubmissionError{SettlementID: st.ID, Party: party}
		}

		report := reportFromCommand(cmd, st, party, now)
		if err := report.Validate(); err != nil {
			return nil, err
		}
		link, err := st.AcceptReport(cmd.Actor, party, cmd.ItemID, report.ID, report.Number, now)
		if err != nil {
			return nil, err
		}
		report.ItemID = link.ItemID
		report.MarkSubmitted(now)
		if err := s.deps.Reports.Save(txCtx, report); err != nil {
			return nil, err
		}
		result.Report = report

		socioID, cpID := st.ReportIDs()
		otherID := cpID
		if party == domain.PartyCounterparty {
			otherID = socioID
		}
		if otherID == nil {
			return []domain.Notification{pendingReportNotice(st, party)}, nil
		}
		other, err := s.deps.Reports.Get(txCtx, *otherID)
		if err != nil {
			return nil, fmt.Errorf("failed to load counterpart report: %w", err)
		}

		socioReport, cpReport := report, other
		if party == domain.PartyCounterparty {
			socioReport, cpReport = other, report
		}
		outcome, err := domain.Reconcile(st.Kind, socioReport, cpReport, s.opts.Thresholds, now)
		if err != nil {
			return nil, err
		}
		if err := st.ApplyReconciliation(outcome, cmd.Actor, now); err != nil {
			return nil, err
		}
		result.Outcome = outcome
		return []domain.Notification{reconciledNotice(st, outcome)}, nil
	})
	if err != nil {
		return nil, err
	}

	result.Settlement = st
	if result.Outcome != nil {
		s.observeReconciliation(result.Outcome)
	}
	return result, nil
}

func reportFromCommand(cmd SubmitReportCommand, st *domain.Settlement, party domain.ReportParty, now time.Time) *domain.LabReport {
	number := strings.TrimSpace(cmd.Number)
	if number == "" {
		number = idgen.WithPrefix("RQ")
	}
	return &domain.LabReport{
		ID:             uuid.NewString(),
		Number:         number,
		SettlementID:   st.ID,
		ItemID:         cmd.ItemID,
		SubmittedBy:    party,
		SubmitterID:    cmd.Actor.UserID,
		Kind:           st.Kind,
		LabName:        cmd.LabName,
		PackagedAt:     cmd.PackagedAt,
		ReceivedAt:     cmd.ReceivedAt,
		DispatchedAt:   cmd.DispatchedAt,
		AnalyzedAt:     cmd.AnalyzedAt,
		PrincipalGrade: cmd.PrincipalGrade,
		SilverGradeGPT: cmd.SilverGradeGPT,
		SilverGradeDM:  cmd.SilverGradeDM,
		LeadGrade:      cmd.LeadGrade,
		ZincGrade:      cmd.ZincGrade,
		Moisture:       cmd.Moisture,
		SackCount:      cmd.SackCount,
		SackWeight:     cmd.SackWeight,
		PackagingType:  cmd.PackagingType,
		DocumentURL:    cmd.DocumentURL,
		CreatedAt:      now,
	}
}

func pendingReportNotice(st *domain.Settlement, submitted domain.ReportParty) domain.Notification {
	recipient := st.Counterparty.PartyID()
	if submitted == domain.PartyCounterparty {
		recipient = st.SocioID
	}
	return domain.Notification{
		UserID:   recipient,
		Severity: domain.SeverityInfo,
		Title:    "Reporte químico pendiente",
		Message:  fmt.Sprintf("La otra parte envió su reporte para la liquidación %s, falta el suyo", st.ID),
		Metadata: notificationMeta(st),
	}
}

func reconciledNotice(st *domain.Settlement, o *domain.ReconciliationOutcome) domain.Notification {
	n := domain.Notification{
		UserID:   st.SocioID,
		Severity: domain.SeverityInfo,
		Title:    "Reportes conciliados",
		Message:  fmt.Sprintf("Liquidación %s lista para cerrar cuando el precio sea favorable", st.ID),
		Metadata: notificationMeta(st),
	}
	if o.RequiresReview {
		n.Severity = domain.SeverityWarning
		n.Title = "Revisión requerida"
		n.Message = fmt.Sprintf("Los reportes de la liquidación %s difieren en %s puntos, revise antes de cerrar", st.ID, o.Disagreement.String())
	}
	n.Metadata["diferencia"] = o.Disagreement.String()
	return n
}

// CloseSettlement socio 关闭结算：取对手方价格表计价并执行扣减流水线
func (s *SettlementAppService) CloseSettlement(ctx context.Context, cmd CloseCommand) (*domain.Settlement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	st, err := s.mutate(ctx, cmd.SettlementID, cmd.Actor, "cerrar", func(txCtx context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		if err := st.CheckClose(cmd.Actor); err != nil {
			return nil, err
		}
		now := s.now()
		at := now
		if cmd.ClosingDate != nil {
			at = *cmd.ClosingDate
		}

		brackets, err := s.deps.Brackets.ListByCounterparty(txCtx, st.Counterparty)
		if err != nil {
			return nil, fmt.Errorf("failed to load price brackets: %w", err)
		}
		lookup := func(mineral string, grade decimal.Decimal) (domain.PriceBracket, error) {
			b, ok := domain.FindBracket(brackets, mineral, grade, at)
			if !ok {
				return domain.PriceBracket{}, domain.NewNotFoundError("tabla de precios",
					fmt.Sprintf("%s ley %s al %s", mineral, grade.String(), at.Format(time.DateOnly)))
			}
			return b, nil
		}
		rules, err := s.deps.Rules.ListEffective(txCtx, at)
		if err != nil {
			return nil, fmt.Errorf("failed to load deduction rules: %w", err)
		}

		valuation, err := domain.Valuate(st, lookup, rules, s.opts.SilverDMGrams, at)
		if err != nil {
			return nil, err
		}
		if err := st.Close(cmd.Actor, valuation, now); err != nil {
			return nil, err
		}
		return []domain.Notification{{
			UserID:   st.Counterparty.PartyID(),
			Severity: domain.SeverityInfo,
			Title:    "Liquidación cerrada",
			Message:  fmt.Sprintf("La liquidación %s se cerró por %s %s netos, pendiente de pago", st.ID, st.NetValue.StringFixed(2), st.Currency),
			Metadata: notificationMeta(st),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	net, _ := st.NetValue.Float64()
	s.deps.Metrics.SettlementNetValue.WithLabelValues(string(st.Kind)).Observe(net)
	return st, nil
}

func paymentFromCommand(cmd PaymentCommand) domain.Payment {
	p := domain.Payment{Method: cmd.Method, ReceiptNumber: cmd.ReceiptNumber, ReceiptURL: cmd.ReceiptURL}
	if cmd.PaidAt != nil {
		p.PaidAt = *cmd.PaidAt
	}
	return p
}

// RegisterPayment 贸易公司登记销售付款，实物标记为已售
func (s *SettlementAppService) RegisterPayment(ctx context.Context, cmd PaymentCommand) (*domain.Settlement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return s.mutate(ctx, cmd.SettlementID, cmd.Actor, "registrar pago", func(_ context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		if err := st.RegisterPayment(cmd.Actor, paymentFromCommand(cmd), s.now()); err != nil {
			return nil, err
		}
		return []domain.Notification{{
			UserID:   st.SocioID,
			Severity: domain.SeveritySuccess,
			Title:    "Pago registrado",
			Message:  fmt.Sprintf("Se registró el pago de la liquidación %s, comprobante %s", st.ID, st.Payment.ReceiptNumber),
			Metadata: notificationMeta(st),
		}}, nil
	})
}

// MarkTollAwaitingPayment 加工厂确认加工完成
func (s *SettlementAppService) MarkTollAwaitingPayment(ctx context.Context, cmd SettlementCommand) (*domain.Settlement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return s.mutate(ctx, cmd.SettlementID, cmd.Actor, "marcar esperando pago", func(_ context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		if err := st.MarkTollAwaitingPayment(cmd.Actor, s.now()); err != nil {
			return nil, err
		}
		return []domain.Notification{{
			UserID:   st.SocioID,
			Severity: domain.SeverityInfo,
			Title:    "Servicio pendiente de pago",
			Message:  fmt.Sprintf("El procesamiento de la liquidación %s concluyó, pague %s %s", st.ID, st.NetValue.StringFixed(2), st.Currency),
			Metadata: notificationMeta(st),
		}}, nil
	})
}

// RegisterTollPayment socio 支付加工费，精矿变为可售并通知加工厂
func (s *SettlementAppService) RegisterTollPayment(ctx context.Context, cmd PaymentCommand) (*domain.Settlement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return s.mutate(ctx, cmd.SettlementID, cmd.Actor, "registrar pago de servicio", func(_ context.Context, st *domain.Settlement) ([]domain.Notification, error) {
		if err := st.RegisterTollPayment(cmd.Actor, paymentFromCommand(cmd), s.now()); err != nil {
			return nil, err
		}
		return []domain.Notification{{
			UserID:   st.Counterparty.PartyID(),
			Severity: domain.SeveritySuccess,
			Title:    "Servicio pagado",
			Message:  fmt.Sprintf("El socio %s pagó el servicio %s, comprobante %s", st.SocioID, st.ID, st.Payment.ReceiptNumber),
			Metadata: notificationMeta(st),
		}}, nil
	})
}

// GetSettlement 查询结算单详情
func (s *SettlementAppService) GetSettlement(ctx context.Context, id string) (*SettlementView, error) {
	st, err := s.deps.Settlements.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reports, err := s.deps.Reports.ListBySettlement(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return &SettlementView{Settlement: st, Reports: reports}, nil
}

// ListSettlements 分页查询结算单
func (s *SettlementAppService) ListSettlements(ctx context.Context, q ListSettlementsQuery) ([]*domain.Settlement, *utils.Pagination, error) {
	page := utils.NewPagination(q.Page, q.PageSize, 0)
	items, total, err := s.deps.Settlements.List(ctx, q.Filter, page.Offset(), page.Limit())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return items, utils.NewPagination(page.Page, page.PageSize, total), nil
}

func notificationMeta(st *domain.Settlement) map[string]string {
	return map[string]string{
		"liquidacion_id": st.ID,
		"tipo":           string(st.Kind),
		"estado":         string(st.State),
	}
}
