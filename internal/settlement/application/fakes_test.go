package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/metrics"
)

var (
	now   = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	socio = domain.Actor{UserID: "u-socio", Role: domain.RoleSocio, PartyID: "S1", IP: "10.0.0.1"}
	buyer = domain.Actor{UserID: "u-buyer", Role: domain.RoleComercializadora, PartyID: "C1"}
	plant = domain.Actor{UserID: "u-plant", Role: domain.RolePlanta, PartyID: "P1"}
	other = domain.Actor{UserID: "u-other", Role: domain.RoleComercializadora, PartyID: "C9"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pdec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memDB 内存存储，WithTx 失败时整体回滚
type memDB struct {
	mu          sync.Mutex
	settlements map[string]*domain.Settlement
	reports     map[string]*domain.LabReport
	items       map[string]domain.PhysicalItem
	brackets    map[uint64]domain.PriceBracket
	rules       []domain.DeductionRule
	nextID      uint64
}

func newMemDB() *memDB {
	return &memDB{
		settlements: map[string]*domain.Settlement{},
		reports:     map[string]*domain.LabReport{},
		items:       map[string]domain.PhysicalItem{},
		brackets:    map[uint64]domain.PriceBracket{},
	}
}

func (db *memDB) withTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	db.mu.Lock()
	settlements := maps.Clone(db.settlements)
	reports := maps.Clone(db.reports)
	items := maps.Clone(db.items)
	brackets := maps.Clone(db.brackets)
	rules := append([]domain.DeductionRule(nil), db.rules...)
	db.mu.Unlock()

	if err := fn(ctx); err != nil {
		db.mu.Lock()
		db.settlements, db.reports, db.items, db.brackets, db.rules = settlements, reports, items, brackets, rules
		db.mu.Unlock()
		return err
	}
	return nil
}

func cloneSettlement(s *domain.Settlement) *domain.Settlement {
	c := *s
	c.PullEvents()
	c.Items = make([]*domain.ItemLink, len(s.Items))
	for i, l := range s.Items {
		lc := *l
		c.Items[i] = &lc
	}
	c.Deductions = append([]domain.DeductionRecord(nil), s.Deductions...)
	c.Quotes = append([]domain.QuoteSnapshot(nil), s.Quotes...)
	c.Extras = maps.Clone(s.Extras)
	if s.Reconciliation != nil {
		r := *s.Reconciliation
		c.Reconciliation = &r
	}
	if s.Payment != nil {
		p := *s.Payment
		c.Payment = &p
	}
	return &c
}

type fakeSettlements struct{ db *memDB }

var _ domain.SettlementRepository = (*fakeSettlements)(nil)

func (f *fakeSettlements) Save(_ context.Context, s *domain.Settlement) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.settlements[s.ID] = cloneSettlement(s)
	return nil
}

func (f *fakeSettlements) Update(ctx context.Context, s *domain.Settlement) error {
	return f.Save(ctx, s)
}

func (f *fakeSettlements) Get(_ context.Context, id string) (*domain.Settlement, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.settlements[id]
	if !ok {
		return nil, domain.NewNotFoundError("liquidación", id)
	}
	return cloneSettlement(s), nil
}

func (f *fakeSettlements) GetForUpdate(ctx context.Context, id string) (*domain.Settlement, error) {
	return f.Get(ctx, id)
}

func (f *fakeSettlements) List(_ context.Context, filter domain.SettlementFilter, offset, limit int) ([]*domain.Settlement, int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*domain.Settlement
	for _, s := range f.db.settlements {
		if filter.SocioID != "" && s.SocioID != filter.SocioID {
			continue
		}
		if filter.State != "" && s.State != filter.State {
			continue
		}
		if filter.Kind != "" && s.Kind != filter.Kind {
			continue
		}
		out = append(out, cloneSettlement(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := min(offset+limit, len(out))
	return out[offset:end], total, nil
}

func (f *fakeSettlements) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return f.db.withTx(ctx, fn)
}

type fakeReports struct{ db *memDB }

var _ domain.LabReportRepository = (*fakeReports)(nil)

func (f *fakeReports) Save(_ context.Context, r *domain.LabReport) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, e := range f.db.reports {
		if e.SettlementID == r.SettlementID && e.SubmittedBy == r.SubmittedBy {
			return &domain.DuplicateSubmissionError{SettlementID: r.SettlementID, Party: r.SubmittedBy}
		}
	}
	c := *r
	f.db.reports[r.ID] = &c
	return nil
}

func (f *fakeReports) Get(_ context.Context, id string) (*domain.LabReport, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.reports[id]
	if !ok {
		return nil, domain.NewNotFoundError("reporte químico", id)
	}
	c := *r
	return &c, nil
}

func (f *fakeReports) FindByParty(_ context.Context, settlementID string, party domain.ReportParty) (*domain.LabReport, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, r := range f.db.reports {
		if r.SettlementID == settlementID && r.SubmittedBy == party {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeReports) ListBySettlement(_ context.Context, settlementID string) ([]*domain.LabReport, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*domain.LabReport
	for _, r := range f.db.reports {
		if r.SettlementID == settlementID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedBy > out[j].SubmittedBy })
	return out, nil
}

func (f *fakeReports) count() int {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return len(f.db.reports)
}

type fakeBrackets struct{ db *memDB }

var _ domain.PriceBracketRepository = (*fakeBrackets)(nil)

func (f *fakeBrackets) Save(_ context.Context, b *domain.PriceBracket) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if b.ID == 0 {
		f.db.nextID++
		b.ID = f.db.nextID
	}
	f.db.brackets[b.ID] = *b
	return nil
}

func (f *fakeBrackets) Get(_ context.Context, id uint64) (*domain.PriceBracket, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b, ok := f.db.brackets[id]
	if !ok {
		return nil, domain.NewNotFoundError("tabla de precios", "")
	}
	return &b, nil
}

func (f *fakeBrackets) filter(keep func(domain.PriceBracket) bool) []domain.PriceBracket {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []domain.PriceBracket
	for _, b := range f.db.brackets {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeBrackets) ListScope(_ context.Context, cp domain.Counterparty, mineral string, _ bool) ([]domain.PriceBracket, error) {
	key := domain.CounterpartyKey(cp)
	return f.filter(func(b domain.PriceBracket) bool {
		return domain.CounterpartyKey(b.Counterparty) == key && b.Mineral == mineral
	}), nil
}

func (f *fakeBrackets) ListByCounterparty(_ context.Context, cp domain.Counterparty) ([]domain.PriceBracket, error) {
	key := domain.CounterpartyKey(cp)
	return f.filter(func(b domain.PriceBracket) bool { return domain.CounterpartyKey(b.Counterparty) == key }), nil
}

func (f *fakeBrackets) ListByMineral(_ context.Context, mineral string) ([]domain.PriceBracket, error) {
	return f.filter(func(b domain.PriceBracket) bool { return b.Mineral == mineral }), nil
}

func (f *fakeBrackets) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return f.db.withTx(ctx, fn)
}

type fakeRules struct{ db *memDB }

var _ domain.DeductionRuleRepository = (*fakeRules)(nil)

func (f *fakeRules) Create(_ context.Context, r *domain.DeductionRule) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, e := range f.db.rules {
		if e.Code == r.Code && e.Version == r.Version {
			return errors.New("duplicate code/version")
		}
	}
	f.db.nextID++
	r.ID = f.db.nextID
	f.db.rules = append(f.db.rules, *r)
	return nil
}

func (f *fakeRules) LatestVersion(_ context.Context, code string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	latest := 0
	for _, r := range f.db.rules {
		if r.Code == code && r.Version > latest {
			latest = r.Version
		}
	}
	return latest, nil
}

func (f *fakeRules) ListEffective(_ context.Context, at time.Time) ([]domain.DeductionRule, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []domain.DeductionRule
	for _, r := range f.db.rules {
		if r.CoversDate(at) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) ListByCode(_ context.Context, code string) ([]domain.DeductionRule, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []domain.DeductionRule
	for _, r := range f.db.rules {
		if r.Code == code {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return f.db.withTx(ctx, fn)
}

type fakeItems struct{ db *memDB }

var _ domain.PhysicalItemStore = (*fakeItems)(nil)

func itemKey(t domain.ItemType, id string) string { return string(t) + ":" + id }

func (f *fakeItems) put(item domain.PhysicalItem) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.items[itemKey(item.Type, item.ID)] = item
}

func (f *fakeItems) state(t domain.ItemType, id string) domain.ItemState {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.items[itemKey(t, id)].State
}

func (f *fakeItems) Get(_ context.Context, t domain.ItemType, id string) (*domain.PhysicalItem, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	item, ok := f.db.items[itemKey(t, id)]
	if !ok {
		return nil, domain.NewNotFoundError(string(t), id)
	}
	return &item, nil
}

func (f *fakeItems) UpdateState(_ context.Context, t domain.ItemType, id string, from, to domain.ItemState) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	item, ok := f.db.items[itemKey(t, id)]
	if !ok {
		return domain.NewNotFoundError(string(t), id)
	}
	if item.State != from {
		return domain.NewValidationError("estado", "estado del item cambió")
	}
	item.State = to
	f.db.items[itemKey(t, id)] = item
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

var _ domain.NotificationGateway = (*fakeNotifier)(nil)

func (f *fakeNotifier) Notify(_ context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) last() domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

var _ domain.AuditLogger = (*fakeAudit)(nil)

func (f *fakeAudit) Record(_ context.Context, e domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
	err    error
}

var _ domain.EventPublisher = (*fakeEvents)(nil)

func (f *fakeEvents) Publish(_ context.Context, e domain.SettlementEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	locked map[string]bool
	hits   int
}

var _ domain.PriceCache = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{prices: map[string]decimal.Decimal{}, locked: map[string]bool{}}
}

func (f *fakeCache) GetCurrentPrice(_ context.Context, mineral string) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[mineral]
	if ok {
		f.hits++
	}
	return p, ok, nil
}

func (f *fakeCache) SetCurrentPrice(_ context.Context, mineral string, price decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[mineral] = price
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, mineral string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, mineral)
	return nil
}

func (f *fakeCache) LockScope(_ context.Context, cp domain.Counterparty, mineral string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.CounterpartyKey(cp) + ":" + mineral
	if f.locked[key] {
		return nil, domain.ErrConflict
	}
	f.locked[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.locked, key)
	}, nil
}

// harness 组装应用服务与全部内存端口
type harness struct {
	db          *memDB
	settlements *fakeSettlements
	reports     *fakeReports
	brackets    *fakeBrackets
	rules       *fakeRules
	items       *fakeItems
	notifier    *fakeNotifier
	audit       *fakeAudit
	events      *fakeEvents
	cache       *fakeCache

	svc     *application.SettlementAppService
	pricing *application.PriceBracketService
	catalog *application.DeductionCatalogService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newMemDB()
	h := &harness{
		db:          db,
		settlements: &fakeSettlements{db: db},
		reports:     &fakeReports{db: db},
		brackets:    &fakeBrackets{db: db},
		rules:       &fakeRules{db: db},
		items:       &fakeItems{db: db},
		notifier:    &fakeNotifier{},
		audit:       &fakeAudit{},
		events:      &fakeEvents{},
		cache:       newFakeCache(),
	}
	m := metrics.New("settlement_test")
	opts := application.DefaultOptions()
	clock := func() time.Time { return now }

	h.svc = application.NewSettlementAppService(application.Dependencies{
		Settlements: h.settlements,
		Reports:     h.reports,
		Brackets:    h.brackets,
		Rules:       h.rules,
		Items:       h.items,
		Notifier:    h.notifier,
		Audit:       h.audit,
		Events:      h.events,
		Metrics:     m,
	}, opts, discard()).WithClock(clock)
	h.pricing = application.NewPriceBracketService(h.brackets, h.cache, h.audit, m, opts, discard()).WithClock(clock)
	h.catalog = application.NewDeductionCatalogService(h.rules, h.audit, discard()).WithClock(clock)
	return h
}

// seedConcentrates 登记 socio S1 的两个精矿批次
func (h *harness) seedConcentrates(state domain.ItemState) {
	h.items.put(domain.PhysicalItem{ID: "I1", Type: domain.ItemConcentrate, SocioID: "S1", State: state, Mineral: "Pb", Weight: dec("10")})
	h.items.put(domain.PhysicalItem{ID: "I2", Type: domain.ItemConcentrate, SocioID: "S1", State: state, Mineral: "Pb", Weight: dec("5.5")})
}

func (h *harness) createSale(t *testing.T) *domain.Settlement {
	t.Helper()
	h.seedConcentrates(domain.ConcentrateReadyForSale)
	st, err := h.svc.CreateSaleSettlement(context.Background(), application.CreateSaleCommand{
		Actor:            socio,
		Kind:             domain.KindConcentrateSale,
		TradingCompanyID: "C1",
		PrincipalMineral: "Pb",
		Currency:         "USD",
		Items: []application.ItemInput{
			{ItemID: "I1", Weight: dec("10")},
			{ItemID: "I2", Weight: dec("5.5")},
		},
	})
	require.NoError(t, err)
	return st
}

func (h *harness) approved(t *testing.T) *domain.Settlement {
	t.Helper()
	st := h.createSale(t)
	st, err := h.svc.Approve(context.Background(), application.SettlementCommand{Actor: buyer, SettlementID: st.ID})
	require.NoError(t, err)
	return st
}

func concentrateReport(actor domain.Actor, id, principal string) application.SubmitReportCommand {
	return application.SubmitReportCommand{
		Actor:          actor,
		SettlementID:   id,
		LabName:        "Laboratorio Oruro",
		PrincipalGrade: pdec(principal),
		SilverGradeGPT: pdec("300"),
		Moisture:       pdec("8"),
	}
}

func (h *harness) stored(t *testing.T, id string) *domain.Settlement {
	t.Helper()
	st, err := h.settlements.Get(context.Background(), id)
	require.NoError(t, err)
	return st
}

func (h *harness) seedPricing(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, cmd := range []application.UpsertBracketCommand{
		{Actor: buyer, Mineral: "Pb", MinValue: dec("40"), MaxValue: dec("60"), PriceUSD: dec("2000"), ValidFrom: date(2025, 1, 1), Active: true},
		{Actor: buyer, Mineral: "Ag", MinValue: dec("0"), MaxValue: dec("1000"), PriceUSD: dec("25"), ValidFrom: date(2025, 1, 1), Active: true},
	} {
		_, err := h.pricing.UpsertBracket(ctx, cmd)
		require.NoError(t, err)
	}

	fixed := application.PublishRuleCommand{Actor: socio, Code: "TRANSPORTE", Concept: "Transporte", Base: domain.BaseFixedAmount,
		FixedAmount: dec("100"), Order: 3, ValidFrom: date(2025, 1, 1)}
	for _, cmd := range []application.PublishRuleCommand{
		{Actor: socio, Code: "REGALIA", Concept: "Regalía minera", Base: domain.BaseGrossTotal, Percentage: dec("5"), Order: 1, ValidFrom: date(2025, 1, 1)},
		{Actor: socio, Code: "APORTE", Concept: "Aporte cooperativa", Base: domain.BaseRunningNet, Percentage: dec("2"), Order: 2, ValidFrom: date(2025, 1, 1)},
		fixed,
	} {
		_, err := h.catalog.Publish(ctx, cmd)
		require.NoError(t, err)
	}
}
