package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/metrics"
)

const bracketEntity = "tabla_precios"

// PriceBracketService 对手方价格表维护与当前价格查询
type PriceBracketService struct {
	brackets domain.PriceBracketRepository
	cache    domain.PriceCache
	audit    domain.AuditLogger
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewPriceBracketService 创建价格表服务
func NewPriceBracketService(brackets domain.PriceBracketRepository, cache domain.PriceCache, audit domain.AuditLogger,
	m *metrics.Metrics, opts Options, logger *slog.Logger) *PriceBracketService {
	if m == nil {
		m = metrics.New("settlement")
	}
	return &PriceBracketService{
		brackets: brackets,
		cache:    cache,
		audit:    audit,
		metrics:  m,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换时钟
func (s *PriceBracketService) WithClock(now func() time.Time) *PriceBracketService {
	s.now = now
	return s
}

// ownerOf 操作者所代表的对手方，只有加工厂与贸易公司维护价格表
func ownerOf(actor domain.Actor) (domain.Counterparty, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	switch actor.Role {
	case domain.RolePlanta, domain.RoleComercializadora:
		return domain.NewCounterparty(domain.CounterpartyType(actor.Role), actor.PartyID)
	}
	return nil, &domain.ForbiddenError{Action: "gestionar tabla de precios", Reason: "solo plantas y comercializadoras"}
}

// owned 读取区间并校验归属
func (s *PriceBracketService) owned(ctx context.Context, cp domain.Counterparty, id uint64) (*domain.PriceBracket, error) {
	b, err := s.brackets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if domain.CounterpartyKey(b.Counterparty) != domain.CounterpartyKey(cp) {
		return nil, &domain.ForbiddenError{Action: "modificar tabla de precios", Reason: fmt.Sprintf("el rango #%d pertenece a otra contraparte", id)}
	}
	return b, nil
}

// UpsertBracket 新建或修改价格区间。持有 (对手方, 矿物) 锁，事务内锁定同范围区间后做重叠检查
func (s *PriceBracketService) UpsertBracket(ctx context.Context, cmd UpsertBracketCommand) (*domain.PriceBracket, error) {
	cp, err := ownerOf(cmd.Actor)
	if err != nil {
		return nil, err
	}
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	now := s.now()
	candidate := &domain.PriceBracket{
		ID:           cmd.ID,
		Counterparty: cp,
		Mineral:      cmd.Mineral,
		MinValue:     cmd.MinValue,
		MaxValue:     cmd.MaxValue,
		PriceUSD:     cmd.PriceUSD,
		Unit:         cmd.Unit,
		ValidFrom:    cmd.ValidFrom,
		ValidTo:      cmd.ValidTo,
		Active:       cmd.Active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var before *domain.PriceBracket
	if cmd.ID != 0 {
		if before, err = s.owned(ctx, cp, cmd.ID); err != nil {
			return nil, err
		}
		candidate.CreatedAt = before.CreatedAt
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	// 改矿物时锁定新旧两个范围，按矿物顺序加锁
	scopes := []string{cmd.Mineral}
	if before != nil && before.Mineral != cmd.Mineral {
		scopes = append(scopes, before.Mineral)
		sort.Strings(scopes)
	}
	for _, mineral := range scopes {
		unlock, err := s.cache.LockScope(ctx, cp, mineral)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	err = s.brackets.WithTx(ctx, func(txCtx context.Context) error {
		scope, err := s.brackets.ListScope(txCtx, cp, cmd.Mineral, true)
		if err != nil {
			return fmt.Errorf("failed to lock bracket scope: %w", err)
		}
		if err := domain.CheckOverlap(*candidate, scope); err != nil {
			s.metrics.BracketConflicts.WithLabelValues(cmd.Mineral).Inc()
			return err
		}
		return s.brackets.Save(txCtx, candidate)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "price bracket saved",
		"bracket_id", candidate.ID, "counterparty", domain.CounterpartyKey(cp), "mineral", candidate.Mineral,
		"min", candidate.MinValue.String(), "max", candidate.MaxValue.String(), "price_usd", candidate.PriceUSD.String())
	s.afterWrite(ctx, cmd.Actor, "guardar", candidate, before)
	return candidate, nil
}

// DeactivateBracket 停用区间，停用后不参与重叠检查与计价
func (s *PriceBracketService) DeactivateBracket(ctx context.Context, actor domain.Actor, id uint64) (*domain.PriceBracket, error) {
	cp, err := ownerOf(actor)
	if err != nil {
		return nil, err
	}

	var before, after *domain.PriceBracket
	err = s.brackets.WithTx(ctx, func(txCtx context.Context) error {
		b, err := s.owned(txCtx, cp, id)
		if err != nil {
			return err
		}
		prev := *b
		before = &prev
		b.Active = false
		b.UpdatedAt = s.now()
		after = b
		return s.brackets.Save(txCtx, b)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "price bracket deactivated", "bracket_id", id, "counterparty", domain.CounterpartyKey(cp))
	s.afterWrite(ctx, actor, "desactivar", after, before)
	return after, nil
}

func (s *PriceBracketService) afterWrite(ctx context.Context, actor domain.Actor, action string, after, before *domain.PriceBracket) {
	minerals := []string{after.Mineral}
	if before != nil && before.Mineral != after.Mineral {
		minerals = append(minerals, before.Mineral)
	}
	for _, mineral := range minerals {
		if err := s.cache.Invalidate(ctx, mineral); err != nil {
			s.metrics.SideChannelFailures.WithLabelValues("cache").Inc()
			s.logger.WarnContext(ctx, "failed to invalidate current price", "mineral", mineral, "error", err)
		}
	}
	if s.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		Actor:    actor,
		Entity:   bracketEntity,
		EntityID: fmt.Sprintf("%d", after.ID),
		Action:   action,
		After:    after,
		IP:       actor.IP,
		At:       s.now(),
	}
	if before != nil {
		entry.Before = before
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.metrics.SideChannelFailures.WithLabelValues("audit").Inc()
		s.logger.WarnContext(ctx, "failed to audit bracket write", "bracket_id", after.ID, "error", err)
	}
}

// ListBrackets 对手方的价格区间，mineral 为空时返回全部矿物
func (s *PriceBracketService) ListBrackets(ctx context.Context, cp domain.Counterparty, mineral string) ([]domain.PriceBracket, error) {
	if mineral == "" {
		return s.brackets.ListByCounterparty(ctx, cp)
	}
	return s.brackets.ListScope(ctx, cp, mineral, false)
}

// ResolveCurrentPrice 某矿物所有对手方区间中的最高价，结果缓存
func (s *PriceBracketService) ResolveCurrentPrice(ctx context.Context, mineral string) (decimal.Decimal, error) {
	if mineral == "" {
		return decimal.Zero, domain.NewValidationError("mineral", "requerido")
	}
	if price, ok, err := s.cache.GetCurrentPrice(ctx, mineral); err != nil {
		s.logger.WarnContext(ctx, "current price cache unavailable", "mineral", mineral, "error", err)
	} else if ok {
		return price, nil
	}

	brackets, err := s.brackets.ListByMineral(ctx, mineral)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list brackets: %w", err)
	}
	price := domain.CurrentPrice(brackets, mineral)
	if err := s.cache.SetCurrentPrice(ctx, mineral, price); err != nil {
		s.logger.WarnContext(ctx, "failed to cache current price", "mineral", mineral, "error", err)
	}
	return price, nil
}

// ValidateCatalog 检查对手方价格表对跟踪矿物的覆盖情况
func (s *PriceBracketService) ValidateCatalog(ctx context.Context, cp domain.Counterparty) (*domain.CatalogReport, error) {
	brackets, err := s.brackets.ListByCounterparty(ctx, cp)
	if err != nil {
		return nil, fmt.Errorf("failed to list brackets: %w", err)
	}
	report := domain.ValidateCatalog(brackets, s.opts.TrackedMinerals, s.opts.BracketCeiling, s.now())
	return &report, nil
}
