package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

// DeductionCatalogService 扣减规则目录，只发布新版本不修改旧版本
type DeductionCatalogService struct {
	rules  domain.DeductionRuleRepository
	audit  domain.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewDeductionCatalogService 创建扣减规则目录服务
func NewDeductionCatalogService(rules domain.DeductionRuleRepository, audit domain.AuditLogger, logger *slog.Logger) *DeductionCatalogService {
	return &DeductionCatalogService{
		rules:  rules,
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换时钟
func (s *DeductionCatalogService) WithClock(now func() time.Time) *DeductionCatalogService {
	s.now = now
	return s
}

// Publish 发布规则新版本，版本号为该编码最新版本加一；停用规则即发布 Active=false 的版本
func (s *DeductionCatalogService) Publish(ctx context.Context, cmd PublishRuleCommand) (*domain.DeductionRule, error) {
	if err := requireActor(cmd.Actor); err != nil {
		return nil, err
	}
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	active := true
	if cmd.Active != nil {
		active = *cmd.Active
	}
	rule := &domain.DeductionRule{
		Code:          strings.ToUpper(strings.TrimSpace(cmd.Code)),
		Concept:       cmd.Concept,
		DeductionType: cmd.DeductionType,
		Category:      cmd.Category,
		Mineral:       cmd.Mineral,
		Kind:          cmd.Kind,
		Percentage:    cmd.Percentage,
		FixedAmount:   cmd.FixedAmount,
		Base:          cmd.Base,
		Active:        active,
		Order:         cmd.Order,
		ValidFrom:     cmd.ValidFrom,
		ValidTo:       cmd.ValidTo,
		Notes:         cmd.Notes,
		LegalSource:   cmd.LegalSource,
		CreatedAt:     s.now(),
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	err := s.rules.WithTx(ctx, func(txCtx context.Context) error {
		latest, err := s.rules.LatestVersion(txCtx, rule.Code)
		if err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}
		rule.Version = latest + 1
		return s.rules.Create(txCtx, rule)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "deduction rule published",
		"code", rule.Code, "version", rule.Version, "active", rule.Active, "base", rule.Base, "order", rule.Order)
	if s.audit != nil {
		if err := s.audit.Record(ctx, domain.AuditEntry{
			Actor:    cmd.Actor,
			Entity:   "deduccion_configuracion",
			EntityID: fmt.Sprintf("%s@%d", rule.Code, rule.Version),
			Action:   "publicar",
			After:    rule,
			IP:       cmd.Actor.IP,
			At:       rule.CreatedAt,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to audit rule publication", "code", rule.Code, "error", err)
		}
	}
	return rule, nil
}

// List 某日期生效的规则。kind 为空时返回每个编码的最新版本（含停用），否则按结算类型与矿物筛选
func (s *DeductionCatalogService) List(ctx context.Context, asOf time.Time, kind domain.Kind, minerals []string) ([]domain.DeductionRule, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	rules, err := s.rules.ListEffective(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list deduction rules: %w", err)
	}
	if kind == "" {
		return domain.LatestVersions(rules, asOf), nil
	}
	if !kind.Valid() {
		return nil, domain.NewValidationError("tipo", "valor desconocido "+string(kind))
	}
	if len(minerals) == 0 {
		minerals = domain.ClosingMinerals(kind, "")
	}
	return domain.SelectRules(rules, kind, minerals, asOf), nil
}

// History 某编码的全部版本
func (s *DeductionCatalogService) History(ctx context.Context, code string) ([]domain.DeductionRule, error) {
	rules, err := s.rules.ListByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, domain.NewNotFoundError("deduccion", code)
	}
	return rules, nil
}
