// Package http 结算引擎的 gin HTTP 接口
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/logger"
	"github.com/wyfcoding/mineralchain/pkg/response"
	"github.com/wyfcoding/mineralchain/pkg/utils"
)

// 网关注入的身份请求头
const (
	HeaderUserID  = "X-User-ID"
	HeaderRole    = "X-User-Role"
	HeaderPartyID = "X-Party-ID"
)

// SettlementUseCases 结算单用例
type SettlementUseCases interface {
	CreateSaleSettlement(ctx context.Context, cmd application.CreateSaleCommand) (*domain.Settlement, error)
	CreateTollSettlement(ctx context.Context, cmd application.CreateTollCommand) (*domain.Settlement, error)
	Approve(ctx context.Context, cmd application.SettlementCommand) (*domain.Settlement, error)
	Reject(ctx context.Context, cmd application.RejectCommand) (*domain.Settlement, error)
	SubmitReport(ctx context.Context, cmd application.SubmitReportCommand) (*application.SubmitResult, error)
	CloseSettlement(ctx context.Context, cmd application.CloseCommand) (*domain.Settlement, error)
	RegisterPayment(ctx context.Context, cmd application.PaymentCommand) (*domain.Settlement, error)
	MarkTollAwaitingPayment(ctx context.Context, cmd application.SettlementCommand) (*domain.Settlement, error)
	RegisterTollPayment(ctx context.Context, cmd application.PaymentCommand) (*domain.Settlement, error)
	GetSettlement(ctx context.Context, id string) (*application.SettlementView, error)
	ListSettlements(ctx context.Context, q application.ListSettlementsQuery) ([]*domain.Settlement, *utils.Pagination, error)
}

// PricingUseCases 价格表用例
type PricingUseCases interface {
	UpsertBracket(ctx context.Context, cmd application.UpsertBracketCommand) (*domain.PriceBracket, error)
	DeactivateBracket(ctx context.Context, actor domain.Actor, id uint64) (*domain.PriceBracket, error)
	ListBrackets(ctx context.Context, cp domain.Counterparty, mineral string) ([]domain.PriceBracket, error)
	ResolveCurrentPrice(ctx context.Context, mineral string) (decimal.Decimal, error)
	ValidateCatalog(ctx context.Context, cp domain.Counterparty) (*domain.CatalogReport, error)
}

// DeductionUseCases 扣减目录用例
type DeductionUseCases interface {
	Publish(ctx context.Context, cmd application.PublishRuleCommand) (*domain.DeductionRule, error)
	List(ctx context.Context, asOf time.Time, kind domain.Kind, minerals []string) ([]domain.DeductionRule, error)
	History(ctx context.Context, code string) ([]domain.DeductionRule, error)
}

var (
	_ SettlementUseCases = (*application.SettlementAppService)(nil)
	_ PricingUseCases    = (*application.PriceBracketService)(nil)
	_ DeductionUseCases  = (*application.DeductionCatalogService)(nil)
)

// actorFrom 从网关请求头读取操作者，身份校验由应用层完成
func actorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		UserID:  c.GetHeader(HeaderUserID),
		Role:    domain.Role(c.GetHeader(HeaderRole)),
		PartyID: c.GetHeader(HeaderPartyID),
		IP:      c.ClientIP(),
	}
}

// statusOf 错误分类到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsForbidden(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, action string, err error) {
	status := statusOf(err)
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "action", action, "error", err)
		response.ErrorWithStatus(c, status, "error interno", nil)
		return
	}
	logger.Debug(ctx, "request rejected", "action", action, "status", status, "error", err)

	var details any
	var missing *domain.MissingFieldsError
	var overlap *domain.BracketOverlapError
	switch {
	case errors.As(err, &missing):
		details = gin.H{"campos_faltantes": missing.Fields}
	case errors.As(err, &overlap):
		details = gin.H{"rango_existente": overlap.Existing.ID}
	}
	response.ErrorWithStatus(c, status, err.Error(), details)
}

func badRequest(c *gin.Context, err error) {
	response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
}

// parseDate 接受 2006-01-02 或 RFC3339
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.NewValidationError("fecha", "formato esperado AAAA-MM-DD o RFC3339")
	}
	return t.UTC(), nil
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Register 挂载全部结算引擎路由
func Register(router *gin.RouterGroup, settlements *SettlementHandler, pricing *PricingHandler, deductions *DeductionHandler) {
	settlements.RegisterRoutes(router)
	pricing.RegisterRoutes(router)
	deductions.RegisterRoutes(router)
}
