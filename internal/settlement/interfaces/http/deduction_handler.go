package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/response"
)

// DeductionHandler 扣减目录接口，规则只能发布新版本
type DeductionHandler struct {
	svc DeductionUseCases
}

func NewDeductionHandler(svc DeductionUseCases) *DeductionHandler {
	return &DeductionHandler{svc: svc}
}

func (h *DeductionHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/deducciones")
	{
		api.POST("", h.Publish)
		api.GET("", h.List)
		api.GET("/:codigo/historial", h.History)
	}
}

// PublishRuleRequest 发布规则版本
type PublishRuleRequest struct {
	Code          string          `json:"codigo" binding:"required"`
	Concept       string          `json:"concepto" binding:"required"`
	DeductionType string          `json:"tipo_deduccion"`
	Category      string          `json:"categoria"`
	Mineral       *string         `json:"mineral"`
	Kind          *string         `json:"tipo_liquidacion"`
	Percentage    decimal.Decimal `json:"porcentaje"`
	FixedAmount   decimal.Decimal `json:"monto_fijo"`
	Base          string          `json:"base_calculo" binding:"required"`
	Active        *bool           `json:"activo"`
	Order         int             `json:"orden"`
	ValidFrom     string          `json:"fecha_inicio" binding:"required"`
	ValidTo       *string         `json:"fecha_fin"`
	Notes         string          `json:"notas"`
	LegalSource   string          `json:"fuente_legal"`
}

func (h *DeductionHandler) Publish(c *gin.Context) {
	var req PublishRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	from, err := parseDate(req.ValidFrom)
	if err != nil {
		badRequest(c, err)
		return
	}
	to, err := parseOptionalDate(req.ValidTo)
	if err != nil {
		badRequest(c, err)
		return
	}
	rule, err := h.svc.Publish(c.Request.Context(), application.PublishRuleCommand{
		Actor:         actorFrom(c),
		Code:          req.Code,
		Concept:       req.Concept,
		DeductionType: req.DeductionType,
		Category:      req.Category,
		Mineral:       req.Mineral,
		Kind:          req.Kind,
		Percentage:    req.Percentage,
		FixedAmount:   req.FixedAmount,
		Base:          domain.DeductionBase(req.Base),
		Active:        req.Active,
		Order:         req.Order,
		ValidFrom:     from,
		ValidTo:       to,
		Notes:         req.Notes,
		LegalSource:   req.LegalSource,
	})
	if err != nil {
		writeError(c, "publicar_deduccion", err)
		return
	}
	response.Created(c, toRuleDTO(*rule))
}

// List fecha 缺省为当天；minerales 以逗号分隔
func (h *DeductionHandler) List(c *gin.Context) {
	var asOf time.Time
	if s := c.Query("fecha"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			badRequest(c, err)
			return
		}
		asOf = t
	}
	var minerals []string
	if s := c.Query("minerales"); s != "" {
		for _, m := range strings.Split(s, ",") {
			if m = strings.TrimSpace(m); m != "" {
				minerals = append(minerals, m)
			}
		}
	}
	rules, err := h.svc.List(c.Request.Context(), asOf, domain.Kind(c.Query("tipo")), minerals)
	if err != nil {
		writeError(c, "listar_deducciones", err)
		return
	}
	response.Success(c, toRuleDTOs(rules))
}

func (h *DeductionHandler) History(c *gin.Context) {
	rules, err := h.svc.History(c.Request.Context(), c.Param("codigo"))
	if err != nil {
		writeError(c, "historial_deduccion", err)
		return
	}
	response.Success(c, toRuleDTOs(rules))
}
