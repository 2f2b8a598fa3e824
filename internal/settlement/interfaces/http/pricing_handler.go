package http

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/response"
)

// PricingHandler 价格表接口
type PricingHandler struct {
	svc PricingUseCases
}

func NewPricingHandler(svc PricingUseCases) *PricingHandler {
	return &PricingHandler{svc: svc}
}

func (h *PricingHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/tablas-precios")
	{
		api.POST("", h.Create)
		api.PUT("/:id", h.Update)
		api.DELETE("/:id", h.Deactivate)
		api.GET("", h.List)
		api.GET("/validacion", h.ValidateCatalog)
		api.GET("/precio-actual/:mineral", h.CurrentPrice)
	}
}

// BracketRequest 价格区间请求
type BracketRequest struct {
	Mineral   string          `json:"mineral" binding:"required"`
	MinValue  decimal.Decimal `json:"valor_minimo"`
	MaxValue  decimal.Decimal `json:"valor_maximo"`
	PriceUSD  decimal.Decimal `json:"precio_usd"`
	Unit      string          `json:"unidad"`
	ValidFrom string          `json:"fecha_inicio" binding:"required"`
	ValidTo   *string         `json:"fecha_fin"`
	Active    *bool           `json:"activo"`
}

func (h *PricingHandler) command(c *gin.Context, id uint64) (application.UpsertBracketCommand, bool) {
	var req BracketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return application.UpsertBracketCommand{}, false
	}
	from, err := parseDate(req.ValidFrom)
	if err != nil {
		badRequest(c, err)
		return application.UpsertBracketCommand{}, false
	}
	to, err := parseOptionalDate(req.ValidTo)
	if err != nil {
		badRequest(c, err)
		return application.UpsertBracketCommand{}, false
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return application.UpsertBracketCommand{
		Actor:     actorFrom(c),
		ID:        id,
		Mineral:   req.Mineral,
		MinValue:  req.MinValue,
		MaxValue:  req.MaxValue,
		PriceUSD:  req.PriceUSD,
		Unit:      req.Unit,
		ValidFrom: from,
		ValidTo:   to,
		Active:    active,
	}, true
}

func (h *PricingHandler) Create(c *gin.Context) {
	cmd, ok := h.command(c, 0)
	if !ok {
		return
	}
	b, err := h.svc.UpsertBracket(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "crear_rango", err)
		return
	}
	response.Created(c, toBracketDTO(*b))
}

func bracketID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, domain.NewValidationError("id", "debe ser un entero positivo"))
		return 0, false
	}
	return id, true
}

func (h *PricingHandler) Update(c *gin.Context) {
	id, ok := bracketID(c)
	if !ok {
		return
	}
	cmd, ok := h.command(c, id)
	if !ok {
		return
	}
	b, err := h.svc.UpsertBracket(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "actualizar_rango", err)
		return
	}
	response.Success(c, toBracketDTO(*b))
}

func (h *PricingHandler) Deactivate(c *gin.Context) {
	id, ok := bracketID(c)
	if !ok {
		return
	}
	b, err := h.svc.DeactivateBracket(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, "desactivar_rango", err)
		return
	}
	response.Success(c, toBracketDTO(*b))
}

// counterpartyOf 查询参数指定的对手方，缺省时取操作者所属主体
func counterpartyOf(c *gin.Context) (domain.Counterparty, error) {
	if t := c.Query("contraparte_tipo"); t != "" {
		return domain.NewCounterparty(domain.CounterpartyType(t), c.Query("contraparte_id"))
	}
	actor := actorFrom(c)
	return domain.NewCounterparty(domain.CounterpartyType(actor.Role), actor.PartyID)
}

func (h *PricingHandler) List(c *gin.Context) {
	cp, err := counterpartyOf(c)
	if err != nil {
		writeError(c, "listar_rangos", err)
		return
	}
	brackets, err := h.svc.ListBrackets(c.Request.Context(), cp, c.Query("mineral"))
	if err != nil {
		writeError(c, "listar_rangos", err)
		return
	}
	out := make([]PriceBracketDTO, 0, len(brackets))
	for _, b := range brackets {
		out = append(out, toBracketDTO(b))
	}
	response.Success(c, out)
}

func (h *PricingHandler) ValidateCatalog(c *gin.Context) {
	cp, err := counterpartyOf(c)
	if err != nil {
		writeError(c, "validar_tabla", err)
		return
	}
	report, err := h.svc.ValidateCatalog(c.Request.Context(), cp)
	if err != nil {
		writeError(c, "validar_tabla", err)
		return
	}
	response.Success(c, report)
}

func (h *PricingHandler) CurrentPrice(c *gin.Context) {
	mineral := c.Param("mineral")
	price, err := h.svc.ResolveCurrentPrice(c.Request.Context(), mineral)
	if err != nil {
		writeError(c, "precio_actual", err)
		return
	}
	response.Success(c, gin.H{"mineral": mineral, "precio_usd": price})
}
