package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/response"
)

// SettlementHandler 结算单生命周期接口
type SettlementHandler struct {
	svc SettlementUseCases
}

func NewSettlementHandler(svc SettlementUseCases) *SettlementHandler {
	return &SettlementHandler{svc: svc}
}

func (h *SettlementHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/liquidaciones")
	{
		api.POST("", h.CreateSale)                            // 创建销售结算
		api.POST("/servicio", h.CreateToll)                   // 创建加工费结算
		api.GET("", h.List)                                   // 分页查询
		api.GET("/:id", h.Get)                                // 详情
		api.POST("/:id/aprobar", h.Approve)                   // 对手方审批
		api.POST("/:id/rechazar", h.Reject)                   // 对手方拒绝
		api.POST("/:id/reportes", h.SubmitReport)             // 提交化验报告
		api.POST("/:id/cerrar", h.Close)                      // socio 关闭
		api.POST("/:id/pago", h.RegisterPayment)              // 对手方登记付款
		api.POST("/:id/procesado", h.MarkProcessed)           // 加工厂完成加工
		api.POST("/:id/pago-servicio", h.RegisterTollPayment) // socio 支付加工费
	}
}

// CreateSaleRequest 创建销售结算请求
type CreateSaleRequest struct {
	Kind             string                  `json:"tipo" binding:"required"`
	TradingCompanyID string                  `json:"comercializadora_id" binding:"required"`
	PrincipalMineral string                  `json:"mineral_principal"`
	Currency         string                  `json:"moneda"`
	Date             *string                 `json:"fecha_liquidacion"`
	Items            []application.ItemInput `json:"items" binding:"required,min=1"`
}

func (h *SettlementHandler) CreateSale(c *gin.Context) {
	var req CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		badRequest(c, err)
		return
	}
	cmd := application.CreateSaleCommand{
		Actor:            actorFrom(c),
		Kind:             domain.Kind(req.Kind),
		TradingCompanyID: req.TradingCompanyID,
		PrincipalMineral: req.PrincipalMineral,
		Currency:         req.Currency,
		Items:            req.Items,
	}
	if date != nil {
		cmd.Date = *date
	}
	st, err := h.svc.CreateSaleSettlement(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "crear_venta", err)
		return
	}
	response.Created(c, toSettlementDTO(st))
}

// CreateTollRequest 创建加工费结算请求
type CreateTollRequest struct {
	SocioID       string                  `json:"socio_id" binding:"required"`
	Currency      string                  `json:"moneda"`
	Date          *string                 `json:"fecha_liquidacion"`
	ProcessingFee decimal.Decimal         `json:"costo_procesamiento"`
	Items         []application.ItemInput `json:"items" binding:"required,min=1"`
}

func (h *SettlementHandler) CreateToll(c *gin.Context) {
	var req CreateTollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		badRequest(c, err)
		return
	}
	cmd := application.CreateTollCommand{
		Actor:         actorFrom(c),
		SocioID:       req.SocioID,
		Currency:      req.Currency,
		ProcessingFee: req.ProcessingFee,
		Items:         req.Items,
	}
	if date != nil {
		cmd.Date = *date
	}
	st, err := h.svc.CreateTollSettlement(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "crear_servicio", err)
		return
	}
	response.Created(c, toSettlementDTO(st))
}

func (h *SettlementHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	q := application.ListSettlementsQuery{
		Filter: domain.SettlementFilter{
			SocioID:          c.Query("socio_id"),
			CounterpartyType: domain.CounterpartyType(c.Query("contraparte_tipo")),
			CounterpartyID:   c.Query("contraparte_id"),
			Kind:             domain.Kind(c.Query("tipo")),
			State:            domain.State(c.Query("estado")),
		},
		Page:     page,
		PageSize: size,
	}
	items, p, err := h.svc.ListSettlements(c.Request.Context(), q)
	if err != nil {
		writeError(c, "listar", err)
		return
	}
	out := make([]SettlementDTO, 0, len(items))
	for _, st := range items {
		out = append(out, toSettlementDTO(st))
	}
	response.SuccessWithPagination(c, out, p)
}

func (h *SettlementHandler) Get(c *gin.Context) {
	view, err := h.svc.GetSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "consultar", err)
		return
	}
	response.Success(c, toSettlementView(view))
}

func (h *SettlementHandler) Approve(c *gin.Context) {
	st, err := h.svc.Approve(c.Request.Context(), application.SettlementCommand{
		Actor:        actorFrom(c),
		SettlementID: c.Param("id"),
	})
	if err != nil {
		writeError(c, "aprobar", err)
		return
	}
	response.Success(c, toSettlementDTO(st))
}

// RejectRequest 拒绝请求
type RejectRequest struct {
	Reason string `json:"motivo" binding:"required"`
}

func (h *SettlementHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.Reject(c.Request.Context(), application.RejectCommand{
		Actor:        actorFrom(c),
		SettlementID: c.Param("id"),
		Reason:       req.Reason,
	})
	if err != nil {
		writeError(c, "rechazar", err)
		return
	}
	response.Success(c, toSettlementDTO(st))
}

// SubmitReportRequest 化验报告请求
type SubmitReportRequest struct {
	ItemID         string           `json:"item_id"`
	Number         string           `json:"numero"`
	LabName        string           `json:"laboratorio" binding:"required"`
	PackagedAt     *string          `json:"fecha_empaque"`
	ReceivedAt     *string          `json:"fecha_recepcion"`
	DispatchedAt   *string          `json:"fecha_despacho"`
	AnalyzedAt     *string          `json:"fecha_analisis"`
	PrincipalGrade *decimal.Decimal `json:"ley_mineral_principal"`
	SilverGradeGPT *decimal.Decimal `json:"ley_ag_gmt"`
	SilverGradeDM  *decimal.Decimal `json:"ley_ag_dm"`
	LeadGrade      *decimal.Decimal `json:"ley_pb"`
	ZincGrade      *decimal.Decimal `json:"ley_zn"`
	Moisture       *decimal.Decimal `json:"humedad"`
	SackCount      *int             `json:"numero_sacos"`
	SackWeight     *decimal.Decimal `json:"peso_por_saco"`
	PackagingType  string           `json:"tipo_empaque"`
	DocumentURL    string           `json:"url_documento"`
}

func (h *SettlementHandler) SubmitReport(c *gin.Context) {
	var req SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmd := application.SubmitReportCommand{
		Actor:          actorFrom(c),
		SettlementID:   c.Param("id"),
		ItemID:         req.ItemID,
		Number:         req.Number,
		LabName:        req.LabName,
		PrincipalGrade: req.PrincipalGrade,
		SilverGradeGPT: req.SilverGradeGPT,
		SilverGradeDM:  req.SilverGradeDM,
		LeadGrade:      req.LeadGrade,
		ZincGrade:      req.ZincGrade,
		Moisture:       req.Moisture,
		SackCount:      req.SackCount,
		SackWeight:     req.SackWeight,
		PackagingType:  req.PackagingType,
		DocumentURL:    req.DocumentURL,
	}
	var err error
	for _, d := range []struct {
		src *string
		dst **time.Time
	}{
		{req.PackagedAt, &cmd.PackagedAt},
		{req.ReceivedAt, &cmd.ReceivedAt},
		{req.DispatchedAt, &cmd.DispatchedAt},
		{req.AnalyzedAt, &cmd.AnalyzedAt},
	} {
		if *d.dst, err = parseOptionalDate(d.src); err != nil {
			badRequest(c, err)
			return
		}
	}

	res, err := h.svc.SubmitReport(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "enviar_reporte", err)
		return
	}
	body := gin.H{
		"liquidacion": toSettlementDTO(res.Settlement),
		"reporte":     toLabReportDTO(res.Report),
		"conciliado":  res.Outcome != nil,
	}
	if res.Outcome != nil {
		body["requiere_revision"] = res.Outcome.RequiresReview
		body["diferencia"] = res.Outcome.Disagreement
	}
	response.Created(c, body)
}

// CloseRequest 关闭请求，未指定日期时按当天估值
type CloseRequest struct {
	ClosingDate *string `json:"fecha_cierre"`
}

func (h *SettlementHandler) Close(c *gin.Context) {
	var req CloseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	closing, err := parseOptionalDate(req.ClosingDate)
	if err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.CloseSettlement(c.Request.Context(), application.CloseCommand{
		Actor:        actorFrom(c),
		SettlementID: c.Param("id"),
		ClosingDate:  closing,
	})
	if err != nil {
		writeError(c, "cerrar", err)
		return
	}
	response.Success(c, toSettlementDTO(st))
}

// PaymentRequest 付款凭证
type PaymentRequest struct {
	Method        string  `json:"metodo_pago" binding:"required"`
	ReceiptNumber string  `json:"numero_comprobante" binding:"required"`
	ReceiptURL    string  `json:"url_comprobante" binding:"required"`
	PaidAt        *string `json:"fecha_pago"`
}

func (h *SettlementHandler) paymentCommand(c *gin.Context) (application.PaymentCommand, bool) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return application.PaymentCommand{}, false
	}
	paidAt, err := parseOptionalDate(req.PaidAt)
	if err != nil {
		badRequest(c, err)
		return application.PaymentCommand{}, false
	}
	return application.PaymentCommand{
		Actor:         actorFrom(c),
		SettlementID:  c.Param("id"),
		Method:        req.Method,
		ReceiptNumber: req.ReceiptNumber,
		ReceiptURL:    req.ReceiptURL,
		PaidAt:        paidAt,
	}, true
}

func (h *SettlementHandler) RegisterPayment(c *gin.Context) {
	cmd, ok := h.paymentCommand(c)
	if !ok {
		return
	}
	st, err := h.svc.RegisterPayment(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "registrar_pago", err)
		return
	}
	response.Success(c, toSettlementDTO(st))
}

func (h *SettlementHandler) MarkProcessed(c *gin.Context) {
	st, err := h.svc.MarkTollAwaitingPayment(c.Request.Context(), application.SettlementCommand{
		Actor:        actorFrom(c),
		SettlementID: c.Param("id"),
	})
	if err != nil {
		writeError(c, "marcar_procesado", err)
		return
	}
	response.Success(c, toSettlementDTO(st))
}

func (h *SettlementHandler) RegisterTollPayment(c *gin.Context) {
	cmd, ok := h.paymentCommand(c)
	if !ok {
		return
	}
	st, err := h.svc.RegisterTollPayment(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, "pagar_servicio", err)
		return
	}
	response.Success(c, toSettlementDTO(st))
}
