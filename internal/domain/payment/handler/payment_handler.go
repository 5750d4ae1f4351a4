package handler

import (
	"errors"
	"food_store_payment/internal/domain/payment/service"
	"food_store_payment/internal/domain/payment/zalopay"
	"food_store_payment/internal/pkg/middleware"
	"food_store_payment/pkg/response"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	service service.ReconcileService
	log     *zap.Logger
}

func NewPaymentHandler(s service.ReconcileService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, log: log}
}

type CartItemInput struct {
	ProductID int64   `json:"product_id" binding:"required,gt=0"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	Price     float64 `json:"price"`
}

type CreatePaymentInput struct {
	UserID        int64           `json:"user_id" binding:"required,gt=0"`
	Items         []CartItemInput `json:"items" binding:"required,min=1,dive"`
	PaymentMethod string          `json:"payment_method"`
}

// CreatePayment 创建订单并发起 ZaloPay 支付
// @Summary 发起支付
// @Tags Payment
// @Accept json
// @Produce json
// @Param input body CreatePaymentInput true "Cart"
// @Success 200 {object} response.Response{data=service.InitiateResult}
// @Success 202 {object} response.Response "Gateway outcome unknown, order pending"
// @Router /api/payments/zalopay/create [post]
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var input CreatePaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	req := service.InitiateRequest{
		UserID:        input.UserID,
		PaymentMethod: input.PaymentMethod,
		Items:         make([]service.CartItem, 0, len(input.Items)),
	}
	for _, item := range input.Items {
		req.Items = append(req.Items, service.CartItem{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price})
	}

	result, err := h.service.Initiate(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// Callback 网关回调
// 无论处理结果如何 HTTP 状态码都是 200，结果通过 return_code 表达
// @Summary ZaloPay 回调
// @Tags Payment
// @Router /api/payments/zalopay/callback [post]
func (h *PaymentHandler) Callback(c *gin.Context) {
	var req zalopay.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Malformed callback body",
			zap.String("ip", c.ClientIP()),
			zap.String("trace_id", middleware.TraceID(c.Request.Context())),
			zap.Error(err))
		req = zalopay.CallbackRequest{}
	}

	outcome := h.service.HandleCallback(c.Request.Context(), req)
	if outcome.ReturnCode == -1 {
		h.log.Warn("Rejected unauthenticated callback",
			zap.String("ip", c.ClientIP()),
			zap.String("trace_id", middleware.TraceID(c.Request.Context())))
	}
	c.JSON(http.StatusOK, outcome)
}

// GetStatus 查询网关订单状态
// @Summary 查询支付状态
// @Tags Payment
// @Param app_trans_id path string true "app_trans_id"
// @Router /api/payments/zalopay/status/{app_trans_id} [get]
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	result, err := h.service.PollStatus(c.Request.Context(), c.Param("app_trans_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// PaymentMethods 支持的支付方式
// @Router /api/payments/zalopay/payment-methods [get]
func (h *PaymentHandler) PaymentMethods(c *gin.Context) {
	response.Success(c, gin.H{"payment_methods": h.service.PaymentMethods()})
}

// writeError 错误到 HTTP 状态码的唯一映射
func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	var (
		validation *zalopay.ValidationError
		notFound   *service.NotFoundError
		pending    *service.PendingReconciliationError
		conflict   *service.StateConflictError
		gateway    *zalopay.GatewayError
	)

	switch {
	case errors.As(err, &validation):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, validation.Error())
	case errors.As(err, &notFound):
		code := response.ErrOrderNotFound
		switch notFound.Entity {
		case "product":
			code = response.ErrProductNotFound
		case "payment":
			code = response.ErrPaymentNotFound
		}
		response.Error(c, http.StatusNotFound, code, notFound.Error())
	case errors.As(err, &pending):
		response.Respond(c, http.StatusAccepted, response.ErrPendingReconciliation,
			"payment is being confirmed with the gateway",
			gin.H{"order_id": pending.OrderID, "app_trans_id": pending.AppTransID, "status": "pending"})
	case errors.As(err, &conflict):
		response.Error(c, http.StatusConflict, response.ErrStateConflict, conflict.Error())
	case errors.As(err, &gateway):
		switch gateway.Reason {
		case zalopay.ReasonBusiness:
			response.Error(c, http.StatusBadGateway, response.ErrGatewayRejected, gateway.Message)
		case zalopay.ReasonTimeout:
			response.Error(c, http.StatusGatewayTimeout, response.ErrGatewayUnavailable, "payment gateway timed out")
		default:
			response.Error(c, http.StatusBadGateway, response.ErrGatewayUnavailable, "payment gateway unavailable")
		}
	default:
		h.log.Error("Unhandled payment error",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", middleware.TraceID(c.Request.Context())),
			zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal server error")
	}
}
