package public

import (
	"strings"
	"time"

	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/repository"
	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateOrderRequest 创建支付订单请求，金额单位为分
type CreateOrderRequest struct {
	MerchantID  uint   `json:"merchant_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// OrderView 订单响应
type OrderView struct {
	OrderNo           string     `json:"order_no"`
	MerchantID        uint       `json:"merchant_id"`
	Amount            int64      `json:"amount"`
	AmountYuan        string     `json:"amount_yuan"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	PointsToAward     int64      `json:"points_to_award"`
	PointsAwarded     *int64     `json:"points_awarded"`
	GatewayTradeState string     `json:"gateway_trade_state,omitempty"`
	ExpiresAt         time.Time  `json:"expires_at"`
	PaidAt            *time.Time `json:"paid_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (h *Handler) buildOrderView(order *models.PaymentOrder) OrderView {
	return OrderView{
		OrderNo:       order.OrderNo,
		MerchantID:    order.MerchantID,
		Amount:        order.Amount,
		AmountYuan:    models.FormatYuan(order.Amount),
		Description:   order.Description,
		Status:        order.Status,
		PointsToAward: h.PointsService.PointsForAmount(order.Amount),
		PointsAwarded: order.PointsAwarded,
		ExpiresAt:     order.ExpiresAt,
		PaidAt:        order.PaidAt,
		CreatedAt:     order.CreatedAt,
	}
}

// CreateOrder 创建待支付订单
func (h *Handler) CreateOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
		return
	}
	order, err := h.OrderService.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:      uid,
		MerchantID:  req.MerchantID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, h.buildOrderView(order))
}

// PayOrder 向网关下单并返回小程序支付参数
func (h *Handler) PayOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, nil)
		return
	}
	initiation, err := h.OrderService.InitiatePayment(c.Request.Context(), orderNo, uid, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, initiation)
}

// GetOrder 查询订单状态，待支付订单附带网关交易状态
func (h *Handler) GetOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	view, err := h.OrderService.GetUserOrderStatus(c.Request.Context(), uid, strings.TrimSpace(c.Param("order_no")))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	result := h.buildOrderView(view.Order)
	result.GatewayTradeState = view.GatewayTradeState
	response.Success(c, result)
}

// ListOrders 查询当前用户订单
func (h *Handler) ListOrders(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	page, pageSize := readPagination(c)
	orders, total, err := h.OrderService.ListUserOrders(repository.PaymentOrderListFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   uid,
		Status:   strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	items := make([]OrderView, 0, len(orders))
	for i := range orders {
		items = append(items, h.buildOrderView(&orders[i]))
	}
	response.SuccessWithPage(c, items, response.BuildPagination(page, pageSize, total))
}

// CancelOrder 取消待支付订单
func (h *Handler) CancelOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	order, err := h.OrderService.CancelOrder(uid, strings.TrimSpace(c.Param("order_no")))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, h.buildOrderView(order))
}
