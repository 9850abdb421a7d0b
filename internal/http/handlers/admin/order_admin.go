package admin

import (
	"strings"

	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/repository"

	"github.com/gin-gonic/gin"
)

// RefundOrderRequest 退款请求
type RefundOrderRequest struct {
	Reason string `json:"reason"`
}

// RefundOrder 将已支付订单标记为已退款并回收奖励积分
func (h *Handler) RefundOrder(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, nil)
		return
	}
	var req RefundOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
			return
		}
	}
	result, err := h.OrderService.RefundOrder(c.Request.Context(), orderNo, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"order":              result.Order,
		"points_clawed_back": result.PointsClawedBack,
	})
}

// ListCallbackLogs 查询支付回调审计日志
func (h *Handler) ListCallbackLogs(c *gin.Context) {
	page, pageSize := readPagination(c)
	logs, total, err := h.SettlementService.ListCallbackLogs(repository.CallbackLogListFilter{
		Page:          page,
		PageSize:      pageSize,
		OrderNo:       strings.TrimSpace(c.Query("order_no")),
		Result:        strings.TrimSpace(c.Query("result")),
		TransactionID: strings.TrimSpace(c.Query("transaction_id")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, logs, response.BuildPagination(page, pageSize, total))
}
