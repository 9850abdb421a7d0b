package public

import (
	"io"
	"net/http"
	"strings"

	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
)

const maxCallbackBodyBytes = 1 << 20

// HandlePaymentNotify 网关支付结果通知入口，直接输出协议应答，不使用统一响应结构
func (h *Handler) HandlePaymentNotify(c *gin.Context) {
	log := requestLog(c)
	requestID, _ := c.Get("request_id")
	requestIDText, _ := requestID.(string)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBodyBytes))
	if err != nil {
		log.Warnw("payment_notify_body_read_failed", "error", err)
		ack := h.Gateway.BuildAcknowledgement(false, "读取报文失败")
		c.Data(ack.StatusCode, ack.ContentType, ack.Body)
		return
	}
	log.Infow("payment_notify_received",
		"client_ip", c.ClientIP(),
		"body_size", len(body),
		"wechatpay_serial", strings.TrimSpace(c.GetHeader("Wechatpay-Serial")),
		"wechatpay_timestamp", strings.TrimSpace(c.GetHeader("Wechatpay-Timestamp")),
	)

	ack := h.SettlementService.HandleCallback(c.Request.Context(), service.CallbackRequest{
		Headers:   c.Request.Header.Clone(),
		Body:      body,
		RequestID: requestIDText,
	})
	if ack.StatusCode == 0 {
		ack.StatusCode = http.StatusOK
	}
	c.Data(ack.StatusCode, ack.ContentType, ack.Body)
}
