package admin

import (
	"strings"

	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/models"

	"github.com/gin-gonic/gin"
)

// GetMerchantQRCode 生成商户收款码内容，amount 为元，留空表示用户自填金额
func (h *Handler) GetMerchantQRCode(c *gin.Context) {
	merchantID, ok := parseUintParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, nil)
		return
	}
	var fixedAmount *int64
	if raw := strings.TrimSpace(c.Query("amount")); raw != "" {
		amount, err := models.ParseYuan(raw)
		if err != nil || amount <= 0 {
			respondError(c, response.CodeBadRequest, "金额格式错误", err)
			return
		}
		fixedAmount = &amount
	}
	payload, err := h.QRCodeService.BuildMerchantQRCode(merchantID, fixedAmount)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, payload)
}
