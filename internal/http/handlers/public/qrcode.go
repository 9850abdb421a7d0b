package public

import (
	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/models"

	"github.com/gin-gonic/gin"
)

// VerifyQRCodeRequest 扫码内容校验请求
type VerifyQRCodeRequest struct {
	Content string `json:"content" binding:"required"`
}

// VerifyQRCode 校验扫码得到的商户收款码
func (h *Handler) VerifyQRCode(c *gin.Context) {
	var req VerifyQRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
		return
	}
	payload, err := h.QRCodeService.VerifyQRCode(req.Content)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	data := gin.H{
		"merchant_id": payload.MerchantID,
		"sub_mch_id":  payload.SubMchID,
		"timestamp":   payload.Timestamp,
	}
	if payload.FixedAmount != nil {
		data["fixed_amount"] = *payload.FixedAmount
		data["fixed_amount_yuan"] = models.FormatYuan(*payload.FixedAmount)
	}
	response.Success(c, data)
}
