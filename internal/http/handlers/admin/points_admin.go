package admin

import (
	"errors"

	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
)

// AdjustPointsRequest 管理员调整积分请求，delta 为负数表示扣减
type AdjustPointsRequest struct {
	UserID      uint   `json:"user_id" binding:"required"`
	Delta       int64  `json:"delta" binding:"required"`
	Description string `json:"description"`
}

// AdjustPoints 管理员调整用户积分
func (h *Handler) AdjustPoints(c *gin.Context) {
	var req AdjustPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
		return
	}
	record, err := h.PointsService.Adjust(c.Request.Context(), service.AdjustInput{
		UserID:      req.UserID,
		Delta:       req.Delta,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, record)
}

// VerifyUserLedger 校验用户积分余额与流水是否一致
func (h *Handler) VerifyUserLedger(c *gin.Context) {
	userID, ok := parseUintParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, nil)
		return
	}
	if err := h.PointsService.VerifyLedger(userID); err != nil {
		if errors.Is(err, service.ErrLedgerInconsistent) {
			response.Success(c, gin.H{"user_id": userID, "consistent": false, "detail": err.Error()})
			return
		}
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "consistent": true})
}
