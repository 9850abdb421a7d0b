package public

import (
	"strings"

	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/repository"
	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
)

// ConsumePointsRequest 积分商城消费请求
type ConsumePointsRequest struct {
	Points      int64  `json:"points" binding:"required"`
	Description string `json:"description"`
}

// GetPointsBalance 获取当前用户积分概要
func (h *Handler) GetPointsBalance(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	summary, err := h.PointsService.GetBalance(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, summary)
}

// ListPointsRecords 获取当前用户积分流水
func (h *Handler) ListPointsRecords(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	page, pageSize := readPagination(c)
	records, total, err := h.PointsService.ListRecords(repository.PointsRecordListFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   uid,
		Source:   strings.TrimSpace(c.Query("source")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, records, response.BuildPagination(page, pageSize, total))
}

// ConsumePoints 积分商城消费
func (h *Handler) ConsumePoints(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req ConsumePointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
		return
	}
	record, err := h.PointsService.Consume(c.Request.Context(), service.ConsumeInput{
		UserID:      uid,
		Points:      req.Points,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, record)
}
