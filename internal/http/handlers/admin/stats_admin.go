package admin

import (
	"errors"
	"strconv"
	"strings"

	handlershared "github.com/jifen-next/internal/http/handlers/shared"
	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
)

// GetStatsOverview 获取结算与积分总览
func (h *Handler) GetStatsOverview(c *gin.Context) {
	input, err := parseStatsQuery(c)
	if err != nil {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
		return
	}

	data, err := h.StatsService.GetOverview(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrStatsRangeInvalid) {
			respondError(c, response.CodeBadRequest, service.ErrStatsRangeInvalid.Error(), nil)
			return
		}
		respondError(c, response.CodeInternal, "统计数据获取失败", err)
		return
	}

	response.Success(c, data)
}

// GetPointsTrends 获取积分发放与消费趋势
func (h *Handler) GetPointsTrends(c *gin.Context) {
	input, err := parseStatsQuery(c)
	if err != nil {
		respondError(c, response.CodeBadRequest, handlershared.MsgBadRequest, err)
		return
	}

	data, err := h.StatsService.GetPointsTrends(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrStatsRangeInvalid) {
			respondError(c, response.CodeBadRequest, service.ErrStatsRangeInvalid.Error(), nil)
			return
		}
		respondError(c, response.CodeInternal, "统计数据获取失败", err)
		return
	}

	response.Success(c, data)
}

func parseStatsQuery(c *gin.Context) (service.StatsQueryInput, error) {
	rangeRaw := strings.TrimSpace(c.DefaultQuery("range", "7d"))
	fromRaw := strings.TrimSpace(c.Query("from"))
	toRaw := strings.TrimSpace(c.Query("to"))
	timezone := strings.TrimSpace(c.Query("tz"))
	forceRefreshRaw := strings.TrimSpace(c.Query("force_refresh"))

	from, err := parseTimeNullable(fromRaw)
	if err != nil {
		return service.StatsQueryInput{}, err
	}
	to, err := parseTimeNullable(toRaw)
	if err != nil {
		return service.StatsQueryInput{}, err
	}

	forceRefresh := false
	if forceRefreshRaw != "" {
		parsed, err := strconv.ParseBool(forceRefreshRaw)
		if err != nil {
			return service.StatsQueryInput{}, err
		}
		forceRefresh = parsed
	}

	return service.StatsQueryInput{
		Range:        rangeRaw,
		From:         from,
		To:           to,
		Timezone:     timezone,
		ForceRefresh: forceRefresh,
	}, nil
}
