package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jifen-next/internal/cache"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/repository"
)

const (
	statsCacheTTL      = 45 * time.Second
	statsCustomMaxDays = 90
)

// ErrStatsRangeInvalid 统计区间无效
var ErrStatsRangeInvalid = errors.New("统计区间无效")

// StatsService 结算与积分运营统计
type StatsService struct {
	repo repository.StatsRepository
}

// NewStatsService 创建统计服务
func NewStatsService(repo repository.StatsRepository) *StatsService {
	return &StatsService{repo: repo}
}

// StatsQueryInput 统计查询输入
type StatsQueryInput struct {
	Range        string
	From         *time.Time
	To           *time.Time
	Timezone     string
	ForceRefresh bool
}

// StatsOverviewResponse 统计总览
type StatsOverviewResponse struct {
	Range          string `json:"range"`
	From           string `json:"from"`
	To             string `json:"to"`
	Timezone       string `json:"timezone"`
	OrdersTotal    int64  `json:"orders_total"`
	PaidOrders     int64  `json:"paid_orders"`
	PendingOrders  int64  `json:"pending_orders"`
	AmountPaid     string `json:"amount_paid"`
	PaymentRate    string `json:"payment_rate"`
	PointsAwarded  int64  `json:"points_awarded"`
	PointsConsumed int64  `json:"points_consumed"`
	PointsExpired  int64  `json:"points_expired"`
	ActiveUsers    int64  `json:"active_users"`
}

// StatsTrendPoint 积分日趋势
type StatsTrendPoint struct {
	Day      string `json:"day"`
	Awarded  int64  `json:"awarded"`
	Consumed int64  `json:"consumed"`
}

// StatsTrendResponse 积分趋势
type StatsTrendResponse struct {
	Range    string            `json:"range"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Timezone string            `json:"timezone"`
	Points   []StatsTrendPoint `json:"points"`
}

type statsWindow struct {
	rangeKey string
	startAt  time.Time
	endAt    time.Time
	timezone string
}

// GetOverview 获取统计总览
func (s *StatsService) GetOverview(ctx context.Context, input StatsQueryInput) (*StatsOverviewResponse, error) {
	if s == nil || s.repo == nil {
		return &StatsOverviewResponse{}, nil
	}
	window, err := resolveStatsWindow(input, time.Now())
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("stats:overview:%s:%d:%d:%s",
		window.rangeKey,
		window.startAt.Unix(),
		window.endAt.Unix(),
		window.timezone,
	)
	if !input.ForceRefresh {
		var cached StatsOverviewResponse
		hit, cacheErr := cache.GetJSON(ctx, cacheKey, &cached)
		if cacheErr != nil {
			logger.Debugw("stats_overview_cache_get_failed", "key", cacheKey, "error", cacheErr)
		} else if hit {
			return &cached, nil
		}
	}

	overview, err := s.repo.GetOverview(window.startAt, window.endAt)
	if err != nil {
		return nil, err
	}
	paymentRate := 0.0
	if overview.OrdersTotal > 0 {
		paymentRate = float64(overview.PaidOrders) / float64(overview.OrdersTotal) * 100
	}
	response := &StatsOverviewResponse{
		Range:          window.rangeKey,
		From:           window.startAt.Format(time.RFC3339),
		To:             window.endAt.Add(-time.Second).Format(time.RFC3339),
		Timezone:       window.timezone,
		OrdersTotal:    overview.OrdersTotal,
		PaidOrders:     overview.PaidOrders,
		PendingOrders:  overview.PendingOrders,
		AmountPaid:     models.FormatYuan(overview.AmountPaid),
		PaymentRate:    fmt.Sprintf("%.2f", paymentRate),
		PointsAwarded:  overview.PointsAwarded,
		PointsConsumed: overview.PointsConsumed,
		PointsExpired:  overview.PointsExpired,
		ActiveUsers:    overview.ActiveUsers,
	}

	logger.BestEffort("stats_overview_cache_set", func() error {
		return cache.SetJSON(ctx, cacheKey, response, statsCacheTTL)
	}, "key", cacheKey)
	return response, nil
}

// GetPointsTrends 获取积分发放与消耗日趋势
func (s *StatsService) GetPointsTrends(ctx context.Context, input StatsQueryInput) (*StatsTrendResponse, error) {
	if s == nil || s.repo == nil {
		return &StatsTrendResponse{}, nil
	}
	window, err := resolveStatsWindow(input, time.Now())
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.GetPointsTrends(window.startAt, window.endAt)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]repository.PointsTrendRow, len(rows))
	for _, row := range rows {
		byDay[row.Day] = row
	}
	points := make([]StatsTrendPoint, 0)
	location, _ := time.LoadLocation(window.timezone)
	if location == nil {
		location = time.Local
	}
	for day := window.startAt.In(location); day.Before(window.endAt); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		row := byDay[key]
		points = append(points, StatsTrendPoint{Day: key, Awarded: row.Awarded, Consumed: row.Consumed})
	}
	return &StatsTrendResponse{
		Range:    window.rangeKey,
		From:     window.startAt.Format(time.RFC3339),
		To:       window.endAt.Add(-time.Second).Format(time.RFC3339),
		Timezone: window.timezone,
		Points:   points,
	}, nil
}

func resolveStatsWindow(input StatsQueryInput, now time.Time) (statsWindow, error) {
	rangeKey := strings.ToLower(strings.TrimSpace(input.Range))
	if rangeKey == "" {
		rangeKey = "7d"
	}

	timezone := strings.TrimSpace(input.Timezone)
	location := time.Local
	if timezone != "" {
		if parsed, err := time.LoadLocation(timezone); err == nil {
			location = parsed
		} else {
			timezone = ""
		}
	}
	if timezone == "" {
		timezone = location.String()
	}

	localNow := now.In(location)
	todayStart := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, location)
	window := statsWindow{rangeKey: rangeKey, timezone: timezone}

	switch rangeKey {
	case "today":
		window.startAt = todayStart
		window.endAt = todayStart.AddDate(0, 0, 1)
	case "7d":
		window.startAt = todayStart.AddDate(0, 0, -6)
		window.endAt = todayStart.AddDate(0, 0, 1)
	case "30d":
		window.startAt = todayStart.AddDate(0, 0, -29)
		window.endAt = todayStart.AddDate(0, 0, 1)
	case "custom":
		if input.From == nil || input.To == nil {
			return statsWindow{}, ErrStatsRangeInvalid
		}
		startAt := input.From.In(location)
		endAt := input.To.In(location)
		if endAt.Before(startAt) {
			return statsWindow{}, ErrStatsRangeInvalid
		}
		if endAt.Sub(startAt) > time.Hour*24*statsCustomMaxDays {
			return statsWindow{}, ErrStatsRangeInvalid
		}
		window.startAt = startAt
		window.endAt = endAt.Add(time.Second)
	default:
		return statsWindow{}, ErrStatsRangeInvalid
	}

	if !window.endAt.After(window.startAt) {
		return statsWindow{}, ErrStatsRangeInvalid
	}
	return window, nil
}
