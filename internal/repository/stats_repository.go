package repository

import (
	"fmt"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"

	"gorm.io/gorm"
)

// StatsRepository 结算与积分聚合查询接口
// 说明：仅聚合统计数据，不承载业务规则。
type StatsRepository interface {
	GetOverview(startAt, endAt time.Time) (StatsOverviewRow, error)
	GetPointsTrends(startAt, endAt time.Time) ([]PointsTrendRow, error)
}

// StatsOverviewRow 区间总览
type StatsOverviewRow struct {
	OrdersTotal    int64
	PaidOrders     int64
	PendingOrders  int64
	AmountPaid     int64
	PointsAwarded  int64
	PointsConsumed int64
	PointsExpired  int64
	ActiveUsers    int64
}

// PointsTrendRow 积分按日趋势
type PointsTrendRow struct {
	Day      string
	Awarded  int64
	Consumed int64
}

// GormStatsRepository GORM 实现
type GormStatsRepository struct {
	db *gorm.DB
}

// NewStatsRepository 创建统计仓库
func NewStatsRepository(db *gorm.DB) *GormStatsRepository {
	return &GormStatsRepository{db: db}
}

// GetOverview 获取区间总览
func (r *GormStatsRepository) GetOverview(startAt, endAt time.Time) (StatsOverviewRow, error) {
	result := StatsOverviewRow{}

	orderBase := func() *gorm.DB {
		return r.db.Model(&models.PaymentOrder{}).
			Where("created_at >= ? AND created_at < ?", startAt, endAt)
	}
	if err := orderBase().Count(&result.OrdersTotal).Error; err != nil {
		return result, err
	}
	if err := orderBase().Where("status = ?", constants.OrderStatusPending).Count(&result.PendingOrders).Error; err != nil {
		return result, err
	}

	paidBase := func() *gorm.DB {
		return r.db.Model(&models.PaymentOrder{}).
			Where("paid_at IS NOT NULL AND paid_at >= ? AND paid_at < ? AND status = ?", startAt, endAt, constants.OrderStatusPaid)
	}
	if err := paidBase().Count(&result.PaidOrders).Error; err != nil {
		return result, err
	}
	if err := paidBase().Select("COALESCE(SUM(amount), 0)").Scan(&result.AmountPaid).Error; err != nil {
		return result, err
	}

	recordBase := func() *gorm.DB {
		return r.db.Model(&models.PointsRecord{}).
			Where("created_at >= ? AND created_at < ?", startAt, endAt)
	}
	if err := recordBase().Where("points_change > 0").
		Select("COALESCE(SUM(points_change), 0)").
		Scan(&result.PointsAwarded).Error; err != nil {
		return result, err
	}
	if err := recordBase().Where("source = ?", constants.PointsSourceMallConsumption).
		Select("COALESCE(SUM(-points_change), 0)").
		Scan(&result.PointsConsumed).Error; err != nil {
		return result, err
	}
	if err := recordBase().Where("source = ?", constants.PointsSourceExpiredDeduct).
		Select("COALESCE(SUM(-points_change), 0)").
		Scan(&result.PointsExpired).Error; err != nil {
		return result, err
	}
	if err := recordBase().Distinct("user_id").Count(&result.ActiveUsers).Error; err != nil {
		return result, err
	}
	return result, nil
}

// GetPointsTrends 获取积分按日趋势
func (r *GormStatsRepository) GetPointsTrends(startAt, endAt time.Time) ([]PointsTrendRow, error) {
	expr := dayExpr(r.db, "created_at")
	var rows []PointsTrendRow
	if err := r.db.Model(&models.PointsRecord{}).
		Select(fmt.Sprintf(
			"%s as day, COALESCE(SUM(CASE WHEN points_change > 0 THEN points_change ELSE 0 END), 0) as awarded, "+
				"COALESCE(SUM(CASE WHEN source = '%s' THEN -points_change ELSE 0 END), 0) as consumed",
			expr, constants.PointsSourceMallConsumption,
		)).
		Where("created_at >= ? AND created_at < ?", startAt, endAt).
		Group(expr).
		Order("day asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
