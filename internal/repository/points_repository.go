package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"

	"gorm.io/gorm"
)

// PointsRepository 积分流水数据访问接口
// 说明：流水只追加；过期处理结果写入 points_expiries 标记表。
type PointsRepository interface {
	CreateRecord(record *models.PointsRecord) error
	GetLatestRecord(userID uint) (*models.PointsRecord, error)
	GetRewardByOrderID(orderID uint) (*models.PointsRecord, error)
	ListRecords(filter PointsRecordListFilter) ([]models.PointsRecord, int64, error)
	ListLedger(userID uint) ([]models.PointsRecord, error)
	GetTotals(userID uint) (PointsTotals, error)
	SumExpiringBetween(userID uint, from, to time.Time) (int64, error)
	ListDueRewardUserIDs(now time.Time, limit int) ([]uint, error)
	ListDueRewardsByUser(userID uint, now time.Time) ([]models.PointsRecord, error)
	CreateExpiry(marker *models.PointsExpiry) error
	GetExpiryByRewardID(rewardRecordID uint) (*models.PointsExpiry, error)
	WithTx(tx *gorm.DB) *GormPointsRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// GormPointsRepository GORM 实现
type GormPointsRepository struct {
	db *gorm.DB
}

// NewPointsRepository 创建积分仓库
func NewPointsRepository(db *gorm.DB) *GormPointsRepository {
	return &GormPointsRepository{db: db}
}

// Transaction 执行事务
func (r *GormPointsRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// WithTx 绑定事务
func (r *GormPointsRepository) WithTx(tx *gorm.DB) *GormPointsRepository {
	if tx == nil {
		return r
	}
	return &GormPointsRepository{db: tx}
}

// CreateRecord 追加积分流水
func (r *GormPointsRepository) CreateRecord(record *models.PointsRecord) error {
	return r.db.Create(record).Error
}

// GetLatestRecord 获取用户最后一条流水
func (r *GormPointsRepository) GetLatestRecord(userID uint) (*models.PointsRecord, error) {
	var record models.PointsRecord
	if err := r.db.Where("user_id = ?", userID).
		Order("created_at desc").
		Order("id desc").
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetRewardByOrderID 获取订单对应的支付奖励流水
func (r *GormPointsRepository) GetRewardByOrderID(orderID uint) (*models.PointsRecord, error) {
	if orderID == 0 {
		return nil, nil
	}
	var record models.PointsRecord
	if err := r.db.Where("order_id = ? AND source = ?", orderID, constants.PointsSourcePaymentReward).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListRecords 分页查询积分流水，按时间倒序
func (r *GormPointsRepository) ListRecords(filter PointsRecordListFilter) ([]models.PointsRecord, int64, error) {
	query := r.db.Model(&models.PointsRecord{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if source := strings.TrimSpace(filter.Source); source != "" {
		query = query.Where("source = ?", source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var records []models.PointsRecord
	if err := query.Order("created_at desc").Order("id desc").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListLedger 按 (created_at, id) 正序返回用户全部流水
func (r *GormPointsRepository) ListLedger(userID uint) ([]models.PointsRecord, error) {
	var records []models.PointsRecord
	if err := r.db.Where("user_id = ?", userID).
		Order("created_at asc").
		Order("id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetTotals 统计用户累计获得与累计支出
func (r *GormPointsRepository) GetTotals(userID uint) (PointsTotals, error) {
	var totals PointsTotals
	if err := r.db.Model(&models.PointsRecord{}).
		Where("user_id = ? AND points_change > 0", userID).
		Select("COALESCE(SUM(points_change), 0)").
		Scan(&totals.TotalEarned).Error; err != nil {
		return totals, err
	}
	if err := r.db.Model(&models.PointsRecord{}).
		Where("user_id = ? AND points_change < 0", userID).
		Select("COALESCE(SUM(-points_change), 0)").
		Scan(&totals.TotalSpent).Error; err != nil {
		return totals, err
	}
	return totals, nil
}

// SumExpiringBetween 统计 (from, to] 区间内到期且尚未处理的奖励积分
func (r *GormPointsRepository) SumExpiringBetween(userID uint, from, to time.Time) (int64, error) {
	var sum int64
	err := r.dueRewardBase().
		Where("points_records.user_id = ? AND points_records.expires_at > ? AND points_records.expires_at <= ?", userID, from, to).
		Select("COALESCE(SUM(points_records.points_change), 0)").
		Scan(&sum).Error
	return sum, err
}

// ListDueRewardUserIDs 列出存在已到期未处理奖励的用户
func (r *GormPointsRepository) ListDueRewardUserIDs(now time.Time, limit int) ([]uint, error) {
	query := r.dueRewardBase().
		Where("points_records.expires_at <= ?", now).
		Distinct().
		Order("points_records.user_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var userIDs []uint
	if err := query.Pluck("points_records.user_id", &userIDs).Error; err != nil {
		return nil, err
	}
	return userIDs, nil
}

// ListDueRewardsByUser 列出用户已到期未处理的奖励流水
func (r *GormPointsRepository) ListDueRewardsByUser(userID uint, now time.Time) ([]models.PointsRecord, error) {
	var records []models.PointsRecord
	if err := r.dueRewardBase().
		Where("points_records.user_id = ? AND points_records.expires_at <= ?", userID, now).
		Select("points_records.*").
		Order("points_records.id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CreateExpiry 写入过期处理标记
func (r *GormPointsRepository) CreateExpiry(marker *models.PointsExpiry) error {
	return r.db.Create(marker).Error
}

// GetExpiryByRewardID 获取奖励流水的处理标记
func (r *GormPointsRepository) GetExpiryByRewardID(rewardRecordID uint) (*models.PointsExpiry, error) {
	var marker models.PointsExpiry
	if err := r.db.Where("reward_record_id = ?", rewardRecordID).First(&marker).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &marker, nil
}

func (r *GormPointsRepository) dueRewardBase() *gorm.DB {
	return r.db.Model(&models.PointsRecord{}).
		Joins("LEFT JOIN points_expiries ON points_expiries.reward_record_id = points_records.id").
		Where("points_records.source = ? AND points_records.expires_at IS NOT NULL AND points_expiries.id IS NULL",
			constants.PointsSourcePaymentReward)
}
