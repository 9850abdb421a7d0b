package repository

import (
	"strings"

	"github.com/jifen-next/internal/models"

	"gorm.io/gorm"
)

// CallbackLogRepository 支付回调审计日志数据访问接口
type CallbackLogRepository interface {
	Create(log *models.CallbackLog) error
	List(filter CallbackLogListFilter) ([]models.CallbackLog, int64, error)
}

// GormCallbackLogRepository GORM 实现
type GormCallbackLogRepository struct {
	db *gorm.DB
}

// NewCallbackLogRepository 创建回调日志仓库
func NewCallbackLogRepository(db *gorm.DB) *GormCallbackLogRepository {
	return &GormCallbackLogRepository{db: db}
}

// Create 写入回调日志
func (r *GormCallbackLogRepository) Create(log *models.CallbackLog) error {
	return r.db.Create(log).Error
}

// List 分页查询回调日志，交易号按请求体 JSON 字段匹配
func (r *GormCallbackLogRepository) List(filter CallbackLogListFilter) ([]models.CallbackLog, int64, error) {
	query := r.db.Model(&models.CallbackLog{})
	if orderNo := strings.TrimSpace(filter.OrderNo); orderNo != "" {
		query = query.Where("order_no = ?", orderNo)
	}
	if result := strings.TrimSpace(filter.Result); result != "" {
		query = query.Where("result = ?", result)
	}
	if txnID := strings.TrimSpace(filter.TransactionID); txnID != "" {
		query = query.Where(jsonTextExpr(r.db, "body", "transaction_id")+" = ?", txnID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var logs []models.CallbackLog
	if err := query.Order("id desc").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
