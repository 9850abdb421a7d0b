package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentOrderRepository 支付订单数据访问接口
// 说明：所有状态迁移均为带前置状态的条件更新，调用方依据返回值判断是否生效。
type PaymentOrderRepository interface {
	Create(order *models.PaymentOrder) error
	GetByID(id uint) (*models.PaymentOrder, error)
	GetByOrderNo(orderNo string) (*models.PaymentOrder, error)
	GetByOrderNoForUpdate(orderNo string) (*models.PaymentOrder, error)
	UpdatePrepayID(id uint, prepayID string) error
	MarkPaid(id uint, gatewayTxnID string, points int64, paidAt time.Time) (bool, error)
	TransitionFromPending(id uint, status string) (bool, error)
	MarkRefunded(id uint) (bool, error)
	ExpireStalePending(now time.Time) (int64, error)
	List(filter PaymentOrderListFilter) ([]models.PaymentOrder, int64, error)
	WithTx(tx *gorm.DB) *GormPaymentOrderRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// GormPaymentOrderRepository GORM 实现
type GormPaymentOrderRepository struct {
	db *gorm.DB
}

// NewPaymentOrderRepository 创建支付订单仓库
func NewPaymentOrderRepository(db *gorm.DB) *GormPaymentOrderRepository {
	return &GormPaymentOrderRepository{db: db}
}

// Transaction 执行事务
func (r *GormPaymentOrderRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// WithTx 绑定事务
func (r *GormPaymentOrderRepository) WithTx(tx *gorm.DB) *GormPaymentOrderRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentOrderRepository{db: tx}
}

// Create 创建订单
func (r *GormPaymentOrderRepository) Create(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

// GetByID 根据 ID 获取订单
func (r *GormPaymentOrderRepository) GetByID(id uint) (*models.PaymentOrder, error) {
	if id == 0 {
		return nil, nil
	}
	var order models.PaymentOrder
	if err := r.db.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo 根据订单号获取订单
func (r *GormPaymentOrderRepository) GetByOrderNo(orderNo string) (*models.PaymentOrder, error) {
	return r.getByOrderNo(r.db, orderNo)
}

// GetByOrderNoForUpdate 根据订单号加锁获取订单
func (r *GormPaymentOrderRepository) GetByOrderNoForUpdate(orderNo string) (*models.PaymentOrder, error) {
	return r.getByOrderNo(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), orderNo)
}

func (r *GormPaymentOrderRepository) getByOrderNo(query *gorm.DB, orderNo string) (*models.PaymentOrder, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var order models.PaymentOrder
	if err := query.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdatePrepayID 记录网关预支付标识，仅 pending 订单可写
func (r *GormPaymentOrderRepository) UpdatePrepayID(id uint, prepayID string) error {
	return r.db.Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, constants.OrderStatusPending).
		Updates(map[string]interface{}{
			"prepay_id":  prepayID,
			"updated_at": time.Now(),
		}).Error
}

// MarkPaid pending -> paid，同时写入网关交易号与发放积分
func (r *GormPaymentOrderRepository) MarkPaid(id uint, gatewayTxnID string, points int64, paidAt time.Time) (bool, error) {
	result := r.db.Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, constants.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":                 constants.OrderStatusPaid,
			"gateway_transaction_id": gatewayTxnID,
			"points_awarded":         points,
			"paid_at":                paidAt,
			"updated_at":             paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TransitionFromPending pending -> cancelled / expired
func (r *GormPaymentOrderRepository) TransitionFromPending(id uint, status string) (bool, error) {
	result := r.db.Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, constants.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkRefunded paid -> refunded
func (r *GormPaymentOrderRepository) MarkRefunded(id uint) (bool, error) {
	result := r.db.Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, constants.OrderStatusPaid).
		Updates(map[string]interface{}{
			"status":     constants.OrderStatusRefunded,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ExpireStalePending 批量关闭已过支付截止时间的 pending 订单
func (r *GormPaymentOrderRepository) ExpireStalePending(now time.Time) (int64, error) {
	result := r.db.Model(&models.PaymentOrder{}).
		Where("status = ? AND expires_at <= ?", constants.OrderStatusPending, now).
		Updates(map[string]interface{}{
			"status":     constants.OrderStatusExpired,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

// List 分页查询订单
func (r *GormPaymentOrderRepository) List(filter PaymentOrderListFilter) ([]models.PaymentOrder, int64, error) {
	query := r.db.Model(&models.PaymentOrder{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.MerchantID != 0 {
		query = query.Where("merchant_id = ?", filter.MerchantID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var orders []models.PaymentOrder
	if err := query.Order("id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
