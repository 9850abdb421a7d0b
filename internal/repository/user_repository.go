package repository

import (
	"errors"
	"strings"

	"github.com/jifen-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByIDForUpdate(id uint) (*models.User, error)
	GetByOpenID(openID string) (*models.User, error)
	Create(user *models.User) error
	CompareAndSetBalance(userID uint, expected, next int64) (bool, error)
	WithTx(tx *gorm.DB) *GormUserRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// GormUserRepository GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Transaction 执行事务
func (r *GormUserRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// WithTx 绑定事务
func (r *GormUserRepository) WithTx(tx *gorm.DB) *GormUserRepository {
	if tx == nil {
		return r
	}
	return &GormUserRepository{db: tx}
}

// GetByID 根据 ID 获取用户
func (r *GormUserRepository) GetByID(id uint) (*models.User, error) {
	if id == 0 {
		return nil, nil
	}
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByIDForUpdate 加行锁获取用户（sqlite 下锁子句被忽略，由单连接串行化）
func (r *GormUserRepository) GetByIDForUpdate(id uint) (*models.User, error) {
	if id == 0 {
		return nil, nil
	}
	var user models.User
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByOpenID 根据 openid 获取用户
func (r *GormUserRepository) GetByOpenID(openID string) (*models.User, error) {
	openID = strings.TrimSpace(openID)
	if openID == "" {
		return nil, nil
	}
	var user models.User
	if err := r.db.Where("open_id = ?", openID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Create 创建用户
func (r *GormUserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// CompareAndSetBalance 余额比较并更新，余额已被并发修改时返回 false
func (r *GormUserRepository) CompareAndSetBalance(userID uint, expected, next int64) (bool, error) {
	result := r.db.Model(&models.User{}).
		Where("id = ? AND points_balance = ?", userID, expected).
		Update("points_balance", next)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
