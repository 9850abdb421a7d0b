package repository

import (
	"errors"

	"github.com/jifen-next/internal/models"

	"gorm.io/gorm"
)

// MerchantRepository 商户数据访问接口（只读，Create 仅供初始化数据使用）
type MerchantRepository interface {
	GetByID(id uint) (*models.Merchant, error)
	Create(merchant *models.Merchant) error
}

// GormMerchantRepository GORM 实现
type GormMerchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository 创建商户仓库
func NewMerchantRepository(db *gorm.DB) *GormMerchantRepository {
	return &GormMerchantRepository{db: db}
}

// GetByID 根据 ID 获取商户
func (r *GormMerchantRepository) GetByID(id uint) (*models.Merchant, error) {
	if id == 0 {
		return nil, nil
	}
	var merchant models.Merchant
	if err := r.db.First(&merchant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}

// Create 创建商户
func (r *GormMerchantRepository) Create(merchant *models.Merchant) error {
	return r.db.Create(merchant).Error
}
