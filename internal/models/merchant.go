package models

import "time"

// Merchant 商户表，本服务只读
type Merchant struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	SubMchID  string    `gorm:"size:32;index" json:"sub_mch_id"` // 服务商模式下的特约商户号
	Status    string    `gorm:"size:16;default:'active'" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Merchant) TableName() string {
	return "merchants"
}
