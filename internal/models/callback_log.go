package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallbackLog 支付回调审计日志
type CallbackLog struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	OrderNo   string         `gorm:"size:40;index" json:"order_no"`
	Protocol  string         `gorm:"size:8" json:"protocol"`
	RequestID string         `gorm:"size:64" json:"request_id"`
	Headers   datatypes.JSON `json:"headers"`
	Body      datatypes.JSON `json:"body"`
	Result    string         `gorm:"size:32;index" json:"result"`
	Message   string         `gorm:"size:255" json:"message"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (CallbackLog) TableName() string {
	return "payment_callback_logs"
}
