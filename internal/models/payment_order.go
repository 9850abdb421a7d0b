package models

import (
	"time"
)

// PaymentOrder 支付订单，财务记录不做删除
type PaymentOrder struct {
	ID                   uint       `gorm:"primarykey" json:"id"`                                  // 主键
	OrderNo              string     `gorm:"uniqueIndex;size:40;not null" json:"order_no"`          // 商户订单号
	UserID               uint       `gorm:"index;not null" json:"user_id"`                         // 付款用户
	MerchantID           uint       `gorm:"index;not null" json:"merchant_id"`                     // 收款商户
	Amount               int64      `gorm:"not null" json:"amount"`                                // 金额（分）
	Description          string     `gorm:"size:128" json:"description"`                           // 商品描述
	Status               string     `gorm:"size:16;index;not null;default:'pending'" json:"status"` // 订单状态
	PrepayID             string     `gorm:"size:64" json:"-"`                                      // 网关预支付标识
	GatewayTransactionID *string    `gorm:"size:64;uniqueIndex" json:"gateway_transaction_id"`     // 网关交易号（仅支付成功时写入）
	PointsAwarded        *int64     `json:"points_awarded"`                                        // 发放积分（仅支付成功时写入）
	ExpiresAt            time.Time  `gorm:"index;not null" json:"expires_at"`                      // 支付截止时间
	PaidAt               *time.Time `json:"paid_at"`                                               // 支付时间
	CreatedAt            time.Time  `gorm:"index" json:"created_at"`                               // 创建时间
	UpdatedAt            time.Time  `json:"updated_at"`                                            // 更新时间
}

// TableName 指定表名
func (PaymentOrder) TableName() string {
	return "payment_orders"
}
