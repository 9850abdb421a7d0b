package models

import (
	"time"
)

// User 用户表（积分余额为流水的冗余投影，与流水在同一事务内更新）
type User struct {
	ID            uint      `gorm:"primarykey" json:"id"`                        // 主键
	OpenID        string    `gorm:"uniqueIndex;size:64;not null" json:"-"`       // 微信 openid（支付身份）
	Nickname      string    `gorm:"size:64;default:''" json:"nickname"`          // 昵称
	PointsBalance int64     `gorm:"not null;default:0" json:"points_balance"`    // 积分余额
	Status        string    `gorm:"size:16;default:'active'" json:"status"`      // 账号状态
	CreatedAt     time.Time `gorm:"index" json:"created_at"`                     // 创建时间
	UpdatedAt     time.Time `json:"updated_at"`                                  // 更新时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
