package models

import "time"

// PointsRecord 积分流水，只追加不修改
type PointsRecord struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	UserID       uint       `gorm:"index:idx_points_user_created,priority:1;not null" json:"user_id"`
	OrderID      *uint      `gorm:"index" json:"order_id"`
	PointsChange int64      `gorm:"not null" json:"points_change"`
	BalanceAfter int64      `gorm:"not null" json:"balance_after"`
	Source       string     `gorm:"size:32;index;not null" json:"source"`
	Description  string     `gorm:"size:255" json:"description"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at"` // 仅 payment_reward 设置
	CreatedAt    time.Time  `gorm:"index:idx_points_user_created,priority:2" json:"created_at"`
}

// TableName 指定表名
func (PointsRecord) TableName() string {
	return "points_records"
}

// PointsExpiry 过期处理标记：奖励流水被过期扫描处理后写入，防止重复扣减
type PointsExpiry struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	RewardRecordID uint      `gorm:"uniqueIndex;not null" json:"reward_record_id"`
	DeductRecordID *uint     `gorm:"index" json:"deduct_record_id"` // 余额已为 0 时无扣减流水
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	Points         int64     `gorm:"not null" json:"points"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName 指定表名
func (PointsExpiry) TableName() string {
	return "points_expiries"
}
