package repository

import "time"

// PaymentOrderListFilter 查询支付订单列表的过滤条件
type PaymentOrderListFilter struct {
	Page        int
	PageSize    int
	UserID      uint
	MerchantID  uint
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// PointsRecordListFilter 查询积分流水列表的过滤条件
type PointsRecordListFilter struct {
	Page     int
	PageSize int
	UserID   uint
	Source   string
}

// CallbackLogListFilter 查询回调审计日志的过滤条件
type CallbackLogListFilter struct {
	Page          int
	PageSize      int
	OrderNo       string
	Result        string
	TransactionID string
}

// PointsTotals 用户积分汇总
type PointsTotals struct {
	TotalEarned int64
	TotalSpent  int64
}
