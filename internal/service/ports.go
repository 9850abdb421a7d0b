package service

import (
	"context"
	"net/http"
	"time"

	"github.com/jifen-next/internal/cache"
	"github.com/jifen-next/internal/payment/signature"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/queue"
)

// PaymentGateway 支付网关适配器
type PaymentGateway interface {
	APIVersion() string
	CreateOrder(ctx context.Context, input wechatpay.CreateOrderInput) (*wechatpay.CreateOrderResult, error)
	ParseCallback(headers http.Header, body []byte) (*wechatpay.CallbackEvent, error)
	BuildAcknowledgement(success bool, message string) wechatpay.Acknowledgement
	QueryOrder(ctx context.Context, orderNo, subMchID string) (*wechatpay.QueryResult, error)
}

// CallbackVerifier 回调验签
type CallbackVerifier interface {
	VerifyCallback(ctx context.Context, fields signature.Fields) error
}

// BalanceCache 积分概要缓存
type BalanceCache interface {
	Get(ctx context.Context, userID uint) (*cache.PointsBalanceSnapshot, bool, error)
	Set(ctx context.Context, snapshot *cache.PointsBalanceSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, userID uint) error
}

// TaskEnqueuer 异步任务投递
type TaskEnqueuer interface {
	EnqueueOrderExpire(payload queue.OrderExpirePayload, delay time.Duration) error
	EnqueueSettlementAlert(payload queue.SettlementAlertPayload) error
}
