package constants

// 支付订单状态常量
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
	OrderStatusExpired   = "expired"
	OrderStatusRefunded  = "refunded"
)

// 积分流水来源常量
const (
	PointsSourcePaymentReward   = "payment_reward"
	PointsSourceMallConsumption = "mall_consumption"
	PointsSourceAdminAdjust     = "admin_adjust"
	PointsSourceExpiredDeduct   = "expired_deduct"
)

// 用户与商户状态常量
const (
	UserStatusActive       = "active"
	UserStatusDisabled     = "disabled"
	MerchantStatusActive   = "active"
	MerchantStatusDisabled = "disabled"
)

// 微信支付协议版本
const (
	WechatAPIVersionV2 = "v2"
	WechatAPIVersionV3 = "v3"
)

// 签名算法
const (
	SignTypeMD5        = "MD5"
	SignTypeHMACSHA256 = "HMAC-SHA256"
	SignTypeRSA        = "RSA"
)

// 支付回调审计结果
const (
	CallbackResultSettled          = "settled"
	CallbackResultDuplicate        = "duplicate"
	CallbackResultIgnored          = "ignored"
	CallbackResultMalformed        = "malformed"
	CallbackResultSignatureInvalid = "signature_invalid"
	CallbackResultOrderNotFound    = "order_not_found"
	CallbackResultAmountMismatch   = "amount_mismatch"
	CallbackResultFailed           = "failed"
)

// 结算告警类型
const (
	AlertSignatureInvalid = "signature_invalid"
	AlertAmountMismatch   = "amount_mismatch"
	AlertPaidAfterClose   = "paid_after_close"
	AlertSettleFailed     = "settle_failed"
)

// 队列与任务
const (
	QueueDefault        = "default"
	QueueCritical       = "critical"
	TaskOrderExpire     = "order:timeout_expire"
	TaskSettlementAlert = "settlement:alert"
)
