package service

import (
	"errors"

	"github.com/jifen-next/internal/payment/signature"
	"github.com/jifen-next/internal/payment/wechatpay"
)

// 业务错误，调用方使用 errors.Is 判定，handler 层统一映射为响应码
var (
	ErrValidation          = errors.New("参数校验失败")
	ErrGatewayBusiness     = wechatpay.ErrGatewayBusiness
	ErrGatewayUnavailable  = wechatpay.ErrGatewayUnavailable
	ErrSignatureInvalid    = signature.ErrSignatureInvalid
	ErrAmountMismatch      = errors.New("回调金额与订单金额不一致")
	ErrInsufficientBalance = errors.New("积分余额不足")
	ErrUserNotFound        = errors.New("用户不存在")
	ErrOrderNotFound       = errors.New("订单不存在")
	ErrMerchantNotFound    = errors.New("商户不存在或已停用")
	ErrInvalidPoints       = errors.New("积分数量必须大于 0")
	ErrOrderStatusInvalid  = errors.New("订单状态不允许该操作")
	ErrLedgerInconsistent  = errors.New("积分余额与流水不一致")
	ErrQRCodeSignInvalid   = errors.New("收款码签名无效")
	ErrQRCodeSecretMissing = errors.New("收款码密钥未配置")
)
