package shared

import (
	"errors"

	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 发起支付失败时的用户提示
const (
	MsgPaymentInitiateFailed = "支付发起失败，请重试"
	MsgPaymentQueryStatus    = "请查询订单状态"
	MsgBadRequest            = "请求参数错误"
	MsgInternal              = "系统繁忙，请稍后再试"
)

// MappedError 定义业务错误到接口错误响应的映射关系。
type MappedError struct {
	Target  error
	Code    int
	Message string
}

// ServiceErrorRules 业务错误映射表，按顺序匹配
var ServiceErrorRules = []MappedError{
	{Target: service.ErrValidation, Code: response.CodeBadRequest, Message: MsgBadRequest},
	{Target: service.ErrInvalidPoints, Code: response.CodeBadRequest, Message: service.ErrInvalidPoints.Error()},
	{Target: service.ErrInsufficientBalance, Code: response.CodeBadRequest, Message: service.ErrInsufficientBalance.Error()},
	{Target: service.ErrUserNotFound, Code: response.CodeNotFound, Message: service.ErrUserNotFound.Error()},
	{Target: service.ErrOrderNotFound, Code: response.CodeNotFound, Message: service.ErrOrderNotFound.Error()},
	{Target: service.ErrMerchantNotFound, Code: response.CodeNotFound, Message: service.ErrMerchantNotFound.Error()},
	{Target: service.ErrOrderStatusInvalid, Code: response.CodeConflict, Message: service.ErrOrderStatusInvalid.Error()},
	{Target: service.ErrQRCodeSignInvalid, Code: response.CodeBadRequest, Message: service.ErrQRCodeSignInvalid.Error()},
	{Target: service.ErrGatewayBusiness, Code: response.CodeGatewayFailed, Message: MsgPaymentInitiateFailed},
	{Target: wechatpay.ErrResponseInvalid, Code: response.CodeGatewayFailed, Message: MsgPaymentInitiateFailed},
	{Target: service.ErrGatewayUnavailable, Code: response.CodeGatewayTimeout, Message: MsgPaymentQueryStatus},
}

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if requestID, ok := c.Get("request_id"); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return logger.SW("request_id", id)
		}
	}
	return logger.S()
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.Error(c, appErr.Code, appErr.Message)
}

// RespondServiceError 按映射表返回业务错误，未命中时记录日志并返回 500
func RespondServiceError(c *gin.Context, err error) {
	for _, rule := range ServiceErrorRules {
		if errors.Is(err, rule.Target) {
			if rule.Code >= response.CodeGatewayFailed {
				RequestLog(c).Warnw("handler_gateway_error", "code", rule.Code, "error", err)
			}
			response.Error(c, rule.Code, rule.Message)
			return
		}
	}
	RespondError(c, response.CodeInternal, MsgInternal, err)
}
