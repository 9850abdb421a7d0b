package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/queue"
	"github.com/jifen-next/internal/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 回调失败应答文案
const (
	ackMessageMalformed      = "报文解析失败"
	ackMessageSignature      = "签名验证失败"
	ackMessageOrderNotFound  = "订单不存在"
	ackMessageAmountMismatch = "金额不一致"
	ackMessageInternal       = "系统繁忙"
)

// 审计日志中需要脱敏的应答头
var sensitiveCallbackHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
}

// SettlementService 支付回调结算编排
// 结果只以协议应答形式返回：首次结算与重复回调都应答成功，内部错误应答失败由网关重试。
type SettlementService struct {
	gateway         PaymentGateway
	verifier        CallbackVerifier
	orderRepo       repository.PaymentOrderRepository
	callbackLogRepo repository.CallbackLogRepository
	orderService    *OrderService
	pointsService   *PointsService
	tasks           TaskEnqueuer
}

// NewSettlementService 创建结算服务
func NewSettlementService(gateway PaymentGateway, verifier CallbackVerifier, orderRepo repository.PaymentOrderRepository, callbackLogRepo repository.CallbackLogRepository, orderService *OrderService, pointsService *PointsService, tasks TaskEnqueuer) *SettlementService {
	return &SettlementService{
		gateway:         gateway,
		verifier:        verifier,
		orderRepo:       orderRepo,
		callbackLogRepo: callbackLogRepo,
		orderService:    orderService,
		pointsService:   pointsService,
		tasks:           tasks,
	}
}

// CallbackRequest 网关回调原始请求
type CallbackRequest struct {
	Headers   http.Header
	Body      []byte
	RequestID string
}

// settlementOutcome 单次回调处理结果，用于审计与应答
type settlementOutcome struct {
	result        string
	message       string
	orderNo       string
	transactionID string
	userID        uint
	points        int64
	alerts        []queue.SettlementAlertPayload
}

// HandleCallback 处理支付回调：解析、验签、核对金额、幂等结算，任何错误都不向外抛出
func (s *SettlementService) HandleCallback(ctx context.Context, req CallbackRequest) wechatpay.Acknowledgement {
	started := time.Now()
	outcome, event := s.settle(ctx, req)

	success := outcome.result == constants.CallbackResultSettled ||
		outcome.result == constants.CallbackResultDuplicate ||
		outcome.result == constants.CallbackResultIgnored
	ack := s.gateway.BuildAcknowledgement(success, outcome.message)

	if outcome.result == constants.CallbackResultSettled && s.pointsService != nil {
		s.pointsService.InvalidateBalance(ctx, outcome.userID)
	}
	s.writeCallbackLog(req, event, outcome)
	s.raiseAlerts(outcome.alerts)

	logger.Infow("settlement_callback_handled",
		"request_id", req.RequestID,
		"order_no", outcome.orderNo,
		"transaction_id", outcome.transactionID,
		"result", outcome.result,
		"points", outcome.points,
		"ack_status", ack.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return ack
}

func (s *SettlementService) settle(ctx context.Context, req CallbackRequest) (settlementOutcome, *wechatpay.CallbackEvent) {
	event, err := s.gateway.ParseCallback(req.Headers, req.Body)
	if err != nil {
		logger.Warnw("settlement_callback_malformed", "request_id", req.RequestID, "error", err)
		return settlementOutcome{result: constants.CallbackResultMalformed, message: ackMessageMalformed}, nil
	}
	outcome := settlementOutcome{orderNo: event.OrderNo, transactionID: event.GatewayTransactionID}

	if err := s.verifier.VerifyCallback(ctx, event.Signature); err != nil {
		logger.Warnw("settlement_signature_invalid", "order_no", event.OrderNo, "error", err)
		outcome.result = constants.CallbackResultSignatureInvalid
		outcome.message = ackMessageSignature
		outcome.alerts = append(outcome.alerts, s.newAlert(constants.AlertSignatureInvalid, event, 0, err.Error()))
		return outcome, event
	}

	if !event.TradeSucceeded {
		logger.Infow("settlement_trade_not_success", "order_no", event.OrderNo, "trade_state", event.TradeState)
		outcome.result = constants.CallbackResultIgnored
		return outcome, event
	}

	order, err := s.orderRepo.GetByOrderNo(event.OrderNo)
	if err != nil {
		logger.Errorw("settlement_order_fetch_failed", "order_no", event.OrderNo, "error", err)
		outcome.result = constants.CallbackResultFailed
		outcome.message = ackMessageInternal
		return outcome, event
	}
	if order == nil {
		logger.Warnw("settlement_order_not_found", "order_no", event.OrderNo)
		outcome.result = constants.CallbackResultOrderNotFound
		outcome.message = ackMessageOrderNotFound
		return outcome, event
	}
	outcome.userID = order.UserID

	if event.Amount != order.Amount {
		logger.Errorw("settlement_amount_mismatch",
			"order_no", order.OrderNo,
			"expected", order.Amount,
			"actual", event.Amount,
		)
		outcome.result = constants.CallbackResultAmountMismatch
		outcome.message = ackMessageAmountMismatch
		alert := s.newAlert(constants.AlertAmountMismatch, event, order.Amount, ErrAmountMismatch.Error())
		outcome.alerts = append(outcome.alerts, alert)
		return outcome, event
	}

	points := s.pointsService.PointsForAmount(order.Amount)
	transitioned := false
	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderService.TransitionToPaid(tx, order.ID, event.GatewayTransactionID, points)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		transitioned = true
		if points == 0 {
			return nil
		}
		orderID := order.ID
		_, err = s.pointsService.AwardInTx(tx, AwardInput{
			UserID:      order.UserID,
			Points:      points,
			Source:      constants.PointsSourcePaymentReward,
			Description: fmt.Sprintf("支付订单 %s 奖励积分", order.OrderNo),
			OrderID:     &orderID,
		})
		return err
	})
	if err != nil {
		logger.Errorw("settlement_settle_failed", "order_no", order.OrderNo, "error", err)
		outcome.result = constants.CallbackResultFailed
		outcome.message = ackMessageInternal
		outcome.alerts = append(outcome.alerts, s.newAlert(constants.AlertSettleFailed, event, order.Amount, err.Error()))
		return outcome, event
	}

	if transitioned {
		outcome.result = constants.CallbackResultSettled
		outcome.points = points
		logger.Infow("settlement_order_paid",
			"order_no", order.OrderNo,
			"user_id", order.UserID,
			"amount", order.Amount,
			"points", points,
		)
		return outcome, event
	}

	outcome.result = constants.CallbackResultDuplicate
	current, err := s.orderRepo.GetByID(order.ID)
	if err != nil || current == nil {
		return outcome, event
	}
	if current.Status != constants.OrderStatusPaid && current.Status != constants.OrderStatusRefunded {
		logger.Errorw("settlement_paid_after_close",
			"order_no", current.OrderNo,
			"status", current.Status,
			"transaction_id", event.GatewayTransactionID,
		)
		alert := s.newAlert(constants.AlertPaidAfterClose, event, order.Amount, "gateway reported success for a closed order")
		alert.Status = current.Status
		outcome.alerts = append(outcome.alerts, alert)
		return outcome, event
	}
	if current.GatewayTransactionID != nil && *current.GatewayTransactionID != event.GatewayTransactionID {
		logger.Warnw("settlement_duplicate_transaction_differs",
			"order_no", current.OrderNo,
			"stored_transaction_id", *current.GatewayTransactionID,
			"transaction_id", event.GatewayTransactionID,
		)
	}
	return outcome, event
}

func (s *SettlementService) newAlert(kind string, event *wechatpay.CallbackEvent, expected int64, detail string) queue.SettlementAlertPayload {
	return queue.SettlementAlertPayload{
		Kind:          kind,
		OrderNo:       event.OrderNo,
		TransactionID: event.GatewayTransactionID,
		Expected:      expected,
		Actual:        event.Amount,
		Detail:        detail,
		OccurredAt:    time.Now().Unix(),
	}
}

func (s *SettlementService) raiseAlerts(alerts []queue.SettlementAlertPayload) {
	if s.tasks == nil {
		return
	}
	for _, alert := range alerts {
		alert := alert
		logger.BestEffort("settlement_alert_enqueue", func() error {
			return s.tasks.EnqueueSettlementAlert(alert)
		}, "kind", alert.Kind, "order_no", alert.OrderNo)
	}
}

func (s *SettlementService) writeCallbackLog(req CallbackRequest, event *wechatpay.CallbackEvent, outcome settlementOutcome) {
	if s.callbackLogRepo == nil {
		return
	}
	logger.BestEffort("settlement_callback_log_write", func() error {
		headers, err := json.Marshal(flattenCallbackHeaders(req.Headers))
		if err != nil {
			return err
		}
		entry := &models.CallbackLog{
			OrderNo:   outcome.orderNo,
			Protocol:  s.gateway.APIVersion(),
			RequestID: req.RequestID,
			Headers:   datatypes.JSON(headers),
			Body:      datatypes.JSON(callbackLogBody(req.Body, event)),
			Result:    outcome.result,
			Message:   outcome.message,
			CreatedAt: time.Now(),
		}
		return s.callbackLogRepo.Create(entry)
	}, "order_no", outcome.orderNo, "result", outcome.result)
}

func flattenCallbackHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveCallbackHeaders[strings.ToLower(key)] {
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

// callbackLogBody 审计内容优先记录解析后的字段（v3 为解密后的明文），解析失败时保留原文
func callbackLogBody(raw []byte, event *wechatpay.CallbackEvent) []byte {
	if event != nil && len(event.Raw) > 0 {
		if body, err := json.Marshal(event.Raw); err == nil {
			return body
		}
	}
	body, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return []byte("{}")
	}
	return body
}

// ListCallbackLogs 分页查询回调审计日志
func (s *SettlementService) ListCallbackLogs(filter repository.CallbackLogListFilter) ([]models.CallbackLog, int64, error) {
	if s.callbackLogRepo == nil {
		return []models.CallbackLog{}, 0, nil
	}
	return s.callbackLogRepo.List(filter)
}
