package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/provider"
	"github.com/jifen-next/internal/queue"
	"github.com/jifen-next/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskOrderExpire, c.handleOrderExpire)
	mux.HandleFunc(queue.TaskSettlementAlert, c.handleSettlementAlert)
}

func (c *Consumer) handleOrderExpire(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_order_expire_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.OrderExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_expire_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		logger.Debugw("worker_order_expire_skip_invalid_payload", "order_id", payload.OrderID)
		return nil
	}
	if c.Container == nil || c.OrderService == nil {
		logger.Warnw("worker_order_expire_skip_order_service_nil", "order_id", payload.OrderID)
		return nil
	}
	order, err := c.OrderService.ExpireOrder(payload.OrderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			logger.Debugw("worker_order_expire_skip_order_not_found", "order_id", payload.OrderID)
			return nil
		}
		logger.Warnw("worker_order_expire_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	logger.Debugw("worker_order_expire_done", "order_id", payload.OrderID, "status", order.Status)
	return nil
}

// handleSettlementAlert 结算告警落入错误日志，由日志平台转发给值班人员
func (c *Consumer) handleSettlementAlert(_ context.Context, task *asynq.Task) error {
	if task == nil {
		return nil
	}
	var payload queue.SettlementAlertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_settlement_alert_unmarshal_failed", "error", err)
		// 报文损坏时重试没有意义
		return errors.Join(err, asynq.SkipRetry)
	}
	logger.Errorw("settlement_alert",
		"kind", payload.Kind,
		"order_no", payload.OrderNo,
		"transaction_id", payload.TransactionID,
		"expected", payload.Expected,
		"actual", payload.Actual,
		"status", payload.Status,
		"detail", payload.Detail,
		"occurred_at", payload.OccurredAt,
	)
	return nil
}
