package queue

import (
	"encoding/json"

	"github.com/jifen-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderExpire 支付订单到期关闭任务
	TaskOrderExpire = constants.TaskOrderExpire
	// TaskSettlementAlert 结算异常告警任务
	TaskSettlementAlert = constants.TaskSettlementAlert
)

// OrderExpirePayload 订单到期任务载荷
type OrderExpirePayload struct {
	OrderID uint `json:"order_id"`
}

// SettlementAlertPayload 结算告警任务载荷
type SettlementAlertPayload struct {
	Kind          string `json:"kind"`
	OrderNo       string `json:"order_no"`
	TransactionID string `json:"transaction_id,omitempty"`
	Expected      int64  `json:"expected,omitempty"`
	Actual        int64  `json:"actual,omitempty"`
	Status        string `json:"status,omitempty"`
	Detail        string `json:"detail,omitempty"`
	OccurredAt    int64  `json:"occurred_at"`
}

// NewOrderExpireTask 创建订单到期任务
func NewOrderExpireTask(payload OrderExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderExpire, body), nil
}

// NewSettlementAlertTask 创建结算告警任务
func NewSettlementAlertTask(payload SettlementAlertPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementAlert, body), nil
}
