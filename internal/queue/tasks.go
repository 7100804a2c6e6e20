package queue

import (
	"encoding/json"
	"fmt"

	"github.com/cashback-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPayoutDispatch 出款下发任务
	TaskPayoutDispatch = constants.TaskPayoutDispatch
	// TaskInvoiceGenerate 票据生成任务
	TaskInvoiceGenerate = constants.TaskInvoiceGenerate
	// TaskLegacyReconcile 历史承诺对账任务
	TaskLegacyReconcile = constants.TaskLegacyReconcile
)

// PayoutDispatchPayload 出款下发任务载荷
type PayoutDispatchPayload struct {
	PayoutRequestID uint `json:"payout_request_id"`
}

// InvoiceGeneratePayload 票据生成任务载荷
type InvoiceGeneratePayload struct {
	TransactionID uint `json:"transaction_id"`
}

// LegacyReconcilePayload 历史承诺对账任务载荷
type LegacyReconcilePayload struct {
	RequestedBy string `json:"requested_by"`
}

// NewPayoutDispatchTask 创建出款下发任务
func NewPayoutDispatchTask(payload PayoutDispatchPayload) (*asynq.Task, error) {
	return newJSONTask(TaskPayoutDispatch, payload)
}

// NewInvoiceGenerateTask 创建票据生成任务
func NewInvoiceGenerateTask(payload InvoiceGeneratePayload) (*asynq.Task, error) {
	return newJSONTask(TaskInvoiceGenerate, payload)
}

// NewLegacyReconcileTask 创建历史承诺对账任务
func NewLegacyReconcileTask(payload LegacyReconcilePayload) (*asynq.Task, error) {
	return newJSONTask(TaskLegacyReconcile, payload)
}

func newJSONTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}

// ParsePayload 解析任务载荷
func ParsePayload(task *asynq.Task, out interface{}) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	if err := json.Unmarshal(task.Payload(), out); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return nil
}
