package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/provider"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/service"

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
	mux.HandleFunc(queue.TaskPayoutDispatch, c.handlePayoutDispatch)
	mux.HandleFunc(queue.TaskInvoiceGenerate, c.handleInvoiceGenerate)
	mux.HandleFunc(queue.TaskLegacyReconcile, c.handleLegacyReconcile)
}

func (c *Consumer) handlePayoutDispatch(ctx context.Context, task *asynq.Task) error {
	if c == nil || c.Container == nil || task == nil {
		logger.Debugw("worker_payout_dispatch_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PayoutDispatchPayload
	if err := queue.ParsePayload(task, &payload); err != nil {
		logger.Warnw("worker_payout_dispatch_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.PayoutRequestID == 0 {
		logger.Debugw("worker_payout_dispatch_skip_invalid_payload", "payout_request_id", payload.PayoutRequestID)
		return nil
	}
	if c.PayoutService == nil {
		logger.Warnw("worker_payout_dispatch_skip_service_nil", "payout_request_id", payload.PayoutRequestID)
		return nil
	}
	request, err := c.PayoutService.Dispatch(ctx, payload.PayoutRequestID)
	if err != nil {
		return taskError("worker_payout_dispatch_failed", err, "payout_request_id", payload.PayoutRequestID)
	}
	logger.Debugw("worker_payout_dispatch_done", "payout_request_id", request.ID, "status", request.Status)
	return nil
}

func (c *Consumer) handleInvoiceGenerate(ctx context.Context, task *asynq.Task) error {
	if c == nil || c.Container == nil || task == nil {
		logger.Debugw("worker_invoice_generate_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.InvoiceGeneratePayload
	if err := queue.ParsePayload(task, &payload); err != nil {
		logger.Warnw("worker_invoice_generate_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.TransactionID == 0 {
		logger.Debugw("worker_invoice_generate_skip_invalid_payload", "transaction_id", payload.TransactionID)
		return nil
	}
	if c.InvoiceService == nil {
		logger.Warnw("worker_invoice_generate_skip_service_nil", "transaction_id", payload.TransactionID)
		return nil
	}
	if _, err := c.InvoiceService.GenerateForTransaction(ctx, payload.TransactionID); err != nil {
		if errors.Is(err, service.ErrInvoiceSourceNotBilled) {
			logger.Debugw("worker_invoice_generate_skip_not_billed", "transaction_id", payload.TransactionID)
			return nil
		}
		return taskError("worker_invoice_generate_failed", err, "transaction_id", payload.TransactionID)
	}
	return nil
}

func (c *Consumer) handleLegacyReconcile(ctx context.Context, task *asynq.Task) error {
	if c == nil || c.Container == nil || task == nil {
		logger.Debugw("worker_legacy_reconcile_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.LegacyReconcilePayload
	if err := queue.ParsePayload(task, &payload); err != nil {
		logger.Warnw("worker_legacy_reconcile_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if c.BudgetService == nil {
		logger.Warnw("worker_legacy_reconcile_skip_service_nil", "requested_by", payload.RequestedBy)
		return nil
	}
	report, err := c.BudgetService.ReconcileLegacyCommitments(ctx)
	if err != nil {
		if errors.Is(err, service.ErrConcurrentReconcile) {
			// 另一次对账正在处理同一批码，稍后重试时会跳过已处理的分组
			logger.Infow("worker_legacy_reconcile_conflict", "requested_by", payload.RequestedBy)
			return err
		}
		return taskError("worker_legacy_reconcile_failed", err, "requested_by", payload.RequestedBy)
	}
	logger.Infow("worker_legacy_reconcile_done",
		"requested_by", payload.RequestedBy,
		"budgets_opened", report.BudgetsOpened,
		"codes_attached", report.CodesAttached,
	)
	return nil
}

// taskError 业务错误不会因重试而改变结果，直接跳过重试
func taskError(event string, err error, keysAndValues ...interface{}) error {
	fields := append(keysAndValues, "error_code", service.ErrorCode(err), "error", err)
	if service.IsBusinessError(err) {
		logger.Infow(event, fields...)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger.Warnw(event, fields...)
	return err
}
