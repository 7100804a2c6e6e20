package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/provider"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/service"

	"github.com/hibiken/asynq"
)

func TestHandlersSkipMalformedPayloadWithoutRetry(t *testing.T) {
	c := NewConsumer(&provider.Container{})
	handlers := map[string]func(context.Context, *asynq.Task) error{
		queue.TaskPayoutDispatch:  c.handlePayoutDispatch,
		queue.TaskInvoiceGenerate: c.handleInvoiceGenerate,
		queue.TaskLegacyReconcile: c.handleLegacyReconcile,
	}
	for name, handle := range handlers {
		err := handle(context.Background(), asynq.NewTask(name, []byte("{not json")))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("%s: malformed payload must skip retry, got %v", name, err)
		}
	}
}

func TestHandlersIgnoreEmptyPayloadAndMissingServices(t *testing.T) {
	c := NewConsumer(&provider.Container{})
	payout, _ := queue.NewPayoutDispatchTask(queue.PayoutDispatchPayload{})
	if err := c.handlePayoutDispatch(context.Background(), payout); err != nil {
		t.Fatalf("zero payout id must be ignored, got %v", err)
	}
	payout, _ = queue.NewPayoutDispatchTask(queue.PayoutDispatchPayload{PayoutRequestID: 7})
	if err := c.handlePayoutDispatch(context.Background(), payout); err != nil {
		t.Fatalf("missing payout service must be ignored, got %v", err)
	}
	invoice, _ := queue.NewInvoiceGenerateTask(queue.InvoiceGeneratePayload{TransactionID: 3})
	if err := c.handleInvoiceGenerate(context.Background(), invoice); err != nil {
		t.Fatalf("missing invoice service must be ignored, got %v", err)
	}
	var nilConsumer *Consumer
	if err := nilConsumer.handleLegacyReconcile(context.Background(), invoice); err != nil {
		t.Fatalf("nil consumer must be ignored, got %v", err)
	}
}

func TestTaskErrorSkipsRetryForBusinessErrors(t *testing.T) {
	if err := taskError("test_event", service.ErrPayoutRequestNotFound, "id", 1); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("business error must skip retry, got %v", err)
	}
	infra := errors.New("connection reset")
	if err := taskError("test_event", infra); errors.Is(err, asynq.SkipRetry) || !errors.Is(err, infra) {
		t.Fatalf("infrastructure error must be retried, got %v", err)
	}
}

func TestNewServiceRequiresEnabledQueue(t *testing.T) {
	if _, err := NewService(&config.QueueConfig{Enabled: false}, config.PayoutConfig{}, NewConsumer(nil)); err == nil {
		t.Fatalf("disabled queue must be rejected")
	}
	if got := secondsOr(0, time.Minute); got != time.Minute {
		t.Fatalf("unexpected fallback: %s", got)
	}
	if got := secondsOr(30, time.Minute); got != 30*time.Second {
		t.Fatalf("unexpected interval: %s", got)
	}
}
