package service

import (
	"context"
	"time"

	"github.com/cashback-next/internal/logger"
)

// AuditEntry 账本审计记录
type AuditEntry struct {
	Action    string
	OwnerType string
	OwnerID   uint
	Amount    string
	Reference string
	Outcome   string
	Detail    map[string]interface{}
	At        time.Time
}

// AuditSink 审计输出，实现不得影响账本操作结果
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NoopAuditSink 默认的空实现
type NoopAuditSink struct{}

// Record 忽略审计记录
func (NoopAuditSink) Record(context.Context, AuditEntry) {}

// LoggerAuditSink 将审计记录写入结构化日志
type LoggerAuditSink struct{}

// Record 输出审计日志
func (LoggerAuditSink) Record(_ context.Context, entry AuditEntry) {
	kv := []interface{}{
		"action", entry.Action,
		"owner_type", entry.OwnerType,
		"owner_id", entry.OwnerID,
		"amount", entry.Amount,
		"reference", entry.Reference,
		"outcome", entry.Outcome,
		"at", entry.At,
	}
	for key, value := range entry.Detail {
		kv = append(kv, key, value)
	}
	logger.Named("audit").Infow("ledger_audit", kv...)
}

func orNoopAudit(sink AuditSink) AuditSink {
	if sink == nil {
		return NoopAuditSink{}
	}
	return sink
}

// recordAudit 审计输出出现 panic 时吞掉，账本结果不受影响
func recordAudit(ctx context.Context, sink AuditSink, entry AuditEntry) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnw("audit_sink_panic", "action", entry.Action, "panic", r)
		}
	}()
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	sink.Record(ctx, entry)
}
