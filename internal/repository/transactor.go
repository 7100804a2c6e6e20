package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrConcurrentUpdate 条件更新未命中（版本号或状态已被其它事务修改）
var ErrConcurrentUpdate = errors.New("concurrent update conflict")

// postgres 可重试错误码
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// Transactor 事务执行器，所有账本写操作通过它开启事务
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RetryPolicy 冲突重试策略
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration // 单次尝试的事务超时，0 表示不限制
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Timeout:         10 * time.Second,
	}
}

// GormTransactor GORM 事务执行器，postgres 下使用 SERIALIZABLE 隔离并在冲突时退避重试
type GormTransactor struct {
	db     *gorm.DB
	policy RetryPolicy
}

// NewTransactor 创建事务执行器
func NewTransactor(db *gorm.DB, policy RetryPolicy) *GormTransactor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &GormTransactor{db: db, policy: policy}
}

// DB 返回底层连接
func (t *GormTransactor) DB() *gorm.DB {
	return t.db
}

// Transaction 在事务中执行 fn；fn 可能被多次调用，必须可重入
func (t *GormTransactor) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	attempt := 0
	operation := func() error {
		attempt++
		err := t.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if IsRetryableConflict(err) {
			logger.Debugw("store_tx_conflict_retry", "attempt", attempt, "error", err)
			metrics.TransactionRetries.Inc()
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(t.newBackOff(), uint64(t.policy.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	if err != nil && IsRetryableConflict(err) {
		logger.Warnw("store_tx_conflict_exhausted", "attempts", attempt, "error", err)
	}
	return err
}

func (t *GormTransactor) runOnce(ctx context.Context, fn func(tx *gorm.DB) error) error {
	runCtx := ctx
	if t.policy.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.policy.Timeout)
		defer cancel()
	}
	db := t.db.WithContext(runCtx)
	if isPostgres(t.db) {
		return db.Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return db.Transaction(fn)
}

func (t *GormTransactor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if t.policy.InitialInterval > 0 {
		b.InitialInterval = t.policy.InitialInterval
	}
	if t.policy.MaxInterval > 0 {
		b.MaxInterval = t.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	return b
}

// IsRetryableConflict 判断是否为可重试的并发冲突
func IsRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// IsUniqueViolation 判断是否为唯一约束冲突
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite 驱动未翻译的唯一约束错误
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
