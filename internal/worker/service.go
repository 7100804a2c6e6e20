package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	defaultPayoutSweepInterval = time.Minute
	defaultPayoutStaleAfter    = 5 * time.Minute
)

// Service 异步队列服务
type Service struct {
	name       string
	server     *asynq.Server
	mux        *asynq.ServeMux
	consumer   *Consumer
	sweepEvery time.Duration
	staleAfter time.Duration
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, payout config.PayoutConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:       "worker",
		server:     server,
		mux:        mux,
		consumer:   consumer,
		sweepEvery: secondsOr(payout.SweepIntervalSeconds, defaultPayoutSweepInterval),
		staleAfter: secondsOr(payout.StaleAfterSeconds, defaultPayoutStaleAfter),
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.Container != nil && s.consumer.PayoutService != nil {
		go s.runPayoutSweepLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runPayoutSweepLoop 定时补发入队丢失的出款请求
func (s *Service) runPayoutSweepLoop(ctx context.Context) {
	runOnce := func() {
		if _, err := s.consumer.PayoutService.SweepQueued(ctx, s.staleAfter); err != nil && ctx.Err() == nil {
			logger.Warnw("worker_payout_sweep_failed", "error", err)
		}
	}
	runOnce()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
