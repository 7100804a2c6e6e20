package app

import (
	"errors"
	"fmt"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/provider"
	"github.com/cashback-next/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, container *provider.Container, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if container == nil {
		return nil, errors.New("container is nil")
	}
	switch mode {
	case ModeAll, ModeWorker, ModeMetrics:
	default:
		return nil, fmt.Errorf("unknown mode: %s", mode)
	}

	var services []Service

	// 初始化指标服务
	if (mode == ModeAll && cfg.Metrics.Enabled) || mode == ModeMetrics {
		handler := NewMetricsHandler(cfg.Metrics.Path, container.DB)
		services = append(services, NewHTTPService(cfg.Metrics.Addr(), handler))
	}

	// 初始化 Worker 服务；all 模式下队列未启用时跳过
	if mode == ModeWorker || (mode == ModeAll && cfg.Queue.Enabled) {
		consumer := worker.NewConsumer(container)
		workerService, err := worker.NewService(&cfg.Queue, cfg.Payout, consumer)
		if err != nil {
			return nil, err
		}
		services = append(services, workerService)
	} else if mode == ModeAll {
		logger.Infow("app_worker_skipped", "reason", "queue_disabled")
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}
	if opts.DB == nil {
		return errors.New("database is nil")
	}

	container := provider.NewContainer(opts.Config, opts.DB)
	defer container.Close()

	runner, err := BuildRunner(opts.Config, container, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start", "metrics_addr", opts.Config.Metrics.Addr(), "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
