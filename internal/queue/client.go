package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// CriticalQueue 资金相关任务队列
	CriticalQueue = constants.QueueCritical
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// LowQueue 低优先级队列
	LowQueue = constants.QueueLow
)

// Client 队列客户端封装，未启用时所有投递为空操作
type Client struct {
	client  *asynq.Client
	enabled bool
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false}, nil
	}
	opt := buildRedisOpt(cfg)
	return &Client{
		client:  asynq.NewClient(opt),
		enabled: true,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueuePayoutDispatch 推送出款下发任务，同一请求只入队一次
func (c *Client) EnqueuePayoutDispatch(payload PayoutDispatchPayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewPayoutDispatchTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{
		asynq.Queue(CriticalQueue),
		asynq.TaskID(fmt.Sprintf("payout:%d", payload.PayoutRequestID)),
		asynq.MaxRetry(8),
	}, opts...)
	return c.enqueue(task, options...)
}

// EnqueueInvoiceGenerate 推送票据生成任务
func (c *Client) EnqueueInvoiceGenerate(payload InvoiceGeneratePayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewInvoiceGenerateTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{
		asynq.Queue(DefaultQueue),
		asynq.TaskID(fmt.Sprintf("invoice:%d", payload.TransactionID)),
	}, opts...)
	return c.enqueue(task, options...)
}

// EnqueueLegacyReconcile 推送历史承诺对账任务
func (c *Client) EnqueueLegacyReconcile(payload LegacyReconcilePayload, delay time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	task, err := NewLegacyReconcileTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, asynq.Queue(LowQueue), asynq.ProcessIn(delay), asynq.MaxRetry(1))
}

// enqueue 任务 ID 冲突说明任务已在队列中
func (c *Client) enqueue(task *asynq.Task, opts ...asynq.Option) error {
	_, err := c.client.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{CriticalQueue: 6, DefaultQueue: 3, LowQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         queues,
		StrictPriority: false,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
