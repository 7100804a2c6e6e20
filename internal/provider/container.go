package provider

import (
	"context"
	"time"

	"github.com/cashback-next/internal/cache"
	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/repository"
	"github.com/cashback-next/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	Transactor  *repository.GormTransactor
	QueueClient *queue.Client
	Cache       *cache.Store

	// Repositories
	WalletRepo          repository.WalletRepository
	CampaignRepo        repository.CampaignRepository
	CampaignBudgetRepo  repository.CampaignBudgetRepository
	QRCodeRepo          repository.QRCodeRepository
	QRSeriesRepo        repository.QRSeriesRepository
	RedemptionEventRepo repository.RedemptionEventRepository
	ClaimRepo           repository.ClaimRepository
	PayoutRepo          repository.PayoutRepository
	InvoiceRepo         repository.InvoiceRepository

	// Services
	LedgerService     *service.LedgerService
	InventoryService  *service.QRInventoryService
	BudgetService     *service.CampaignBudgetService
	PayoutService     *service.PayoutService
	RedemptionService *service.RedemptionService
	ClaimService      *service.ClaimService
	InvoiceService    *service.InvoiceService
}

// NewContainer 初始化容器，db 由调用方打开并负责关闭
func NewContainer(cfg *config.Config, db *gorm.DB) *Container {
	store := cache.NewStore(&cfg.Redis)
	if store.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := store.Ping(ctx); err != nil {
			logger.Warnw("provider_init_redis_failed", "error", err)
		}
		cancel()
	}

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	retry := cfg.Ledger.Retry
	c := &Container{
		Config: cfg,
		DB:     db,
		Transactor: repository.NewTransactor(db, repository.RetryPolicy{
			MaxAttempts:     retry.MaxAttempts,
			InitialInterval: time.Duration(retry.InitialIntervalMS) * time.Millisecond,
			MaxInterval:     time.Duration(retry.MaxIntervalMS) * time.Millisecond,
			Timeout:         cfg.Ledger.TxTimeout(),
		}),
		QueueClient: queueClient,
		Cache:       store,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := c.DB
	c.WalletRepo = repository.NewWalletRepository(db)
	c.CampaignRepo = repository.NewCampaignRepository(db)
	c.CampaignBudgetRepo = repository.NewCampaignBudgetRepository(db)
	c.QRCodeRepo = repository.NewQRCodeRepository(db)
	c.QRSeriesRepo = repository.NewQRSeriesRepository(db)
	c.RedemptionEventRepo = repository.NewRedemptionEventRepository(db)
	c.ClaimRepo = repository.NewClaimRepository(db)
	c.PayoutRepo = repository.NewPayoutRepository(db)
	c.InvoiceRepo = repository.NewInvoiceRepository(db)
}

func (c *Container) initServices() {
	cfg := c.Config
	c.LedgerService = service.NewLedgerService(c.Transactor, c.WalletRepo, cfg.Ledger.Currency, service.LoggerAuditSink{})
	c.InventoryService = service.NewQRInventoryService(c.Transactor, c.QRCodeRepo, c.QRSeriesRepo, cfg.Inventory)
	c.BudgetService = service.NewCampaignBudgetService(
		c.Transactor,
		c.CampaignBudgetRepo,
		c.CampaignRepo,
		c.QRCodeRepo,
		c.LedgerService,
		c.InventoryService,
		c.QueueClient,
	)
	c.PayoutService = service.NewPayoutService(
		c.Transactor,
		c.PayoutRepo,
		c.LedgerService,
		service.LoggingPayoutRail{},
		c.QueueClient,
		cfg.Redemption.InstantPayout,
	)

	var previewDir service.CampaignDirectory = service.NewRepositoryCampaignDirectory(c.CampaignRepo)
	if c.Cache.Enabled() && cfg.Redemption.PreviewCacheTTL() > 0 {
		previewDir = service.NewCachedCampaignDirectory(previewDir, c.Cache, cfg.Redemption.PreviewCacheTTL())
	}
	c.RedemptionService = service.NewRedemptionService(
		c.Transactor,
		c.QRCodeRepo,
		c.CampaignRepo,
		c.RedemptionEventRepo,
		c.BudgetService,
		c.LedgerService,
		c.PayoutService,
		previewDir,
	)
	c.ClaimService = service.NewClaimService(c.Transactor, c.ClaimRepo, c.WalletRepo, c.LedgerService, cfg.Claim)
	c.InvoiceService = service.NewInvoiceService(c.Transactor, c.InvoiceRepo, c.WalletRepo, cfg.Invoice.TaxRate())
}

// Close 释放缓存与队列连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := c.Cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
