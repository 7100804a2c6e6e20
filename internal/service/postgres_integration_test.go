//go:build integration
// +build integration

package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresServiceTest 初始化 PostgreSQL 集成测试环境，连接池允许真实并发
func setupPostgresServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}
	tables := []interface{}{
		&models.InvoiceItem{}, &models.Invoice{}, &models.PayoutRequest{}, &models.PayoutMethod{},
		&models.Claim{}, &models.RedemptionEvent{}, &models.QRCode{}, &models.QRSeries{},
		&models.CampaignBudget{}, &models.Campaign{}, &models.WalletTransaction{}, &models.Wallet{},
	}
	_ = db.Migrator().DropTable(tables...)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() {
		_ = db.Migrator().DropTable(tables...)
		_ = sqlDB.Close()
	})

	env := &serviceTestEnv{
		db: db,
		transactor: repository.NewTransactor(db, repository.RetryPolicy{
			MaxAttempts:     20,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Timeout:         10 * time.Second,
		}),
		walletRepo:   repository.NewWalletRepository(db),
		budgetRepo:   repository.NewCampaignBudgetRepository(db),
		qrRepo:       repository.NewQRCodeRepository(db),
		seriesRepo:   repository.NewQRSeriesRepository(db),
		campaignRepo: repository.NewCampaignRepository(db),
		eventRepo:    repository.NewRedemptionEventRepository(db),
		claimRepo:    repository.NewClaimRepository(db),
		payoutRepo:   repository.NewPayoutRepository(db),
		invoiceRepo:  repository.NewInvoiceRepository(db),
	}
	queueClient, _ := queue.NewClient(nil)
	defaults := config.Defaults()
	env.ledger = NewLedgerService(env.transactor, env.walletRepo, "INR", NoopAuditSink{})
	env.inventory = NewQRInventoryService(env.transactor, env.qrRepo, env.seriesRepo, defaults.Inventory)
	env.budgets = NewCampaignBudgetService(env.transactor, env.budgetRepo, env.campaignRepo, env.qrRepo, env.ledger, env.inventory, queueClient)
	env.payouts = NewPayoutService(env.transactor, env.payoutRepo, env.ledger, nil, queueClient, false)
	env.redemption = NewRedemptionService(env.transactor, env.qrRepo, env.campaignRepo, env.eventRepo, env.budgets, env.ledger, env.payouts, nil)
	env.claims = NewClaimService(env.transactor, env.claimRepo, env.walletRepo, env.ledger, defaults.Claim)
	env.invoices = NewInvoiceService(env.transactor, env.invoiceRepo, env.walletRepo, decimal.Zero)
	return env
}

func TestPostgresConcurrentRedemptionsConserveBudget(t *testing.T) {
	env := setupPostgresServiceTest(t)
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Concurrent")
	seedTestInventory(t, env, 1, "PG", 20)
	funded := fundTestCampaign(t, env, 1, campaign.ID, "PG", 20, "7.25")

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	// 每个码被两个用户同时扫描
	for i, code := range funded.Codes {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(hash string, userID uint) {
				defer wg.Done()
				_, err := env.redemption.ScanAndRedeem(ctx, ScanInput{CodeHash: hash, UserID: userID})
				if err != nil && ErrorCode(err) != ErrAlreadyRedeemed.Code {
					errs <- fmt.Errorf("%s/%d: %w", hash, userID, err)
				}
			}(code.UniqueHash, uint(1000+i*2+j))
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected redemption error: %v", err)
	}

	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCashbackPayout); n != 20 {
		t.Fatalf("expected one cashback per code, got %d", n)
	}
	budget := mustBudget(t, env, funded.Budget.ID)
	if budget.Status != constants.CampaignBudgetStatusClosed || !budget.Conserved() {
		t.Fatalf("budget must be closed and conserved, got %+v", budget)
	}
	assertMoney(t, "spent", budget.SpentAmount, "145.00")
	vendor := mustWallet(t, env, VendorOwner(1))
	if !vendor.Consistent() {
		t.Fatalf("vendor wallet inconsistent: %+v", vendor)
	}
	assertMoney(t, "vendor locked", vendor.LockedBalance, "0")
}

func TestPostgresConcurrentClaimRedeemsOnce(t *testing.T) {
	env := setupPostgresServiceTest(t)
	ctx := context.Background()
	created, err := env.claims.CreateClaim(ctx, CreateClaimInput{Amount: models.MustMoney("50")})
	if err != nil {
		t.Fatalf("create claim failed: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			_, _ = env.claims.Redeem(ctx, created.Token, userID)
		}(uint(10 + i))
	}
	wg.Wait()
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryClaimRedeem); n != 1 {
		t.Fatalf("expected exactly one claim credit, got %d", n)
	}
}
