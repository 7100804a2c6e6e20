package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type serviceTestEnv struct {
	db           *gorm.DB
	transactor   *repository.GormTransactor
	walletRepo   *repository.GormWalletRepository
	budgetRepo   *repository.GormCampaignBudgetRepository
	qrRepo       *repository.GormQRCodeRepository
	seriesRepo   *repository.GormQRSeriesRepository
	campaignRepo *repository.GormCampaignRepository
	eventRepo    *repository.GormRedemptionEventRepository
	claimRepo    *repository.GormClaimRepository
	payoutRepo   *repository.GormPayoutRepository
	invoiceRepo  *repository.GormInvoiceRepository

	ledger     *LedgerService
	inventory  *QRInventoryService
	budgets    *CampaignBudgetService
	payouts    *PayoutService
	redemption *RedemptionService
	claims     *ClaimService
	invoices   *InvoiceService
}

type serviceTestOptions struct {
	instantPayout bool
	rail          PayoutRail
	maxOpenConns  int
}

func setupServiceTest(t *testing.T, name string) *serviceTestEnv {
	return setupServiceTestWith(t, name, serviceTestOptions{})
}

func setupServiceTestWith(t *testing.T, name string, opts serviceTestOptions) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_service_test_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	maxOpen := opts.maxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	env := &serviceTestEnv{
		db: db,
		transactor: repository.NewTransactor(db, repository.RetryPolicy{
			MaxAttempts:     8,
			InitialInterval: time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Timeout:         5 * time.Second,
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
	queueClient, _ := queue.NewClient(&config.QueueConfig{Enabled: false})
	defaults := config.Defaults()

	env.ledger = NewLedgerService(env.transactor, env.walletRepo, "INR", NoopAuditSink{})
	env.inventory = NewQRInventoryService(env.transactor, env.qrRepo, env.seriesRepo, defaults.Inventory)
	env.budgets = NewCampaignBudgetService(env.transactor, env.budgetRepo, env.campaignRepo, env.qrRepo, env.ledger, env.inventory, queueClient)
	env.payouts = NewPayoutService(env.transactor, env.payoutRepo, env.ledger, opts.rail, queueClient, opts.instantPayout)
	env.redemption = NewRedemptionService(env.transactor, env.qrRepo, env.campaignRepo, env.eventRepo, env.budgets, env.ledger, env.payouts, nil)
	env.claims = NewClaimService(env.transactor, env.claimRepo, env.walletRepo, env.ledger, defaults.Claim)
	env.invoices = NewInvoiceService(env.transactor, env.invoiceRepo, env.walletRepo, decimal.RequireFromString("0.18"))
	return env
}

// setClock 固定所有服务的当前时间
func (env *serviceTestEnv) setClock(now func() time.Time) {
	env.ledger.now = now
	env.inventory.now = now
	env.budgets.now = now
	env.payouts.now = now
	env.redemption.now = now
	env.claims.now = now
	env.invoices.now = now
}

func createTestCampaign(t *testing.T, db *gorm.DB, vendorID uint, title string) *models.Campaign {
	t.Helper()
	now := time.Now()
	start := now.Add(-24 * time.Hour)
	end := now.Add(24 * time.Hour)
	campaign := &models.Campaign{
		VendorID:  vendorID,
		Title:     title,
		BrandName: title + " Brand",
		StartDate: &start,
		EndDate:   &end,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(campaign).Error; err != nil {
		t.Fatalf("create campaign failed: %v", err)
	}
	return campaign
}

func seedTestInventory(t *testing.T, env *serviceTestEnv, vendorID uint, series string, count int) *InventoryBatchResult {
	t.Helper()
	result, err := env.inventory.SeedInventory(context.Background(), SeedInventoryInput{
		VendorID:   vendorID,
		Count:      count,
		SeriesCode: series,
	})
	if err != nil {
		t.Fatalf("seed inventory failed: %v", err)
	}
	return result
}

func fundTestCampaign(t *testing.T, env *serviceTestEnv, vendorID, campaignID uint, series string, quantity int, cashback string) *FundCampaignResult {
	t.Helper()
	result, err := env.budgets.FundCampaign(context.Background(), FundCampaignInput{
		VendorID:       vendorID,
		CampaignID:     campaignID,
		SeriesCode:     series,
		Quantity:       quantity,
		CashbackAmount: models.MustMoney(cashback),
	})
	if err != nil {
		t.Fatalf("fund campaign failed: %v", err)
	}
	return result
}

func mustWallet(t *testing.T, env *serviceTestEnv, owner models.WalletOwner) *models.Wallet {
	t.Helper()
	wallet, err := env.walletRepo.GetByOwner(owner)
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if wallet == nil {
		t.Fatalf("wallet %s/%d not found", owner.Type, owner.ID)
	}
	return wallet
}

func mustBudget(t *testing.T, env *serviceTestEnv, id uint) *models.CampaignBudget {
	t.Helper()
	budget, err := env.budgetRepo.GetByID(id)
	if err != nil || budget == nil {
		t.Fatalf("get budget failed: %v", err)
	}
	return budget
}

func mustCode(t *testing.T, env *serviceTestEnv, hash string) *models.QRCode {
	t.Helper()
	code, err := env.qrRepo.GetByHash(hash)
	if err != nil || code == nil {
		t.Fatalf("get code failed: %v", err)
	}
	return code
}

func countTransactions(t *testing.T, db *gorm.DB, category string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.WalletTransaction{}).Where("category = ?", category).Count(&count).Error; err != nil {
		t.Fatalf("count transactions failed: %v", err)
	}
	return count
}

func countEvents(t *testing.T, db *gorm.DB, eventType string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.RedemptionEvent{}).Where("type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	return count
}

func assertMoney(t *testing.T, label string, got models.Money, want string) {
	t.Helper()
	if !got.Equal(models.MustMoney(want).Decimal) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func assertBusinessError(t *testing.T, err error, want *BusinessError) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
}

func createPrimaryPayoutMethod(t *testing.T, db *gorm.DB, userID uint, value string) {
	t.Helper()
	now := time.Now()
	method := &models.PayoutMethod{
		UserID:    userID,
		Type:      constants.PayoutMethodUPI,
		Value:     value,
		IsPrimary: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(method).Error; err != nil {
		t.Fatalf("create payout method failed: %v", err)
	}
}
