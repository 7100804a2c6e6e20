package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"
)

func TestOpenBudgetLocksVendorFunds(t *testing.T) {
	env := setupServiceTest(t, "budget_open")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Navratri")

	budget, lock, err := env.budgets.OpenBudget(ctx, OpenBudgetInput{VendorID: 1, CampaignID: campaign.ID, Amount: models.MustMoney("50")})
	if err != nil {
		t.Fatalf("open budget failed: %v", err)
	}
	if budget.Status != constants.CampaignBudgetStatusActive || budget.Source != constants.CampaignBudgetSourceFunding {
		t.Fatalf("unexpected budget: %+v", budget)
	}
	assertMoney(t, "initial", budget.InitialLockedAmount, "50")
	if lock.Category != constants.WalletTxnCategoryCampaignLock || lock.ReferenceID != buildBudgetReference(budget.BudgetNo, "lock") {
		t.Fatalf("unexpected lock transaction: %+v", lock)
	}
	wallet := mustWallet(t, env, VendorOwner(1))
	assertMoney(t, "balance", wallet.Balance, "50")
	assertMoney(t, "locked", wallet.LockedBalance, "50")

	_, _, err = env.budgets.OpenBudget(ctx, OpenBudgetInput{VendorID: 2, CampaignID: campaign.ID, Amount: models.MustMoney("5")})
	assertBusinessError(t, err, ErrCampaignUnavailable)
	_, _, err = env.budgets.OpenBudget(ctx, OpenBudgetInput{VendorID: 1, CampaignID: campaign.ID, Amount: models.MustMoney("0")})
	assertBusinessError(t, err, ErrInvalidAmount)
}

func TestBudgetSpendClosesWhenExhausted(t *testing.T) {
	env := setupServiceTest(t, "budget_spend")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Baisakhi")
	budget, _, err := env.budgets.OpenBudget(ctx, OpenBudgetInput{VendorID: 1, CampaignID: campaign.ID, Amount: models.MustMoney("30")})
	if err != nil {
		t.Fatalf("open budget failed: %v", err)
	}

	if _, err := env.budgets.Spend(ctx, budget.ID, models.MustMoney("40"), "over"); err == nil {
		t.Fatalf("overspend must fail")
	} else {
		assertBusinessError(t, err, ErrBudgetExhausted)
	}
	if _, err := env.budgets.Spend(ctx, budget.ID, models.MustMoney("10"), "r-1"); err != nil {
		t.Fatalf("spend failed: %v", err)
	}
	_, err = env.budgets.Spend(ctx, budget.ID, models.MustMoney("5"), "r-1")
	assertBusinessError(t, err, ErrDuplicateReference)

	closed, err := env.budgets.Spend(ctx, budget.ID, models.MustMoney("20"), "r-2")
	if err != nil {
		t.Fatalf("final spend failed: %v", err)
	}
	if closed.Status != constants.CampaignBudgetStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("exhausted budget must close, got %+v", closed)
	}
	stored := mustBudget(t, env, budget.ID)
	assertMoney(t, "spent", stored.SpentAmount, "30")
	if !stored.Conserved() {
		t.Fatalf("budget must be conserved")
	}
	_, err = env.budgets.Spend(ctx, budget.ID, models.MustMoney("1"), "r-3")
	assertBusinessError(t, err, ErrBudgetNotActive)
	_, err = env.budgets.Cancel(ctx, budget.ID, "late")
	assertBusinessError(t, err, ErrBudgetNotActive)

	wallet := mustWallet(t, env, VendorOwner(1))
	assertMoney(t, "vendor balance", wallet.Balance, "30")
	assertMoney(t, "vendor locked", wallet.LockedBalance, "0")
}

func TestBudgetConcurrentSpendNeverOverspends(t *testing.T) {
	env := setupServiceTest(t, "budget_concurrent")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Teej")
	budget, _, err := env.budgets.OpenBudget(ctx, OpenBudgetInput{VendorID: 1, CampaignID: campaign.ID, Amount: models.MustMoney("25")})
	if err != nil {
		t.Fatalf("open budget failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.budgets.Spend(ctx, budget.ID, models.MustMoney("5"), fmt.Sprintf("scan-%d", i))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if code := ErrorCode(err); code != ErrBudgetExhausted.Code && code != ErrBudgetNotActive.Code {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if success != 5 {
		t.Fatalf("expected 5 successful spends, got %d", success)
	}
	stored := mustBudget(t, env, budget.ID)
	assertMoney(t, "locked", stored.LockedAmount, "0")
	assertMoney(t, "spent", stored.SpentAmount, "25")
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCampaignSpend); n != 5 {
		t.Fatalf("expected 5 spend transactions, got %d", n)
	}
}

func TestFundCampaignRollsBackOnShortInventory(t *testing.T) {
	env := setupServiceTest(t, "budget_fund_rollback")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Karva")
	seedTestInventory(t, env, 1, "SHORT", 2)

	_, err := env.budgets.FundCampaign(ctx, FundCampaignInput{
		VendorID:       1,
		CampaignID:     campaign.ID,
		SeriesCode:     "SHORT",
		Quantity:       3,
		CashbackAmount: models.MustMoney("10"),
	})
	assertBusinessError(t, err, ErrInsufficientInventory)
	if wallet, _ := env.walletRepo.GetByOwner(VendorOwner(1)); wallet != nil && wallet.LockedBalance.IsPositive() {
		t.Fatalf("failed funding must not lock funds, got %s", wallet.LockedBalance)
	}
	var budgets int64
	env.db.Model(&models.CampaignBudget{}).Count(&budgets)
	if budgets != 0 {
		t.Fatalf("failed funding must not create a budget, got %d", budgets)
	}
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCampaignLock); n != 0 {
		t.Fatalf("failed funding must not write a lock, got %d", n)
	}

	_, err = env.budgets.FundCampaign(ctx, FundCampaignInput{VendorID: 9, CampaignID: campaign.ID, Quantity: 1, CashbackAmount: models.MustMoney("1")})
	assertBusinessError(t, err, ErrInsufficientInventory)
}

func TestReconcileLegacyCommitmentsIsIdempotent(t *testing.T) {
	env := setupServiceTest(t, "budget_legacy")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 7, "Legacy")
	now := time.Now()
	userID := uint(70)
	codes := []models.QRCode{
		{UniqueHash: "L-1", Status: constants.QRCodeStatusActive, CashbackAmount: models.MustMoney("10")},
		{UniqueHash: "L-2", Status: constants.QRCodeStatusAssigned, CashbackAmount: models.MustMoney("15.50")},
		{UniqueHash: "L-3", Status: constants.QRCodeStatusRedeemed, CashbackAmount: models.MustMoney("5"), RedeemedByUserID: &userID, RedeemedAt: &now},
	}
	for i := range codes {
		codes[i].VendorID = 7
		codes[i].CampaignID = uintPtr(campaign.ID)
		codes[i].SeriesCode = "LEGACY"
		codes[i].SeriesOrder = i + 1
		codes[i].CreatedAt = now
		codes[i].UpdatedAt = now
	}
	if err := env.db.Create(&codes).Error; err != nil {
		t.Fatalf("create legacy codes failed: %v", err)
	}

	report, err := env.budgets.ReconcileLegacyCommitments(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Groups != 1 || report.BudgetsOpened != 1 || report.CodesAttached != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	assertMoney(t, "locked total", report.LockedTotal, "25.50")
	budget := mustBudget(t, env, report.BudgetIDs[0])
	if budget.Source != constants.CampaignBudgetSourceLegacyImport || budget.Status != constants.CampaignBudgetStatusActive {
		t.Fatalf("unexpected legacy budget: %+v", budget)
	}
	assertMoney(t, "initial", budget.InitialLockedAmount, "30.50")
	assertMoney(t, "spent", budget.SpentAmount, "5")
	if !budget.Conserved() {
		t.Fatalf("legacy budget must be conserved")
	}
	assertMoney(t, "vendor locked", mustWallet(t, env, VendorOwner(7)).LockedBalance, "25.50")

	again, err := env.budgets.ReconcileLegacyCommitments(ctx)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if again.Groups != 0 || again.BudgetsOpened != 0 {
		t.Fatalf("rerun must be a no-op, got %+v", again)
	}
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCampaignLock); n != 1 {
		t.Fatalf("expected one legacy lock, got %d", n)
	}

	// 补建预算后的码可正常核销
	if _, err := env.redemption.ScanAndRedeem(ctx, ScanInput{CodeHash: "L-1", UserID: userID}); err != nil {
		t.Fatalf("redeem legacy code failed: %v", err)
	}
	assertMoney(t, "locked after redeem", mustBudget(t, env, budget.ID).LockedAmount, "15.50")
}

func TestCancelLeavesSiblingBudgetCodesFunded(t *testing.T) {
	env := setupServiceTest(t, "budget_sibling")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 4, "Two Rounds")
	seedTestInventory(t, env, 4, "R", 4)
	first := fundTestCampaign(t, env, 4, campaign.ID, "R", 2, "10.00")
	second := fundTestCampaign(t, env, 4, campaign.ID, "R", 2, "10.00")

	now := time.Now()
	orphan := models.QRCode{
		UniqueHash:     "R-ORPHAN",
		VendorID:       4,
		SeriesCode:     "R-OLD",
		SeriesOrder:    1,
		Status:         constants.QRCodeStatusActive,
		CampaignID:     uintPtr(campaign.ID),
		CashbackAmount: models.MustMoney("5"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := env.db.Create(&orphan).Error; err != nil {
		t.Fatalf("create unbudgeted code failed: %v", err)
	}

	cancelled, err := env.budgets.Cancel(ctx, first.Budget.ID, "first round withdrawn")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.VoidedCodes != 3 {
		t.Fatalf("expected own codes and the unbudgeted code voided, got %d", cancelled.VoidedCodes)
	}
	if code := mustCode(t, env, orphan.UniqueHash); code.Status != constants.QRCodeStatusVoid {
		t.Fatalf("unbudgeted campaign code must be voided, got %s", code.Status)
	}

	sibling := mustBudget(t, env, second.Budget.ID)
	if sibling.Status != constants.CampaignBudgetStatusActive {
		t.Fatalf("sibling budget must stay active, got %s", sibling.Status)
	}
	assertMoney(t, "sibling locked", sibling.LockedAmount, "20.00")
	for _, code := range second.Codes {
		stored := mustCode(t, env, code.UniqueHash)
		if stored.Status != constants.QRCodeStatusFunded || stored.CampaignBudgetID == nil || *stored.CampaignBudgetID != sibling.ID {
			t.Fatalf("sibling code must stay funded and linked, got %+v", stored)
		}
	}

	for i, code := range second.Codes {
		if _, err := env.redemption.ScanAndRedeem(ctx, ScanInput{CodeHash: code.UniqueHash, UserID: uint(400 + i)}); err != nil {
			t.Fatalf("redeem sibling code failed: %v", err)
		}
	}
	sibling = mustBudget(t, env, second.Budget.ID)
	if sibling.Status != constants.CampaignBudgetStatusClosed || !sibling.Conserved() {
		t.Fatalf("sibling budget must close conserved, got %+v", sibling)
	}
	vendor := mustWallet(t, env, VendorOwner(4))
	assertMoney(t, "vendor locked", vendor.LockedBalance, "0")
	assertMoney(t, "vendor balance", vendor.Balance, "20.00")
}
