package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/cashback-next/internal/constants"

	"gorm.io/gorm"
)

// changeCodeDuringSpend 在预算扣减写入前，于同一事务内把二维码改成指定状态，只触发一次
func changeCodeDuringSpend(t *testing.T, db *gorm.DB, hash, status string) {
	t.Helper()
	var fired atomic.Bool
	err := db.Callback().Update().Before("gorm:update").Register("test:change_code_during_spend", func(tx *gorm.DB) {
		if tx.Statement.Table != "campaign_budgets" || !fired.CompareAndSwap(false, true) {
			return
		}
		if err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE qr_codes SET status = ?, redeemed_by_user_id = ? WHERE unique_hash = ?", status, 999, hash).Error; err != nil {
			_ = tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("register callback failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Callback().Update().Remove("test:change_code_during_spend")
	})
}

func TestScanAndRedeemConditionalUpdateLosesRace(t *testing.T) {
	env := setupServiceTest(t, "redeem_cas")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Race")
	seedTestInventory(t, env, 1, "CAS", 1)
	funded := fundTestCampaign(t, env, 1, campaign.ID, "CAS", 1, "12.00")
	hash := funded.Codes[0].UniqueHash

	changeCodeDuringSpend(t, env.db, hash, constants.QRCodeStatusRedeemed)
	_, err := env.redemption.ScanAndRedeem(ctx, ScanInput{CodeHash: hash, UserID: 50})
	assertBusinessError(t, err, ErrAlreadyRedeemed)

	// 整个事务回滚：预算未消耗，无返现流水，码回到 funded
	budget := mustBudget(t, env, funded.Budget.ID)
	assertMoney(t, "locked", budget.LockedAmount, "12.00")
	assertMoney(t, "spent", budget.SpentAmount, "0")
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCashbackPayout); n != 0 {
		t.Fatalf("lost race must not credit, got %d cashback txns", n)
	}
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCampaignSpend); n != 0 {
		t.Fatalf("lost race must not spend, got %d spend txns", n)
	}
	if code := mustCode(t, env, hash); code.Status != constants.QRCodeStatusFunded {
		t.Fatalf("code must roll back to funded, got %s", code.Status)
	}
	if n := countEvents(t, env.db, constants.RedemptionEventAlreadyRedeemed); n != 1 {
		t.Fatalf("expected one already_redeemed event, got %d", n)
	}

	// 回调只触发一次，随后的正常核销成功
	result, err := env.redemption.ScanAndRedeem(ctx, ScanInput{CodeHash: hash, UserID: 50})
	if err != nil {
		t.Fatalf("redeem after lost race failed: %v", err)
	}
	assertMoney(t, "amount", result.Amount, "12.00")
}

func TestScanAndRedeemConditionalUpdateSeesVoid(t *testing.T) {
	env := setupServiceTest(t, "redeem_cas_void")
	ctx := context.Background()
	campaign := createTestCampaign(t, env.db, 1, "Race Void")
	seedTestInventory(t, env, 1, "CASV", 1)
	funded := fundTestCampaign(t, env, 1, campaign.ID, "CASV", 1, "8.00")
	hash := funded.Codes[0].UniqueHash

	changeCodeDuringSpend(t, env.db, hash, constants.QRCodeStatusVoid)
	_, err := env.redemption.ScanAndRedeem(ctx, ScanInput{CodeHash: hash, UserID: 51})
	assertBusinessError(t, err, ErrCodeNotActive)
	assertMoney(t, "locked", mustBudget(t, env, funded.Budget.ID).LockedAmount, "8.00")
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryCashbackPayout); n != 0 {
		t.Fatalf("void code must not credit, got %d", n)
	}
}
