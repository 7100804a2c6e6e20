package service

import (
	"context"
	"sync"
	"testing"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"
)

func TestLedgerPrimitiveBalanceEffects(t *testing.T) {
	env := setupServiceTest(t, "ledger_primitives")
	ctx := context.Background()
	vendor := VendorOwner(1)

	wallet, err := env.ledger.EnsureWallet(ctx, vendor)
	if err != nil {
		t.Fatalf("ensure wallet failed: %v", err)
	}
	again, err := env.ledger.EnsureWallet(ctx, vendor)
	if err != nil || again.ID != wallet.ID {
		t.Fatalf("ensure wallet must be idempotent: %v", err)
	}

	if _, _, err := env.ledger.Lock(ctx, LedgerEntryInput{Owner: vendor, Amount: models.MustMoney("100")}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	w := mustWallet(t, env, vendor)
	assertMoney(t, "balance after lock", w.Balance, "100")
	assertMoney(t, "locked after lock", w.LockedBalance, "100")

	if _, _, err := env.ledger.SpendLocked(ctx, LedgerEntryInput{Owner: vendor, Amount: models.MustMoney("30")}); err != nil {
		t.Fatalf("spend locked failed: %v", err)
	}
	w = mustWallet(t, env, vendor)
	assertMoney(t, "balance after spend", w.Balance, "100")
	assertMoney(t, "locked after spend", w.LockedBalance, "70")

	if _, _, err := env.ledger.ChargeFee(ctx, LedgerEntryInput{Owner: vendor, Amount: models.MustMoney("10")}); err != nil {
		t.Fatalf("charge fee failed: %v", err)
	}
	if _, _, err := env.ledger.UnlockRefund(ctx, LedgerEntryInput{Owner: vendor, Amount: models.MustMoney("70")}); err != nil {
		t.Fatalf("unlock refund failed: %v", err)
	}
	w = mustWallet(t, env, vendor)
	assertMoney(t, "final balance", w.Balance, "20")
	assertMoney(t, "final locked", w.LockedBalance, "0")
	if !w.Consistent() {
		t.Fatalf("wallet must stay consistent")
	}

	snapshot := env.ledger.GetSnapshot(w)
	assertMoney(t, "snapshot available", snapshot.Available, "20")
	assertMoney(t, "snapshot total", snapshot.Total, "20")

	txns, total, err := env.ledger.ListTransactions(repository.WalletTransactionListFilter{WalletID: w.ID})
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if total != 4 || len(txns) != 4 {
		t.Fatalf("expected 4 transactions, got %d", total)
	}
	last := txns[3]
	if last.Category != constants.WalletTxnCategoryCampaignRefund {
		t.Fatalf("unexpected last category: %s", last.Category)
	}
	assertMoney(t, "refund before", last.LockedBalanceBefore, "70")
	assertMoney(t, "refund after", last.LockedBalanceAfter, "0")
}

func TestLedgerRejectsInvalidMutations(t *testing.T) {
	env := setupServiceTest(t, "ledger_rejects")
	ctx := context.Background()
	user := UserOwner(9)

	_, _, err := env.ledger.CreditAvailable(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("0")})
	assertBusinessError(t, err, ErrInvalidAmount)
	_, _, err = env.ledger.CreditAvailable(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("-5")})
	assertBusinessError(t, err, ErrInvalidAmount)
	_, _, err = env.ledger.CreditAvailable(ctx, LedgerEntryInput{Owner: models.WalletOwner{Type: "bank", ID: 1}, Amount: models.MustMoney("5")})
	assertBusinessError(t, err, ErrInvalidOwner)

	if _, _, err := env.ledger.Lock(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("50")}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	// 可用余额为 0，锁定资金不能用于手续费
	_, _, err = env.ledger.ChargeFee(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("1")})
	assertBusinessError(t, err, ErrInsufficientAvailableFunds)
	_, _, err = env.ledger.SpendLocked(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("50.01")})
	assertBusinessError(t, err, ErrInsufficientLockedFunds)
	_, _, err = env.ledger.UnlockRefund(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("60")})
	assertBusinessError(t, err, ErrInsufficientLockedFunds)

	w := mustWallet(t, env, user)
	assertMoney(t, "balance unchanged", w.Balance, "50")
	assertMoney(t, "locked unchanged", w.LockedBalance, "50")
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryFee); n != 0 {
		t.Fatalf("rejected fee must not write a transaction, got %d", n)
	}
}

func TestLedgerReferenceIsWrittenOnce(t *testing.T) {
	env := setupServiceTest(t, "ledger_reference")
	ctx := context.Background()
	user := UserOwner(3)
	in := LedgerEntryInput{Owner: user, Amount: models.MustMoney("5"), ReferenceID: "ref-1"}
	if _, _, err := env.ledger.CreditAvailable(ctx, in); err != nil {
		t.Fatalf("first credit failed: %v", err)
	}
	_, _, err := env.ledger.CreditAvailable(ctx, in)
	assertBusinessError(t, err, ErrDuplicateReference)
	assertMoney(t, "balance", mustWallet(t, env, user).Balance, "5")

	// 不同分类可复用同一引用
	if _, _, err := env.ledger.Withdraw(ctx, LedgerEntryInput{Owner: user, Amount: models.MustMoney("5"), ReferenceID: "ref-1"}); err != nil {
		t.Fatalf("withdraw with same reference in another category failed: %v", err)
	}
}

func TestLedgerConcurrentFeesNeverOverdraw(t *testing.T) {
	env := setupServiceTest(t, "ledger_concurrent")
	ctx := context.Background()
	vendor := VendorOwner(5)
	if _, _, err := env.ledger.CreditAvailable(ctx, LedgerEntryInput{Owner: vendor, Amount: models.MustMoney("10")}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.ledger.ChargeFee(ctx, LedgerEntryInput{Owner: vendor, Amount: models.MustMoney("3")})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if success != 3 {
		t.Fatalf("expected exactly 3 fees to succeed, got %d", success)
	}
	w := mustWallet(t, env, vendor)
	assertMoney(t, "balance", w.Balance, "1")
	if !w.Consistent() {
		t.Fatalf("wallet must stay consistent")
	}
}
