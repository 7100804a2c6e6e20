package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"
)

type failingRail struct {
	calls int
}

func (r *failingRail) Send(context.Context, *models.PayoutRequest) (string, error) {
	r.calls++
	return "", errors.New("rail unavailable")
}

func redeemWithPayout(t *testing.T, env *serviceTestEnv, vendorID, userID uint, series string) *RedemptionResult {
	t.Helper()
	campaign := createTestCampaign(t, env.db, vendorID, "Payout "+series)
	seedTestInventory(t, env, vendorID, series, 1)
	funded := fundTestCampaign(t, env, vendorID, campaign.ID, series, 1, "30")
	createPrimaryPayoutMethod(t, env.db, userID, "9876543210@upi")
	result, err := env.redemption.ScanAndRedeem(context.Background(), ScanInput{CodeHash: funded.Codes[0].UniqueHash, UserID: userID})
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if result.Payout == nil {
		t.Fatalf("expected instant payout")
	}
	return result
}

func TestPayoutRailFailureReversesWithdrawal(t *testing.T) {
	rail := &failingRail{}
	env := setupServiceTestWith(t, "payout_failure", serviceTestOptions{instantPayout: true, rail: rail})
	ctx := context.Background()
	result := redeemWithPayout(t, env, 1, 10, "PF")

	request, err := env.payouts.Dispatch(ctx, result.Payout.RequestID)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if request.Status != constants.PayoutStatusFailed || request.FailureReason != "rail unavailable" {
		t.Fatalf("unexpected payout state: %+v", request)
	}
	assertMoney(t, "wallet after reversal", mustWallet(t, env, UserOwner(10)).Balance, "30")
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryPayoutReversal); n != 1 {
		t.Fatalf("expected one reversal, got %d", n)
	}

	again, err := env.payouts.Dispatch(ctx, result.Payout.RequestID)
	if err != nil {
		t.Fatalf("second dispatch failed: %v", err)
	}
	if again.Status != constants.PayoutStatusFailed || rail.calls != 1 {
		t.Fatalf("failed request must not be resent, calls=%d", rail.calls)
	}
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryPayoutReversal); n != 1 {
		t.Fatalf("reversal must be written once, got %d", n)
	}

	_, err = env.payouts.Dispatch(ctx, 9999)
	assertBusinessError(t, err, ErrPayoutRequestNotFound)
}

func TestPayoutSweepDispatchesQueuedRequests(t *testing.T) {
	env := setupServiceTestWith(t, "payout_sweep", serviceTestOptions{instantPayout: true})
	ctx := context.Background()
	result := redeemWithPayout(t, env, 2, 20, "PS")

	if n, err := env.payouts.SweepQueued(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("fresh requests must not be swept, got %d %v", n, err)
	}
	env.payouts.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := env.payouts.SweepQueued(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one swept request, got %d", n)
	}
	request, err := env.payouts.GetRequest(result.Payout.RequestID)
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	if request.Status != constants.PayoutStatusDispatched || request.DispatchedAt == nil {
		t.Fatalf("request must be dispatched, got %+v", request)
	}
}

func TestInstantPayoutSkippedWithoutMethod(t *testing.T) {
	env := setupServiceTestWith(t, "payout_skip", serviceTestOptions{instantPayout: true})
	payout, err := env.payouts.QueueInstantTx(env.db, 30, models.MustMoney("5"), "HASH")
	if err != nil || payout != nil {
		t.Fatalf("expected no payout without method, got %+v %v", payout, err)
	}
	if got := maskDestination("abc"); got != "***" {
		t.Fatalf("short destination must be fully masked, got %s", got)
	}
}
