package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"
)

func TestClaimRedeemOnceWithReplay(t *testing.T) {
	env := setupServiceTest(t, "claim_redeem")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.setClock(func() time.Time { return base })

	created, err := env.claims.CreateClaim(ctx, CreateClaimInput{Amount: models.MustMoney("50"), TTL: 10 * time.Minute})
	if err != nil {
		t.Fatalf("create claim failed: %v", err)
	}
	if created.Claim.TokenHash == created.Token || strings.Contains(created.Claim.TokenHash, created.Token) {
		t.Fatalf("token must not be stored in clear")
	}
	if created.Claim.TokenHint != created.Token[len(created.Token)-4:] {
		t.Fatalf("unexpected token hint: %s", created.Claim.TokenHint)
	}

	env.setClock(func() time.Time { return base.Add(5 * time.Minute) })
	first, err := env.claims.Redeem(ctx, created.Token, 10)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first redeem must not be a replay")
	}
	assertMoney(t, "wallet", first.Wallet.Available, "50")

	replay, err := env.claims.Redeem(ctx, strings.ToLower(created.Token), 10)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replay.Replayed || replay.Transaction == nil || replay.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay must return original transaction, got %+v", replay)
	}
	assertMoney(t, "wallet after replay", mustWallet(t, env, UserOwner(10)).Balance, "50")

	_, err = env.claims.Redeem(ctx, created.Token, 11)
	assertBusinessError(t, err, ErrAlreadyRedeemed)
	if n := countTransactions(t, env.db, constants.WalletTxnCategoryClaimRedeem); n != 1 {
		t.Fatalf("expected one claim credit, got %d", n)
	}

	stored, err := env.claims.Lookup(created.Token)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.ClaimedByUserID == nil || *stored.ClaimedByUserID != 10 || stored.WalletTxnID == nil {
		t.Fatalf("claim must record redeemer and transaction, got %+v", stored)
	}
}

func TestClaimExpiryAndUnknownToken(t *testing.T) {
	env := setupServiceTest(t, "claim_expiry")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.setClock(func() time.Time { return base })

	created, err := env.claims.CreateClaim(ctx, CreateClaimInput{Amount: models.MustMoney("50")})
	if err != nil {
		t.Fatalf("create claim failed: %v", err)
	}
	if !created.Claim.ExpiresAt.Equal(base.Add(env.claims.cfg.DefaultTTL())) {
		t.Fatalf("default ttl not applied: %s", created.Claim.ExpiresAt)
	}

	env.setClock(func() time.Time { return base.Add(11 * time.Minute) })
	_, err = env.claims.Redeem(ctx, created.Token, 10)
	assertBusinessError(t, err, ErrClaimExpired)
	if wallet, _ := env.walletRepo.GetByOwner(UserOwner(10)); wallet != nil && wallet.Balance.IsPositive() {
		t.Fatalf("expired claim must not credit")
	}

	_, err = env.claims.Redeem(ctx, "CLM-UNKNOWN", 10)
	assertBusinessError(t, err, ErrClaimNotFound)
	_, err = env.claims.Redeem(ctx, " ", 10)
	assertBusinessError(t, err, ErrInvalidInput)
	_, err = env.claims.CreateClaim(ctx, CreateClaimInput{Amount: models.MustMoney("0")})
	assertBusinessError(t, err, ErrInvalidAmount)
}

func TestClaimFingerprintUsesPepper(t *testing.T) {
	env := setupServiceTest(t, "claim_pepper")
	other := NewClaimService(env.transactor, env.claimRepo, env.walletRepo, env.ledger, env.claims.cfg)
	other.key = fingerprintKey("another-pepper")
	if env.claims.fingerprint("TOKEN") == other.fingerprint("TOKEN") {
		t.Fatalf("different peppers must produce different fingerprints")
	}
	if len(fingerprintKey(strings.Repeat("p", 100))) != 32 {
		t.Fatalf("oversized pepper must be reduced to 32 bytes")
	}
}
