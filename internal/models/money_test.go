package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMoneyUnmarshalKeepsDecimalLiteral(t *testing.T) {
	var payload struct {
		Amount Money `json:"amount"`
	}
	if err := json.Unmarshal([]byte(`{"amount":0.1}`), &payload); err != nil {
		t.Fatalf("unmarshal number failed: %v", err)
	}
	if payload.Amount.String() != "0.10" {
		t.Fatalf("unexpected amount: %s", payload.Amount)
	}
	if err := json.Unmarshal([]byte(`{"amount":"20.005"}`), &payload); err != nil {
		t.Fatalf("unmarshal string failed: %v", err)
	}
	if payload.Amount.String() != "20.01" {
		t.Fatalf("expected half-up rounding to 20.01, got %s", payload.Amount)
	}
	if err := json.Unmarshal([]byte(`{"amount":"abc"}`), &payload); err == nil {
		t.Fatalf("expected invalid amount error")
	}
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	total := ZeroMoney()
	for i := 0; i < 10; i++ {
		total = total.Add(MustMoney("0.10"))
	}
	if !total.Equal(MustMoney("1.00").Decimal) {
		t.Fatalf("expected exact 1.00, got %s", total)
	}
	if got := MustMoney("20.00").Mul(5); got.String() != "100.00" {
		t.Fatalf("unexpected product: %s", got)
	}
	if MustMoney("0").IsPositive() || !MustMoney("0.01").IsPositive() {
		t.Fatalf("unexpected positivity")
	}
}

func TestMoneyScanFromDriverValues(t *testing.T) {
	cases := []interface{}{int64(80), float64(80), "80.00", []byte("80")}
	for _, raw := range cases {
		var m Money
		if err := m.Scan(raw); err != nil {
			t.Fatalf("scan %T failed: %v", raw, err)
		}
		if m.String() != "80.00" {
			t.Fatalf("scan %T got %s", raw, m)
		}
	}
}

func TestWalletSnapshotHelpers(t *testing.T) {
	w := Wallet{Balance: MustMoney("100"), LockedBalance: MustMoney("80")}
	if w.Available().String() != "20.00" {
		t.Fatalf("unexpected available: %s", w.Available())
	}
	if !w.Consistent() {
		t.Fatalf("wallet should be consistent")
	}
	w.LockedBalance = MustMoney("100.01")
	if w.Consistent() {
		t.Fatalf("locked above balance must be inconsistent")
	}
}

func TestCampaignBudgetConserved(t *testing.T) {
	b := CampaignBudget{
		InitialLockedAmount: MustMoney("100"),
		LockedAmount:        MustMoney("60"),
		SpentAmount:         MustMoney("20"),
		RefundedAmount:      MustMoney("20"),
	}
	if !b.Conserved() {
		t.Fatalf("budget should be conserved")
	}
	b.SpentAmount = MustMoney("25")
	if b.Conserved() {
		t.Fatalf("budget drift must be detected")
	}
}

func TestCampaignWithinWindow(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	c := Campaign{StartDate: &start, EndDate: &end}
	if !c.WithinWindow(now) {
		t.Fatalf("now should be inside window")
	}
	if c.WithinWindow(now.Add(2 * time.Hour)) {
		t.Fatalf("after end should be outside window")
	}
	if !(Campaign{}).WithinWindow(now) {
		t.Fatalf("open window should accept any time")
	}
}

func TestClaimExpiry(t *testing.T) {
	now := time.Now()
	c := Claim{ExpiresAt: now.Add(10 * time.Minute)}
	if c.IsExpired(now) {
		t.Fatalf("claim should be valid")
	}
	if !c.IsExpired(now.Add(11 * time.Minute)) {
		t.Fatalf("claim should be expired")
	}
}
