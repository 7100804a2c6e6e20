package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Ledger.Currency != "INR" {
		t.Fatalf("unexpected default currency: %s", cfg.Ledger.Currency)
	}
	if cfg.Claim.DefaultTTL().Minutes() != 10 {
		t.Fatalf("unexpected claim ttl: %s", cfg.Claim.DefaultTTL())
	}
	if !cfg.Invoice.TaxRate().Equal(decimal.RequireFromString("0.18")) {
		t.Fatalf("unexpected tax rate: %s", cfg.Invoice.TaxRate())
	}
	if cfg.Queue.Queues["critical"] == 0 {
		t.Fatalf("critical queue weight missing: %+v", cfg.Queue.Queues)
	}
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"empty currency": func(c *Config) { c.Ledger.Currency = " " },
		"zero attempts":  func(c *Config) { c.Ledger.Retry.MaxAttempts = 0 },
		"short hash":     func(c *Config) { c.Inventory.HashBytes = 4 },
		"zero claim ttl": func(c *Config) { c.Claim.DefaultTTLMinutes = 0 },
		"tax above one":  func(c *Config) { c.Invoice.FeeTaxRate = "1.5" },
	}
	for name, mutate := range cases {
		cfg := Defaults()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestInvoiceTaxRateFallsBackToZero(t *testing.T) {
	if !(InvoiceConfig{FeeTaxRate: "abc"}).TaxRate().IsZero() {
		t.Fatalf("unparseable tax rate should be zero")
	}
}
