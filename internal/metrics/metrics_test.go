package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreExported(t *testing.T) {
	before := testutil.ToFloat64(Redemptions.WithLabelValues(Outcome("")))
	Redemptions.WithLabelValues(Outcome("")).Inc()
	if got := testutil.ToFloat64(Redemptions.WithLabelValues("ok")); got != before+1 {
		t.Fatalf("expected counter to advance, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cashback_redemption_attempts_total") {
		t.Fatalf("metrics output missing redemption counter")
	}
}

func TestOutcomeLabel(t *testing.T) {
	if Outcome("already_redeemed") != "already_redeemed" {
		t.Fatalf("error code must pass through")
	}
}
