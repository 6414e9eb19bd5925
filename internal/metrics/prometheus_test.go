package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcforks/forksim/pkg/models"
)

func TestPrometheusExporterServesObservedGauges(t *testing.T) {
	e := NewPrometheusExporter()
	e.Observe(models.ForkV27, ForkSnapshot{PriceUSD: 30000, Difficulty: 2, CumulativeWork: 10, FeeRate: 5})
	e.ObserveReorg(models.ReorgEvent{Cause: models.ReorgCausePropagation})
	e.ObserveDecision(models.DecisionRecord{Reason: models.ReasonProfitSwitch})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "forksim_fork_price_usd") {
		t.Fatalf("expected price gauge in output, got:\n%s", body)
	}
	if !strings.Contains(body, "forksim_reorgs_total") {
		t.Fatalf("expected reorg counter in output")
	}
	if !strings.Contains(body, "forksim_decisions_total") {
		t.Fatalf("expected decision counter in output")
	}
}
