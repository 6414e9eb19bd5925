package pools

import (
	"testing"
	"time"

	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/pkg/models"
)

func profitFn(revenue map[models.ForkID]float64) func(*models.Pool, models.ForkID) fee.MinerProfitability {
	return func(p *models.Pool, fork models.ForkID) fee.MinerProfitability {
		return fee.MinerProfitability{ExpectedRevenueUSD: revenue[fork]}
	}
}

func TestNoAdvantageHoldsWhenGapIsSmall(t *testing.T) {
	e := New(DefaultConfig())
	p := &models.Pool{ID: "pool-a", CurrentFork: models.ForkV27, ForkPreference: models.PreferNone, ProfitabilityThreshold: 0.1}

	recs := e.DecideAll([]*models.Pool{p}, 0, profitFn(map[models.ForkID]float64{
		models.ForkV27: 1000,
		models.ForkV26: 1050, // 5% gap, below the 10% threshold
	}))

	if recs[0].Reason != models.ReasonNoAdvantage {
		t.Fatalf("reason = %v, want no_advantage", recs[0].Reason)
	}
	if p.CurrentFork != models.ForkV27 {
		t.Fatalf("pool should not have switched")
	}
}

func TestProfitSwitchWhenNoIdeology(t *testing.T) {
	e := New(DefaultConfig())
	p := &models.Pool{ID: "pool-a", CurrentFork: models.ForkV27, ForkPreference: models.PreferNone, ProfitabilityThreshold: 0.1}

	recs := e.DecideAll([]*models.Pool{p}, 0, profitFn(map[models.ForkID]float64{
		models.ForkV27: 1000,
		models.ForkV26: 2000, // 100% gap, well past the 10% threshold
	}))

	if recs[0].Reason != models.ReasonProfitSwitch {
		t.Fatalf("reason = %v, want profit_switch", recs[0].Reason)
	}
	if p.CurrentFork != models.ForkV26 {
		t.Fatalf("pool should have switched to v26")
	}
	if p.CumulativeOpportunityUSD != 0 {
		t.Fatalf("cumulative opportunity cost should reset on switch, got %v", p.CumulativeOpportunityUSD)
	}
}

// TestIdeologicalStandoffHolds mirrors scenario S2: a strongly ideological
// pool stays on its preferred fork despite a meaningful profitability gap,
// as long as neither loss cap is tripped.
func TestIdeologicalStandoffHolds(t *testing.T) {
	e := New(DefaultConfig())
	p := &models.Pool{
		ID:                     "pool-ideological",
		CurrentFork:            models.ForkV27,
		ForkPreference:         models.PreferV27,
		IdeologyStrength:       0.9,
		ProfitabilityThreshold: 0.1,
		MaxLossPct:             0.5,
		MaxLossUSD:             1_000_000,
	}

	recs := e.DecideAll([]*models.Pool{p}, 0, profitFn(map[models.ForkID]float64{
		models.ForkV27: 1000,
		models.ForkV26: 1500, // 50% more profitable, but within loss caps
	}))

	if recs[0].Reason != models.ReasonIdeologyHold {
		t.Fatalf("reason = %v, want ideology_hold", recs[0].Reason)
	}
	if p.CurrentFork != models.ForkV27 {
		t.Fatalf("ideological pool should not have switched")
	}
	if p.IdeologyOverrides != 1 {
		t.Fatalf("expected ideology override counter to increment, got %d", p.IdeologyOverrides)
	}
}

func TestForcedLossPctOverridesIdeology(t *testing.T) {
	e := New(DefaultConfig())
	p := &models.Pool{
		ID:                     "pool-ideological",
		CurrentFork:            models.ForkV27,
		ForkPreference:         models.PreferV27,
		IdeologyStrength:       0.9,
		ProfitabilityThreshold: 0.1,
		MaxLossPct:             0.1, // tolerates only a 10% relative gap
		MaxLossUSD:             1_000_000,
	}

	recs := e.DecideAll([]*models.Pool{p}, 0, profitFn(map[models.ForkID]float64{
		models.ForkV27: 1000,
		models.ForkV26: 3000, // 66% relative gap, well past the 10% cap
	}))

	if recs[0].Reason != models.ReasonForcedLossPct {
		t.Fatalf("reason = %v, want forced_loss_pct", recs[0].Reason)
	}
	if p.CurrentFork != models.ForkV26 {
		t.Fatalf("pool should have been forced to switch")
	}
	if p.ForcedSwitches != 1 {
		t.Fatalf("expected forced switch counter to increment, got %d", p.ForcedSwitches)
	}
}

func TestForcedLossUSDAccumulatesAcrossRounds(t *testing.T) {
	e := New(DefaultConfig())
	p := &models.Pool{
		ID:                     "pool-ideological",
		CurrentFork:            models.ForkV27,
		ForkPreference:         models.PreferV27,
		IdeologyStrength:       0.9,
		ProfitabilityThreshold: 0.05,
		MaxLossPct:             1.0, // effectively disabled, isolate the USD cap
		MaxLossUSD:             150,
	}

	profit := profitFn(map[models.ForkID]float64{
		models.ForkV27: 1000,
		models.ForkV26: 1100, // 100 advantage each round, below the pct cap
	})

	r1 := e.DecideAll([]*models.Pool{p}, 0, profit)
	if r1[0].Reason != models.ReasonIdeologyHold {
		t.Fatalf("round 1 reason = %v, want ideology_hold", r1[0].Reason)
	}
	// round 1 accumulated 100 opportunity cost; round 2 adds another 100,
	// crossing the 150 cap.
	r2 := e.DecideAll([]*models.Pool{p}, 600*time.Second, profit)
	if r2[0].Reason != models.ReasonForcedLossUSD {
		t.Fatalf("round 2 reason = %v, want forced_loss_usd once cumulative opportunity cost exceeds the cap", r2[0].Reason)
	}
	if p.CurrentFork != models.ForkV26 {
		t.Fatalf("pool should have been forced to switch on round 2")
	}
}

// TestOscillationFromAssumedVsActualHashrate mirrors the dynamic spec.md
// §9 calls out: two symmetric pools each decide using the hashrate
// distribution from *before* this round, so both can rationally switch
// toward the same fork in the same round, overshooting the target they
// were each individually aiming for.
func TestOscillationFromAssumedVsActualHashrate(t *testing.T) {
	e := New(DefaultConfig())
	a := &models.Pool{ID: "pool-a", CurrentFork: models.ForkV27, HashrateShare: 0.5, ForkPreference: models.PreferNone, ProfitabilityThreshold: 0.1}
	b := &models.Pool{ID: "pool-b", CurrentFork: models.ForkV27, HashrateShare: 0.5, ForkPreference: models.PreferNone, ProfitabilityThreshold: 0.1}
	all := []*models.Pool{a, b}

	assumedV27 := AssumedHashrateShare(all, models.ForkV27)
	assumedV26 := AssumedHashrateShare(all, models.ForkV26)
	if assumedV27 != 1.0 || assumedV26 != 0 {
		t.Fatalf("assumed shares = %v/%v, want 1.0/0", assumedV27, assumedV26)
	}

	// Both pools see v26 as more profitable under the stale, pre-round
	// distribution (v26 is empty so it "looks" attractive to both).
	profit := profitFn(map[models.ForkID]float64{
		models.ForkV27: 1000,
		models.ForkV26: 2000,
	})
	recs := e.DecideAll(all, 0, profit)
	for _, r := range recs {
		if r.Reason != models.ReasonProfitSwitch {
			t.Fatalf("expected both pools to switch under the stale assumption, got %v", r.Reason)
		}
	}

	actualV27 := AssumedHashrateShare(all, models.ForkV27)
	actualV26 := AssumedHashrateShare(all, models.ForkV26)
	if actualV27 != 0 || actualV26 != 1.0 {
		t.Fatalf("actual post-round shares = %v/%v, want 0/1.0 (both overshot onto v26)", actualV27, actualV26)
	}
}
