// Package pools implements the pool decision engine: the four-step rule
// cascade (no_advantage, ideology_hold, forced_loss, profit_switch) a
// mining pool runs every hashrate_update_interval to decide which fork to
// mine (spec.md §4.6).
package pools

import (
	"sort"
	"time"

	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/pkg/models"
)

// Config holds the engine's cadence.
type Config struct {
	UpdateInterval time.Duration
}

// DefaultConfig mirrors spec.md §6's documented default
// (hashrate_update_interval = 600s).
func DefaultConfig() Config {
	return Config{UpdateInterval: 600 * time.Second}
}

// Engine runs the pool decision cascade.
type Engine struct {
	cfg Config
}

// New creates a pool decision engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// UpdateInterval returns the configured cadence.
func (e *Engine) UpdateInterval() time.Duration { return e.cfg.UpdateInterval }

// AssumedHashrateShare sums the hashrate share of every pool currently
// mining fork. The engine samples it before and after each decision round
// and logs any shift between the two. The profitability estimates a round
// decides on are built from each pool's own HashrateShare and do not read
// this value; there is no separate, configurable assumed reference share.
func AssumedHashrateShare(allPools []*models.Pool, fork models.ForkID) float64 {
	total := 0.0
	for _, p := range allPools {
		if p.CurrentFork == fork {
			total += p.HashrateShare
		}
	}
	return total
}

// DecideAll runs the cascade for every pool in allPools, in a fixed,
// seed-independent order (stable sort on pool id, per spec.md §5), and
// returns one DecisionRecord per pool. profitOf must return the pool's
// expected profitability for mining a given fork, computed from whatever
// hashrate snapshot the caller chose (assumed or actual) — this package
// does not call the fee oracle itself so the caller fully controls that
// choice.
func (e *Engine) DecideAll(allPools []*models.Pool, now time.Duration, profitOf func(p *models.Pool, fork models.ForkID) fee.MinerProfitability) []models.DecisionRecord {
	ordered := make([]*models.Pool, len(allPools))
	copy(ordered, allPools)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	records := make([]models.DecisionRecord, 0, len(ordered))
	for _, p := range ordered {
		alt := p.CurrentFork.Other()
		current := profitOf(p, p.CurrentFork)
		altProfit := profitOf(p, alt)
		records = append(records, e.decide(p, current, altProfit, now))
	}
	return records
}

func (e *Engine) decide(pool *models.Pool, current, alt fee.MinerProfitability, now time.Duration) models.DecisionRecord {
	altFork := pool.CurrentFork.Other()
	advantage := alt.ExpectedRevenueUSD - current.ExpectedRevenueUSD

	// profitability_threshold (spec.md §3, §4.6 step 3) is a fraction of
	// expected revenue, not a raw dollar amount, so the gap must be
	// normalized the same way the forced_loss pctLoss check below is before
	// it can be compared against it.
	lossGap := 0.0
	if current.ExpectedRevenueUSD > 0 {
		lossGap = advantage / current.ExpectedRevenueUSD
	}

	rec := models.DecisionRecord{
		Timestamp: time.Unix(0, 0).Add(now),
		AgentID:   pool.ID,
		PriorFork: pool.CurrentFork,
		NewFork:   pool.CurrentFork,
		Metrics: map[string]float64{
			"advantage_usd":       advantage,
			"loss_gap":            lossGap,
			"current_revenue_usd": current.ExpectedRevenueUSD,
			"alt_revenue_usd":     alt.ExpectedRevenueUSD,
			"cumulative_opp_usd":  pool.CumulativeOpportunityUSD,
		},
	}

	// Step 1: no_advantage — the gap isn't worth acting on.
	if lossGap <= pool.ProfitabilityThreshold {
		rec.Reason = models.ReasonNoAdvantage
		e.applyDecision(pool, &rec, advantage)
		return rec
	}

	onPreferred := pool.ForkPreference != models.PreferNone && models.ForkID(pool.ForkPreference) == pool.CurrentFork
	if onPreferred && pool.IdeologyStrength > 0 {
		// Step 3: forced_loss can override ideology even while it is
		// evaluated ahead of the plain profit_switch step.
		pctLoss := 0.0
		if alt.ExpectedRevenueUSD > 0 {
			pctLoss = advantage / alt.ExpectedRevenueUSD
		}
		cumulativeAfter := pool.CumulativeOpportunityUSD + advantage

		switch {
		case pool.MaxLossPct > 0 && pctLoss > pool.MaxLossPct:
			rec.Reason = models.ReasonForcedLossPct
			rec.NewFork = altFork
			pool.ForcedSwitches++
		case pool.MaxLossUSD > 0 && cumulativeAfter > pool.MaxLossUSD:
			rec.Reason = models.ReasonForcedLossUSD
			rec.NewFork = altFork
			pool.ForcedSwitches++
		default:
			// Step 2: ideology_hold.
			rec.Reason = models.ReasonIdeologyHold
			pool.IdeologyOverrides++
		}
		e.applyDecision(pool, &rec, advantage)
		return rec
	}

	// Step 4: profit_switch — no ideological anchor (or preference already
	// points at the more profitable side), so the pool rationally chases
	// the larger expected revenue.
	rec.Reason = models.ReasonProfitSwitch
	rec.NewFork = altFork
	e.applyDecision(pool, &rec, advantage)
	return rec
}

// applyDecision commits the cascade's verdict: a switch resets the pool's
// running opportunity cost (the forgone profit has just been captured),
// while a hold accumulates it, which is what eventually trips forced_loss
// on a later round even for a strongly ideological pool.
func (e *Engine) applyDecision(pool *models.Pool, rec *models.DecisionRecord, advantage float64) {
	if rec.NewFork != rec.PriorFork {
		pool.CurrentFork = rec.NewFork
		pool.CumulativeOpportunityUSD = 0
		return
	}
	pool.CumulativeOpportunityUSD += advantage
}
