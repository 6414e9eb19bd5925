// Package economic implements the economic decision engine: the three-step
// price_ratio-based cascade (ideology_hold, inertia_hold, price_signal) an
// economic actor runs every economic_update_interval to decide which fork
// to treat as canonical (spec.md §4.6).
package economic

import (
	"sort"
	"time"

	"github.com/btcforks/forksim/pkg/models"
)

// Config holds the engine's cadence.
type Config struct {
	UpdateInterval time.Duration
}

// DefaultConfig mirrors spec.md §6's documented default
// (economic_update_interval = 300s).
func DefaultConfig() Config {
	return Config{UpdateInterval: 300 * time.Second}
}

// Engine runs the economic decision cascade.
type Engine struct {
	cfg Config
}

// New creates an economic decision engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// UpdateInterval returns the configured cadence.
func (e *Engine) UpdateInterval() time.Duration { return e.cfg.UpdateInterval }

// DecideAll runs the cascade for every actor in allActors, in a fixed,
// seed-independent order (stable sort on actor id), against the given
// per-fork prices.
func (e *Engine) DecideAll(allActors []*models.EconomicActor, prices map[models.ForkID]float64, now time.Duration) []models.DecisionRecord {
	ordered := make([]*models.EconomicActor, len(allActors))
	copy(ordered, allActors)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	records := make([]models.DecisionRecord, 0, len(ordered))
	for _, a := range ordered {
		currentPrice := prices[a.CurrentFork]
		altFork := a.CurrentFork.Other()
		altPrice := prices[altFork]
		records = append(records, e.decide(a, currentPrice, altPrice, now))
	}
	return records
}

func (e *Engine) decide(a *models.EconomicActor, currentPrice, altPrice float64, now time.Duration) models.DecisionRecord {
	altFork := a.CurrentFork.Other()
	ratio := priceRatio(currentPrice, altPrice)

	rec := models.DecisionRecord{
		Timestamp: time.Unix(0, 0).Add(now),
		AgentID:   a.ID,
		PriorFork: a.CurrentFork,
		NewFork:   a.CurrentFork,
		Metrics: map[string]float64{
			"current_price_usd": currentPrice,
			"alt_price_usd":     altPrice,
			"price_ratio":       ratio,
		},
	}

	// Step 1: ideology_hold — an ideologically anchored actor on its
	// preferred fork never reacts to price, full stop.
	onPreferred := a.ForkPreference != models.PreferNone && models.ForkID(a.ForkPreference) == a.CurrentFork
	if onPreferred && a.IdeologyStrength > 0 {
		rec.Reason = models.ReasonIdeologyHold
		return rec
	}

	// Step 2 & 3: inertia raises the bar a pure price signal must clear
	// before a non-ideological actor bothers to move. spec.md §4.7's
	// price_ratio <= 1 + switching_threshold + inertia, translated through
	// this file's ratio = price_ratio - 1, is additive in the two terms.
	effectiveThreshold := a.SwitchingThreshold + a.Inertia
	if ratio <= effectiveThreshold {
		rec.Reason = models.ReasonInertiaHold
		return rec
	}

	rec.Reason = models.ReasonPriceSignal
	rec.NewFork = altFork
	a.CurrentFork = altFork
	return rec
}

// priceRatio returns the fractional price advantage of switching, i.e. how
// much more (or less) the alternative fork is worth relative to the
// actor's current fork. A zero current price is treated as no advantage
// rather than dividing by zero.
func priceRatio(currentPrice, altPrice float64) float64 {
	if currentPrice <= 0 {
		return 0
	}
	return (altPrice - currentPrice) / currentPrice
}
