package metrics

import (
	"time"

	"github.com/btcforks/forksim/pkg/models"
)

// Aggregator accumulates per-tick snapshots and every decision/reorg event
// recorded over a run, and produces the terminal summary.
type Aggregator struct {
	snapshots  []Snapshot
	decisions  []models.DecisionRecord
	reorgs     []models.ReorgEvent
	portfolios []models.PortfolioSnapshot
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// RecordSnapshot appends one tick's Snapshot.
func (a *Aggregator) RecordSnapshot(s Snapshot) {
	a.snapshots = append(a.snapshots, s)
}

// RecordDecisions appends one round's worth of pool or economic decisions.
func (a *Aggregator) RecordDecisions(recs []models.DecisionRecord) {
	a.decisions = append(a.decisions, recs...)
}

// RecordReorgs appends reorg events observed this tick.
func (a *Aggregator) RecordReorgs(evs []models.ReorgEvent) {
	a.reorgs = append(a.reorgs, evs...)
}

// RecordPortfolioSnapshot appends one actor portfolio snapshot.
func (a *Aggregator) RecordPortfolioSnapshot(s models.PortfolioSnapshot) {
	a.portfolios = append(a.portfolios, s)
}

// Snapshots returns every recorded tick snapshot, in order.
func (a *Aggregator) Snapshots() []Snapshot { return a.snapshots }

// Decisions returns every recorded decision record, in order.
func (a *Aggregator) Decisions() []models.DecisionRecord { return a.decisions }

// Reorgs returns every recorded reorg event, in order.
func (a *Aggregator) Reorgs() []models.ReorgEvent { return a.reorgs }

// Portfolios returns every recorded portfolio snapshot, in order.
func (a *Aggregator) Portfolios() []models.PortfolioSnapshot { return a.portfolios }

// StressInputs bundles the three counts the consensus-stress score is
// computed from.
type StressInputs struct {
	// ReorgMassBlocks is the sum of Depth across every recorded reorg event:
	// the total count of blocks that got orphaned out from under a tip.
	ReorgMassBlocks int
	// TotalBlocksMined is the total block count across both forks at the
	// final snapshot.
	TotalBlocksMined int
	// ReorgCount is the number of reorg events recorded over the run.
	ReorgCount int
}

// ConsensusStress computes reorg_mass_per_block_ratio x reorg_count: an
// unbounded measure of how much chain reorganization the run produced,
// scaled by how often it recurred. A settled network (no reorgs) scores 0;
// a cascading battle with many deep reorgs against a large mined supply
// scores arbitrarily high.
func ConsensusStress(in StressInputs) float64 {
	if in.TotalBlocksMined <= 0 {
		return 0
	}
	ratio := float64(in.ReorgMassBlocks) / float64(in.TotalBlocksMined)
	return ratio * float64(in.ReorgCount)
}

// Summary is the terminal run summary: final per-fork state, the consensus
// stress score, per-pool cost accounting, and the reunion/UASF outcome
// (if any occurred).
type Summary struct {
	DurationSec     float64                        `json:"durationSec"`
	FinalForks      map[models.ForkID]ForkSnapshot `json:"finalForks"`
	ConsensusStress float64                        `json:"consensusStress"`
	TotalReorgs     int                            `json:"totalReorgs"`
	ReorgMassBlocks int                            `json:"reorgMassBlocks"`
	OrphanRate      float64                        `json:"orphanRate"`
	TotalDecisions  int                            `json:"totalDecisions"`
	Degradations    int                            `json:"degradations"`
	PoolCosts       map[string]float64             `json:"poolOpportunityCostsUsd"`
	ReunionOutcome  string                         `json:"reunionOutcome,omitempty"`
	// Warnings records ExternalIOError degradations (a write retried once
	// and then fell back to an in-memory buffer) and anything else that
	// did not abort the run but the operator should see.
	Warnings []string `json:"warnings,omitempty"`
}

// BuildSummary assembles the terminal Summary from everything recorded so
// far, plus a few inputs only the caller (the top-level engine) knows:
// the run's configured duration, per-pool cumulative opportunity cost at
// the final tick, the scheduler's degradation count, and a human-readable
// description of how reunion/UASF resolved (empty if reunion was never
// enabled).
func (a *Aggregator) BuildSummary(duration time.Duration, poolCosts map[string]float64, degradations int, reunionOutcome string, warnings ...string) Summary {
	var final map[models.ForkID]ForkSnapshot
	if len(a.snapshots) > 0 {
		final = a.snapshots[len(a.snapshots)-1].Forks
	}

	totalMined, totalOrphaned := 0, 0
	for _, fs := range final {
		totalMined += fs.MinedCount
		totalOrphaned += fs.OrphanCount
	}
	orphanRate := 0.0
	if totalMined > 0 {
		orphanRate = float64(totalOrphaned) / float64(totalMined)
	}

	reorgMass := 0
	for _, r := range a.reorgs {
		reorgMass += r.Depth
	}

	stress := ConsensusStress(StressInputs{
		ReorgMassBlocks:  reorgMass,
		TotalBlocksMined: totalMined,
		ReorgCount:       len(a.reorgs),
	})

	return Summary{
		DurationSec:     duration.Seconds(),
		FinalForks:      final,
		ConsensusStress: stress,
		TotalReorgs:     len(a.reorgs),
		ReorgMassBlocks: reorgMass,
		OrphanRate:      orphanRate,
		TotalDecisions:  len(a.decisions),
		Degradations:    degradations,
		PoolCosts:       poolCosts,
		ReunionOutcome:  reunionOutcome,
		Warnings:        warnings,
	}
}
