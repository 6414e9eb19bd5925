// Package metrics aggregates per-tick state into snapshots, produces the
// terminal run summary (including the consensus-stress composite score),
// persists the JSON artifact set spec.md §6 requires, and exposes a
// Prometheus /metrics endpoint as a supplementary, non-system-of-record
// view onto the same numbers.
package metrics

import (
	"time"

	"github.com/btcforks/forksim/pkg/models"
)

// SchemaVersion is stamped into every persisted JSON artifact so a later
// analysis pipeline can detect a format change.
const SchemaVersion = 1

// ForkSnapshot is the per-fork slice of one tick's Snapshot.
type ForkSnapshot struct {
	CumulativeWork float64 `json:"cumulativeWork"`
	Difficulty     float64 `json:"difficulty"`
	PriceUSD       float64 `json:"priceUsd"`
	FeeRate        float64 `json:"feeRate"`
	MinedCount     int     `json:"minedCount"`
	OrphanCount    int     `json:"orphanCount"`
	HashrateShare  float64 `json:"hashrateShare"`
	EconShare      float64 `json:"econShare"`
}

// Snapshot is the record the metrics aggregator emits in the PhaseSnapshot
// phase, once per Flags.SnapshotInterval.
type Snapshot struct {
	TimeSec float64                        `json:"t"`
	Forks   map[models.ForkID]ForkSnapshot `json:"forks"`
}

// FromFork builds a ForkSnapshot from the live chain-store Fork state plus
// the hashrate/econ shares the engine computed this tick.
func FromFork(f *models.Fork, hashrateShare, econShare float64) ForkSnapshot {
	return ForkSnapshot{
		CumulativeWork: f.CumulativeWork,
		Difficulty:     f.Difficulty,
		PriceUSD:       f.PriceUSD,
		FeeRate:        f.FeeRate,
		MinedCount:     f.MinedCount,
		OrphanCount:    f.OrphanCount,
		HashrateShare:  hashrateShare,
		EconShare:      econShare,
	}
}

// NewSnapshot builds a Snapshot at simulated time t from the given per-fork
// slices.
func NewSnapshot(t time.Duration, forks map[models.ForkID]ForkSnapshot) Snapshot {
	return Snapshot{TimeSec: t.Seconds(), Forks: forks}
}
