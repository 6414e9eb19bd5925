package metrics

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcforks/forksim/pkg/models"
)

func TestConsensusStressIsReorgMassPerBlockRatioTimesReorgCount(t *testing.T) {
	zero := ConsensusStress(StressInputs{})
	if zero != 0 {
		t.Fatalf("no mined blocks should yield 0 stress, got %v", zero)
	}

	// 30 blocks orphaned out of 100 mined, across 6 reorg events: ratio 0.3
	// times count 6 is 1.8 — and the score is unbounded, not clamped.
	in := StressInputs{ReorgMassBlocks: 30, TotalBlocksMined: 100, ReorgCount: 6}
	if got, want := ConsensusStress(in), 1.8; math.Abs(got-want) > 1e-9 {
		t.Fatalf("consensus stress = %v, want %v", got, want)
	}
}

func TestConsensusStressIsUnbounded(t *testing.T) {
	// A cascading battle can push the score well past 1 — spec.md §8's S6
	// scenario requires it to exceed 10.
	in := StressInputs{ReorgMassBlocks: 400, TotalBlocksMined: 200, ReorgCount: 6}
	if got := ConsensusStress(in); got <= 10 {
		t.Fatalf("consensus stress = %v, want > 10", got)
	}
}

func TestBuildSummaryComputesOrphanRateAndConsensusStress(t *testing.T) {
	a := New()
	a.RecordSnapshot(Snapshot{
		TimeSec: 60,
		Forks: map[models.ForkID]ForkSnapshot{
			models.ForkV27: {MinedCount: 8, OrphanCount: 2, PriceUSD: 30000},
			models.ForkV26: {MinedCount: 2, OrphanCount: 0, PriceUSD: 10000},
		},
	})
	a.RecordDecisions([]models.DecisionRecord{
		{AgentID: "p1", PriorFork: models.ForkV27, NewFork: models.ForkV26, Reason: models.ReasonProfitSwitch},
		{AgentID: "p2", PriorFork: models.ForkV27, NewFork: models.ForkV27, Reason: models.ReasonNoAdvantage},
	})
	a.RecordReorgs([]models.ReorgEvent{{Cause: models.ReorgCausePropagation, Depth: 3}})

	summary := a.BuildSummary(time.Hour, map[string]float64{"p1": 500}, 3, "")

	wantOrphanRate := 2.0 / 10.0
	if summary.OrphanRate != wantOrphanRate {
		t.Fatalf("orphan rate = %v, want %v", summary.OrphanRate, wantOrphanRate)
	}
	wantStress := (3.0 / 10.0) * 1.0 // reorg_mass_per_block_ratio x reorg_count
	if summary.ConsensusStress != wantStress {
		t.Fatalf("consensus stress = %v, want %v", summary.ConsensusStress, wantStress)
	}
	if summary.ReorgMassBlocks != 3 {
		t.Fatalf("reorg mass blocks = %d, want 3", summary.ReorgMassBlocks)
	}
	if summary.TotalReorgs != 1 {
		t.Fatalf("total reorgs = %d, want 1", summary.TotalReorgs)
	}
	if summary.TotalDecisions != 2 {
		t.Fatalf("total decisions = %d, want 2", summary.TotalDecisions)
	}
	if summary.Degradations != 3 {
		t.Fatalf("degradations = %d, want 3", summary.Degradations)
	}
	if summary.PoolCosts["p1"] != 500 {
		t.Fatalf("pool cost for p1 = %v, want 500", summary.PoolCosts["p1"])
	}
}

func TestWriteArtifactsProducesExpectedFiles(t *testing.T) {
	dir := t.TempDir()
	a := New()
	a.RecordSnapshot(Snapshot{
		TimeSec: 0,
		Forks: map[models.ForkID]ForkSnapshot{
			models.ForkV27: {PriceUSD: 30000, FeeRate: 5, Difficulty: 1},
			models.ForkV26: {PriceUSD: 30000, FeeRate: 5, Difficulty: 1},
		},
	})
	summary := a.BuildSummary(time.Minute, nil, 0, "")

	set := ArtifactSet{
		ResultsID: "test-run",
		Summary:   &summary,
		Snapshots: a.Snapshots(),
		Reorgs:    a.Reorgs(),
	}
	if err := WriteArtifacts(dir, set); err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}

	for _, name := range []string{"results.json", "pools.json", "economic.json", "prices.json", "fees.json", "difficulty.json", "reorg.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected artifact %s to exist: %v", name, err)
		}
	}
}

func TestWriteSnapshotsCSVWritesOneRowPerForkPerTick(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots.csv")

	snaps := []Snapshot{
		{TimeSec: 0, Forks: map[models.ForkID]ForkSnapshot{models.ForkV27: {}, models.ForkV26: {}}},
		{TimeSec: 60, Forks: map[models.ForkID]ForkSnapshot{models.ForkV27: {}, models.ForkV26: {}}},
	}
	if err := WriteSnapshotsCSV(path, snaps); err != nil {
		t.Fatalf("WriteSnapshotsCSV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := splitLines(string(data))
	// 1 header + 2 ticks * 2 forks = 5 lines.
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5: %q", len(lines), lines)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
