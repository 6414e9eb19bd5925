package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/btcforks/forksim/pkg/models"
)

// artifactDoc wraps any persisted payload with the schema version every
// JSON artifact carries (spec.md §6).
type artifactDoc struct {
	SchemaVersion int    `json:"schemaVersion"`
	ResultsID     string `json:"resultsId"`
	Payload       any    `json:"payload"`
}

// ArtifactSet bundles everything WriteArtifacts persists. Every artifact
// file is written on each call; a nil field is written as a null payload.
type ArtifactSet struct {
	ResultsID  string
	Summary    *Summary
	Pools      []models.Pool
	Economic   []models.EconomicActor
	Portfolios []models.PortfolioSnapshot
	Snapshots  []Snapshot
	Decisions  []models.DecisionRecord
	Reorgs     []models.ReorgEvent
}

// WriteArtifacts persists the standard JSON artifact set into dir:
// results.json, pools.json, economic.json, prices.json, fees.json,
// difficulty.json, reorg.json. prices/fees/difficulty are all derived from
// the same per-tick Snapshots (each fork snapshot already carries price,
// fee rate, and difficulty together) so they're written as focused
// projections of one shared slice rather than tracked as separate state.
func WriteArtifacts(dir string, set ArtifactSet) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("metrics: create output dir: %w", err)
	}

	writers := []struct {
		name    string
		payload any
	}{
		{"results.json", set.Summary},
		{"pools.json", set.Pools},
		{"economic.json", set.Economic},
		{"prices.json", projectSnapshots(set.Snapshots, func(fs ForkSnapshot) any { return fs.PriceUSD })},
		{"fees.json", projectSnapshots(set.Snapshots, func(fs ForkSnapshot) any { return fs.FeeRate })},
		{"difficulty.json", projectSnapshots(set.Snapshots, func(fs ForkSnapshot) any { return fs.Difficulty })},
		{"reorg.json", set.Reorgs},
	}

	for _, w := range writers {
		doc := artifactDoc{SchemaVersion: SchemaVersion, ResultsID: set.ResultsID, Payload: w.payload}
		if err := writeJSON(filepath.Join(dir, w.name), doc); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics: open %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("metrics: encode %s: %w", path, err)
	}
	return nil
}

type projectedTick struct {
	TimeSec float64               `json:"t"`
	Values  map[models.ForkID]any `json:"values"`
}

func projectSnapshots(snaps []Snapshot, project func(ForkSnapshot) any) []projectedTick {
	out := make([]projectedTick, 0, len(snaps))
	for _, s := range snaps {
		values := make(map[models.ForkID]any, len(s.Forks))
		for fork, fs := range s.Forks {
			values[fork] = project(fs)
		}
		out = append(out, projectedTick{TimeSec: s.TimeSec, Values: values})
	}
	return out
}

// WriteSnapshotsCSV writes one row per (tick, fork) pair — an optional,
// flatter format for spreadsheet tooling alongside the JSON artifacts
// (spec.md §6: "optional CSV").
func WriteSnapshotsCSV(path string, snaps []Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"t", "fork", "cumulativeWork", "difficulty", "priceUsd", "feeRate", "minedCount", "orphanCount", "hashrateShare", "econShare"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range snaps {
		for _, fork := range models.Forks {
			fs, ok := s.Forks[fork]
			if !ok {
				continue
			}
			row := []string{
				strconv.FormatFloat(s.TimeSec, 'f', -1, 64),
				string(fork),
				strconv.FormatFloat(fs.CumulativeWork, 'f', -1, 64),
				strconv.FormatFloat(fs.Difficulty, 'f', -1, 64),
				strconv.FormatFloat(fs.PriceUSD, 'f', -1, 64),
				strconv.FormatFloat(fs.FeeRate, 'f', -1, 64),
				strconv.Itoa(fs.MinedCount),
				strconv.Itoa(fs.OrphanCount),
				strconv.FormatFloat(fs.HashrateShare, 'f', -1, 64),
				strconv.FormatFloat(fs.EconShare, 'f', -1, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return w.Error()
}
