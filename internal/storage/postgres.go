// Package storage persists scenario runs to PostgreSQL via pgx, so a
// dashboard can list past runs and page through their decisions and
// reorgs without holding the whole run in memory. Nothing in
// internal/engine depends on this package — a run with no database
// configured behaves identically, just without a durable history.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/btcforks/forksim/internal/metrics"
	"github.com/btcforks/forksim/pkg/models"
)

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	log.Println("[storage] connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql relative to the process's
// working directory, matching how cmd/forksim resolves every other
// relative config path.
func (s *Store) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/storage/schema.sql")
	if err != nil {
		return fmt.Errorf("storage: read schema: %w", err)
	}
	if _, err := s.pool.Exec(context.Background(), string(schemaBytes)); err != nil {
		return fmt.Errorf("storage: apply schema: %w", err)
	}
	log.Println("[storage] schema initialized")
	return nil
}

// RunRecord is the persisted row for one scenario run.
type RunRecord struct {
	ResultsID       string     `json:"resultsId"`
	ScenarioName    string     `json:"scenarioName"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	DurationSec     float64    `json:"durationSec"`
	ConsensusStress float64    `json:"consensusStress"`
	TotalReorgs     int        `json:"totalReorgs"`
	TotalDecisions  int        `json:"totalDecisions"`
	Degradations    int        `json:"degradations"`
	ReunionOutcome  string     `json:"reunionOutcome,omitempty"`
	FatalError      string     `json:"fatalError,omitempty"`
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SaveRunStart inserts the initial row for a run before it begins.
func (s *Store) SaveRunStart(ctx context.Context, resultsID, scenarioName string) error {
	const sql = `
		INSERT INTO scenario_runs (results_id, scenario_name, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (results_id) DO UPDATE
		SET scenario_name = EXCLUDED.scenario_name, status = EXCLUDED.status, started_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, resultsID, scenarioName, StatusRunning)
	return err
}

// SaveRunFailure marks a run as failed with the given fatal error.
func (s *Store) SaveRunFailure(ctx context.Context, resultsID string, runErr error) error {
	const sql = `
		UPDATE scenario_runs SET status = $2, finished_at = NOW(), fatal_error = $3
		WHERE results_id = $1;
	`
	_, err := s.pool.Exec(ctx, sql, resultsID, StatusFailed, runErr.Error())
	return err
}

// SaveRunResult persists a completed run's summary and its full set of
// decisions, reorgs, and per-tick snapshots in a single transaction.
func (s *Store) SaveRunResult(ctx context.Context, resultsID string, set metrics.ArtifactSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	summaryJSON, err := json.Marshal(set.Summary)
	if err != nil {
		return fmt.Errorf("storage: marshal summary: %w", err)
	}

	const updateSQL = `
		UPDATE scenario_runs SET
			status = $2, finished_at = NOW(), duration_sec = $3, consensus_stress = $4,
			total_reorgs = $5, total_decisions = $6, degradations = $7,
			reunion_outcome = $8, summary_json = $9
		WHERE results_id = $1;
	`
	_, err = tx.Exec(ctx, updateSQL, resultsID, StatusCompleted,
		set.Summary.DurationSec, set.Summary.ConsensusStress,
		set.Summary.TotalReorgs, set.Summary.TotalDecisions, set.Summary.Degradations,
		set.Summary.ReunionOutcome, summaryJSON)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}

	if err := insertDecisions(ctx, tx, resultsID, set.Decisions); err != nil {
		return err
	}
	if err := insertReorgs(ctx, tx, resultsID, set.Reorgs); err != nil {
		return err
	}
	if err := insertSnapshots(ctx, tx, resultsID, set.Snapshots); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertDecisions(ctx context.Context, tx pgx.Tx, resultsID string, decisions []models.DecisionRecord) error {
	if len(decisions) == 0 {
		return nil
	}
	const sql = `
		INSERT INTO decisions (results_id, "timestamp", agent_id, prior_fork, new_fork, reason, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	batch := &pgx.Batch{}
	for _, d := range decisions {
		metricsJSON, err := json.Marshal(d.Metrics)
		if err != nil {
			return fmt.Errorf("storage: marshal decision metrics: %w", err)
		}
		batch.Queue(sql, resultsID, d.Timestamp, d.AgentID, string(d.PriorFork), string(d.NewFork), string(d.Reason), metricsJSON)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func insertReorgs(ctx context.Context, tx pgx.Tx, resultsID string, reorgs []models.ReorgEvent) error {
	if len(reorgs) == 0 {
		return nil
	}
	const sql = `
		INSERT INTO reorg_events (results_id, "timestamp", fork, depth, cause, affected_nodes, affected_pools, orphaned_blocks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	batch := &pgx.Batch{}
	for _, r := range reorgs {
		nodesJSON, _ := json.Marshal(r.AffectedNodes)
		poolsJSON, _ := json.Marshal(r.AffectedPools)
		orphansJSON, _ := json.Marshal(r.OrphanedBlockIDs)
		batch.Queue(sql, resultsID, r.Timestamp, string(r.Fork), r.Depth, string(r.Cause), nodesJSON, poolsJSON, orphansJSON)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func insertSnapshots(ctx context.Context, tx pgx.Tx, resultsID string, snapshots []metrics.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	const sql = `
		INSERT INTO price_snapshots (results_id, t_sec, fork, price_usd, fee_rate, difficulty, hashrate_share, econ_share)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		for fork, fs := range snap.Forks {
			batch.Queue(sql, resultsID, snap.TimeSec, string(fork), fs.PriceUSD, fs.FeeRate, fs.Difficulty, fs.HashrateShare, fs.EconShare)
		}
	}
	return tx.SendBatch(ctx, batch).Close()
}

// GetRun fetches a single run's summary row.
func (s *Store) GetRun(ctx context.Context, resultsID string) (RunRecord, error) {
	const sql = `
		SELECT results_id, scenario_name, status, started_at, finished_at,
		       COALESCE(duration_sec, 0), COALESCE(consensus_stress, 0),
		       COALESCE(total_reorgs, 0), COALESCE(total_decisions, 0), COALESCE(degradations, 0),
		       COALESCE(reunion_outcome, ''), COALESCE(fatal_error, '')
		FROM scenario_runs WHERE results_id = $1;
	`
	var r RunRecord
	err := s.pool.QueryRow(ctx, sql, resultsID).Scan(
		&r.ResultsID, &r.ScenarioName, &r.Status, &r.StartedAt, &r.FinishedAt,
		&r.DurationSec, &r.ConsensusStress, &r.TotalReorgs, &r.TotalDecisions, &r.Degradations,
		&r.ReunionOutcome, &r.FatalError,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("storage: get run %s: %w", resultsID, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const sql = `
		SELECT results_id, scenario_name, status, started_at, finished_at,
		       COALESCE(duration_sec, 0), COALESCE(consensus_stress, 0),
		       COALESCE(total_reorgs, 0), COALESCE(total_decisions, 0), COALESCE(degradations, 0),
		       COALESCE(reunion_outcome, ''), COALESCE(fatal_error, '')
		FROM scenario_runs ORDER BY started_at DESC LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(
			&r.ResultsID, &r.ScenarioName, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.DurationSec, &r.ConsensusStress, &r.TotalReorgs, &r.TotalDecisions, &r.Degradations,
			&r.ReunionOutcome, &r.FatalError,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if runs == nil {
		runs = []RunRecord{}
	}
	return runs, nil
}

// ListDecisions pages through one run's decision log, oldest first.
func (s *Store) ListDecisions(ctx context.Context, resultsID string, page, limit int) ([]models.DecisionRecord, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions WHERE results_id = $1`, resultsID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count decisions: %w", err)
	}

	const sql = `
		SELECT "timestamp", agent_id, prior_fork, new_fork, reason, metrics
		FROM decisions WHERE results_id = $1 ORDER BY "timestamp" ASC LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, sql, resultsID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var d models.DecisionRecord
		var priorFork, newFork, reason string
		var metricsJSON []byte
		if err := rows.Scan(&d.Timestamp, &d.AgentID, &priorFork, &newFork, &reason, &metricsJSON); err != nil {
			return nil, 0, fmt.Errorf("storage: scan decision: %w", err)
		}
		d.PriorFork = models.ForkID(priorFork)
		d.NewFork = models.ForkID(newFork)
		d.Reason = models.DecisionReason(reason)
		if len(metricsJSON) > 0 {
			_ = json.Unmarshal(metricsJSON, &d.Metrics)
		}
		out = append(out, d)
	}
	if out == nil {
		out = []models.DecisionRecord{}
	}
	return out, total, nil
}

// GetPool exposes the connection pool for callers that need a raw query.
func (s *Store) GetPool() *pgxpool.Pool {
	return s.pool
}
