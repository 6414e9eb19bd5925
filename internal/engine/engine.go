// Package engine wires the clock, chain store, oracles, decision engines,
// reunion controller, and metrics aggregator together into the single
// tick-driven event loop spec.md §5 describes, and implements the
// error-handling and exit-code semantics of spec.md §7/§6.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/btcforks/forksim/internal/chainstore"
	"github.com/btcforks/forksim/internal/clock"
	"github.com/btcforks/forksim/internal/difficulty"
	"github.com/btcforks/forksim/internal/economic"
	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/internal/metrics"
	"github.com/btcforks/forksim/internal/pools"
	"github.com/btcforks/forksim/internal/price"
	"github.com/btcforks/forksim/internal/reunion"
	"github.com/btcforks/forksim/pkg/models"
)

// blockRewardBTC is the subsidy used for miner profitability estimates.
// spec.md treats the coinbase reward as a constant for the duration of any
// one run rather than modeling halving epochs.
const blockRewardBTC = 6.25

// wallClockBudget bounds the real time a single simulated tick's callbacks
// may take before the scheduler treats it as a runaway and aborts
// (spec.md §5's resource model). Not exposed as a CLI flag — it's an
// engine-level safety net, not a scenario parameter.
const wallClockBudget = 5 * time.Second

// Broadcaster is anything that wants a copy of every per-tick snapshot as
// it's recorded — the websocket hub in live-dashboard mode. Optional; a
// nil Broadcaster disables live streaming without affecting the run.
type Broadcaster interface {
	BroadcastSnapshot(metrics.Snapshot)
}

// genesisTime is the fixed wall-clock epoch every simulated time.Duration
// is measured from. It has no real-world meaning; it exists only so
// blocks, decisions, and reorgs carry an absolute time.Time for
// serialization, matching the convention internal/pools and
// internal/economic already use (time.Unix(0,0).Add(now)).
var genesisTime = time.Unix(0, 0).UTC()

// Engine runs one Scenario to completion over the single-threaded,
// deterministic tick loop. It owns no goroutines beyond the optional
// dashboard broadcast, which is push-only and never read from.
type Engine struct {
	scn Scenario

	clk     *clock.Clock
	sched   *clock.Scheduler
	store   *chainstore.Store
	diffO   *difficulty.Oracle
	priceO  *price.Oracle
	feeO    *fee.Oracle
	poolEng *pools.Engine
	econEng *economic.Engine
	reunion *reunion.Controller
	agg     *metrics.Aggregator

	pools      []*models.Pool
	actors     []*models.EconomicActor
	portfolios map[string]*models.ActorPortfolio

	broadcaster Broadcaster

	pendingBlocks      []models.Block
	lastBlockTime      map[models.ForkID]time.Time
	blocksThisInterval map[models.ForkID]int
	prevFeeShare       map[models.ForkID]float64

	degradations   int
	warnings       []string
	reunionOutcome string

	cancel        context.CancelFunc
	fatalErr      error
	lastArtifacts *metrics.ArtifactSet
}

// New builds an Engine ready to Run. broadcaster may be nil.
func New(scn Scenario, broadcaster Broadcaster) (*Engine, error) {
	if len(scn.Pools) == 0 {
		return nil, fmt.Errorf("engine: scenario has no mining pools")
	}

	clk := clock.New(scn.Flags.Duration, scn.Flags.TickInterval, scn.Flags.RandomSeed)
	sched := clock.NewScheduler(clk, wallClockBudget)

	initialDifficulty := map[models.ForkID]float64{models.ForkV27: 1, models.ForkV26: 1}
	store := chainstore.New(genesisTime, initialDifficulty)
	for _, n := range scn.Network {
		store.RegisterNode(n)
	}

	e := &Engine{
		scn:                scn,
		clk:                clk,
		sched:              sched,
		store:              store,
		diffO:              difficulty.New(scn.DifficultyConfig, genesisTime),
		priceO:             price.New(scn.PriceConfig),
		feeO:               fee.New(scn.FeeConfig),
		poolEng:            pools.New(pools.Config{UpdateInterval: scn.Flags.HashrateUpdateInterval}),
		econEng:            economic.New(economic.Config{UpdateInterval: scn.Flags.EconomicUpdateInterval}),
		reunion:            reunion.New(scn.ReunionConfig, 0),
		agg:                metrics.New(),
		portfolios:         make(map[string]*models.ActorPortfolio),
		broadcaster:        broadcaster,
		lastBlockTime:      map[models.ForkID]time.Time{models.ForkV27: genesisTime, models.ForkV26: genesisTime},
		blocksThisInterval: map[models.ForkID]int{},
		prevFeeShare:       map[models.ForkID]float64{models.ForkV27: 0.5, models.ForkV26: 0.5},
	}

	e.pools = make([]*models.Pool, len(scn.Pools))
	poolVals := make([]models.Pool, len(scn.Pools))
	copy(poolVals, scn.Pools)
	for i := range poolVals {
		e.pools[i] = &poolVals[i]
	}
	sort.Slice(e.pools, func(i, j int) bool { return e.pools[i].ID < e.pools[j].ID })

	e.actors = make([]*models.EconomicActor, len(scn.EconomicActors))
	actorVals := make([]models.EconomicActor, len(scn.EconomicActors))
	copy(actorVals, scn.EconomicActors)
	for i := range actorVals {
		e.actors[i] = &actorVals[i]
	}
	sort.Slice(e.actors, func(i, j int) bool { return e.actors[i].ID < e.actors[j].ID })

	for _, a := range e.actors {
		e.portfolios[a.ID] = fee.InitializeActor(a.ID, a.CustodyBTC, scn.PriceConfig.BasePriceUSD)
	}

	e.registerCallbacks()
	return e, nil
}

func (e *Engine) registerCallbacks() {
	tick := e.clk.TickInterval()

	e.sched.Register(clock.PhaseBlockAttempt, tick, 0, "block_attempt", e.blockAttemptTick)
	e.sched.Register(clock.PhasePropagation, tick, 0, "propagation", e.propagationTick)
	e.sched.Register(clock.PhaseOracleUpdate, tick, 0, "eda_stall_check", e.edaStallTick)
	e.sched.Register(clock.PhaseOracleUpdate, e.scn.Flags.PriceUpdateInterval, e.scn.Flags.PriceUpdateInterval, "price_fee_update", e.oracleUpdateTick)
	e.sched.Register(clock.PhasePoolDecision, e.scn.Flags.HashrateUpdateInterval, e.scn.Flags.HashrateUpdateInterval, "pool_decision", e.poolDecisionTick)
	e.sched.Register(clock.PhaseEconomicDecision, e.scn.Flags.EconomicUpdateInterval, e.scn.Flags.EconomicUpdateInterval, "economic_decision", e.economicDecisionTick)
	e.sched.Register(clock.PhaseSnapshot, e.scn.Flags.SnapshotInterval, e.scn.Flags.SnapshotInterval, "snapshot", e.snapshotTick)
	e.sched.Register(clock.PhaseExpiry, tick, 0, "uasf_expiry", e.expiryTick)
}

// Run drives the scheduler to completion (or until a fatal error aborts
// it), then assembles and persists the terminal summary. The returned
// error, if any, should be passed to ExitCode to determine the process
// exit status.
func (e *Engine) Run(ctx context.Context) (metrics.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	schedErr := e.sched.Run(runCtx)
	if e.fatalErr != nil {
		return metrics.Summary{}, e.fatalErr
	}
	if schedErr != nil && schedErr != context.Canceled {
		return metrics.Summary{}, schedErr
	}

	set := e.buildArtifactSet()
	e.lastArtifacts = &set
	e.persistArtifacts(set)

	return *set.Summary, nil
}

// buildArtifactSet assembles the full terminal artifact set from the
// aggregator's accumulated state. Called once at the end of Run; also
// reachable afterward via Artifacts for callers (the API's run registry)
// that want the full decision/reorg/snapshot log without re-running.
func (e *Engine) buildArtifactSet() metrics.ArtifactSet {
	poolCosts := make(map[string]float64, len(e.pools))
	for _, p := range e.pools {
		poolCosts[p.ID] = p.CumulativeOpportunityUSD
	}

	summary := e.agg.BuildSummary(e.clk.Duration(), poolCosts, e.sched.Degradations()+e.degradations, e.reunionOutcome, e.warnings...)

	return metrics.ArtifactSet{
		ResultsID:  e.scn.Flags.ResultsID,
		Summary:    &summary,
		Pools:      e.exportPools(),
		Economic:   e.exportActors(),
		Portfolios: e.agg.Portfolios(),
		Snapshots:  e.agg.Snapshots(),
		Decisions:  e.agg.Decisions(),
		Reorgs:     e.agg.Reorgs(),
	}
}

// Artifacts returns the full artifact set built at the end of the most
// recent Run call, or the zero value if Run has not completed yet.
func (e *Engine) Artifacts() metrics.ArtifactSet {
	if e.lastArtifacts == nil {
		return metrics.ArtifactSet{}
	}
	return *e.lastArtifacts
}

func (e *Engine) exportPools() []models.Pool {
	out := make([]models.Pool, len(e.pools))
	for i, p := range e.pools {
		out[i] = *p
	}
	return out
}

func (e *Engine) exportActors() []models.EconomicActor {
	out := make([]models.EconomicActor, len(e.actors))
	for i, a := range e.actors {
		out[i] = *a
	}
	return out
}

// persistArtifacts writes the JSON artifact set and an optional CSV
// alongside it, retrying once on failure before degrading to an
// in-memory-only warning (spec.md §7's ExternalIOError class). The run's
// own results are never lost — only the on-disk copy may be.
func (e *Engine) persistArtifacts(set metrics.ArtifactSet) {
	if e.scn.Flags.OutputDir == "" {
		return
	}
	if err := e.writeWithRetry(set); err != nil {
		warn := fmt.Sprintf("writing JSON artifacts to %s failed after one retry, results are only held in memory: %v", e.scn.Flags.OutputDir, err)
		log.Printf("[engine] %s", warn)
		e.warnings = append(e.warnings, warn)
		return
	}

	csvPath := e.scn.Flags.OutputDir + "/snapshots.csv"
	writeCSV := func() error { return metrics.WriteSnapshotsCSV(csvPath, e.agg.Snapshots()) }
	if err := writeCSV(); err != nil {
		if err = writeCSV(); err != nil {
			warn := fmt.Sprintf("writing %s failed after one retry, snapshot CSV was not produced: %v", csvPath, err)
			log.Printf("[engine] %s", warn)
			e.warnings = append(e.warnings, warn)
		}
	}
}

func (e *Engine) writeWithRetry(set metrics.ArtifactSet) error {
	err := metrics.WriteArtifacts(e.scn.Flags.OutputDir, set)
	if err == nil {
		return nil
	}
	log.Printf("[engine] writing artifacts to %s failed, retrying once: %v", e.scn.Flags.OutputDir, err)
	return metrics.WriteArtifacts(e.scn.Flags.OutputDir, set)
}

// raiseInvariantViolation records a fatal InvariantViolation and tears the
// scheduler's context down so the run aborts this tick rather than
// continuing past a state the rest of the engine cannot trust.
func (e *Engine) raiseInvariantViolation(check, detail string) {
	if e.fatalErr != nil {
		return
	}
	e.fatalErr = &InvariantViolation{
		Check:         check,
		Detail:        detail,
		LastSnapshots: lastSnapshots(e.agg.Snapshots()),
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// raiseReunionTimeout records a fatal ReunionTimeout and tears down the
// scheduler's context the same way raiseInvariantViolation does, so
// ExitCode sees the *reunion.TimeoutError rather than a generic fatal one.
func (e *Engine) raiseReunionTimeout(err error) {
	if e.fatalErr != nil {
		return
	}
	e.fatalErr = err
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) checkInvariants() {
	for _, f := range models.Forks {
		if e.store.Fork(f).CumulativeWork < 0 {
			e.raiseInvariantViolation("cumulative_work_negative", fmt.Sprintf("fork %s cumulative work went negative", f))
			return
		}
	}
	for _, pf := range e.portfolios {
		for _, f := range models.Forks {
			if pf.HoldingsBTC[f] < 0 {
				e.raiseInvariantViolation("portfolio_holdings_negative", fmt.Sprintf("actor %s holds %.8f BTC on %s", pf.ActorID, pf.HoldingsBTC[f], f))
				return
			}
		}
	}
}
