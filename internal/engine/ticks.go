package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/internal/metrics"
	"github.com/btcforks/forksim/internal/pools"
	"github.com/btcforks/forksim/internal/price"
	"github.com/btcforks/forksim/internal/reunion"
	"github.com/btcforks/forksim/pkg/models"
)

// blockAttemptTick runs once per tick: every pool independently rolls for
// a block on whichever fork it currently mines, in a fixed id-sorted
// order, drawing from the single shared PRNG so the sequence is
// reproducible for a given seed (spec invariant 5).
func (e *Engine) blockAttemptTick(t time.Duration) error {
	ts := genesisTime.Add(t)
	for _, p := range e.pools {
		fork := p.CurrentFork
		fk := e.store.Fork(fork)
		prob := e.diffO.BlockProbability(fk, p.HashrateShare, e.clk.TickInterval())
		if prob <= 0 || e.clk.Rand().Float64() >= prob {
			continue
		}

		block, err := e.store.AppendBlock(fork, p.ID, fk.Difficulty, ts)
		if err != nil {
			return err
		}
		e.diffO.OnBlockMined(e.store, fork, block.Height, ts)
		e.lastBlockTime[fork] = ts
		e.blocksThisInterval[fork]++
		e.pendingBlocks = append(e.pendingBlocks, block)
	}
	return nil
}

// propagationTick delivers every block produced this tick to the node
// graph, a phase deliberately separated from production so a block's
// effects on node tips are visible only after every pool's attempt this
// tick has already been decided (spec.md §5).
func (e *Engine) propagationTick(t time.Duration) error {
	if len(e.pendingBlocks) == 0 {
		return nil
	}
	for _, b := range e.pendingBlocks {
		if evs := e.store.Propagate(b); len(evs) > 0 {
			e.agg.RecordReorgs(evs)
		}
	}
	e.pendingBlocks = e.pendingBlocks[:0]
	e.checkInvariants()
	return nil
}

// edaStallTick checks every tick whether either fork has stalled long
// enough to trigger an emergency difficulty adjustment; a no-op unless
// DifficultyConfig.EnableEDA is set.
func (e *Engine) edaStallTick(t time.Duration) error {
	ts := genesisTime.Add(t)
	for _, f := range models.Forks {
		if e.diffO.CheckStall(e.store, f, e.lastBlockTime[f], ts) {
			log.Printf("[engine] t=%s EDA triggered on fork %s", t, f)
		}
	}
	return nil
}

// oracleUpdateTick recomputes price and the organic fee rate for both
// forks once per PriceUpdateInterval. The fee share fed into this round's
// price computation is deliberately last round's fee rate
// (e.prevFeeShare), not the one about to be computed here — see
// internal/price's package doc for why that lag matters.
func (e *Engine) oracleUpdateTick(t time.Duration) error {
	econRaw := map[models.ForkID]float64{}
	for _, a := range e.actors {
		econRaw[a.CurrentFork] += a.CustodyBTC
	}
	econShares := price.NormalizeShares(econRaw)

	hashRaw := map[models.ForkID]float64{}
	for _, p := range e.pools {
		hashRaw[p.CurrentFork] += p.HashrateShare
	}
	hashShares := price.NormalizeShares(hashRaw)

	manipRaw := map[models.ForkID]float64{}
	for _, a := range e.actors {
		if a.ManipulationSpendUSD > 0 && a.ManipulationTargetFork.Valid() {
			manipRaw[a.ManipulationTargetFork] += a.ManipulationSpendUSD
		}
	}
	manipShares := price.NormalizeShares(manipRaw)

	shares := make(map[models.ForkID]price.Shares, 2)
	for _, f := range models.Forks {
		shares[f] = price.Shares{
			Econ:         econShares[f],
			Hash:         hashShares[f],
			Fee:          e.prevFeeShare[f],
			Manipulation: manipShares[f],
		}
	}
	e.priceO.Update(e.store, shares, e.clk.Rand())

	velocityRaw := map[models.ForkID]float64{}
	for _, a := range e.actors {
		velocityRaw[a.CurrentFork] += a.TransactionVelocity
	}
	velocityShares := price.NormalizeShares(velocityRaw)

	expectedBlocks := e.scn.Flags.PriceUpdateInterval.Seconds() / e.scn.DifficultyConfig.TargetBlockTime.Seconds()
	feeRateByFork := make(map[models.ForkID]float64, 2)
	for _, f := range models.Forks {
		util := 0.0
		if expectedBlocks > 0 {
			util = float64(e.blocksThisInterval[f]) / expectedBlocks
			if util > 1 {
				util = 1
			}
		}
		demand := fee.Demand{BlockUtilization: util, TxVelocity: velocityShares[f], MempoolBacklog: util}
		feeRateByFork[f] = e.feeO.OrganicFeeRate(demand)
	}

	for _, a := range e.actors {
		if a.ManipulationSpendUSD <= 0 || !a.ManipulationTargetFork.Valid() {
			continue
		}
		target := a.ManipulationTargetFork
		priceUSD := e.store.Fork(target).PriceUSD
		feeRateByFork[target] = e.feeO.ApplyManipulation(target, feeRateByFork[target], a.ManipulationSpendUSD, priceUSD)
		if pf, ok := e.portfolios[a.ID]; ok {
			fee.DebitManipulationSpend(pf, target, a.ManipulationSpendUSD, priceUSD)
		}
	}

	for _, f := range models.Forks {
		e.store.Fork(f).FeeRate = feeRateByFork[f]
	}
	e.prevFeeShare = price.NormalizeShares(feeRateByFork)

	e.blocksThisInterval[models.ForkV27] = 0
	e.blocksThisInterval[models.ForkV26] = 0

	e.checkInvariants()
	return nil
}

// poolDecisionTick runs the pool cascade once per HashrateUpdateInterval.
// It samples AssumedHashrateShare before and after the round and logs any
// shift; each pool's profitability estimate uses that pool's own
// HashrateShare, not the sampled value.
func (e *Engine) poolDecisionTick(t time.Duration) error {
	if !e.scn.Flags.EnableDynamicSwitching {
		return nil
	}

	assumedBefore := pools.AssumedHashrateShare(e.pools, models.ForkV27)

	profitOf := func(p *models.Pool, fork models.ForkID) (result fee.MinerProfitability) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[engine] pool %s profitability estimate panicked on fork %s: %v — treating as no advantage, pool holds", p.ID, fork, r)
				e.degradations++
				result = fee.MinerProfitability{}
			}
		}()
		fk := e.store.Fork(fork)
		prob := e.diffO.BlockProbability(fk, p.HashrateShare, e.poolEng.UpdateInterval())
		return fee.CalculateMinerProfitability(prob, blockRewardBTC, fk.FeeRate, fk.PriceUSD, 0)
	}

	recs := e.poolEng.DecideAll(e.pools, t, profitOf)
	e.agg.RecordDecisions(recs)

	ts := genesisTime.Add(t)
	byID := make(map[string]*models.Pool, len(e.pools))
	for _, p := range e.pools {
		byID[p.ID] = p
	}
	for _, rec := range recs {
		if rec.NewFork == rec.PriorFork {
			continue
		}
		p := byID[rec.AgentID]
		for _, nodeID := range p.NodeIDs {
			if ev, ok := e.store.Reorg(nodeID, rec.NewFork, models.ReorgCausePoolSwitch, []string{p.ID}, ts); ok {
				e.agg.RecordReorgs([]models.ReorgEvent{ev})
			}
		}
	}

	assumedAfter := pools.AssumedHashrateShare(e.pools, models.ForkV27)
	if assumedAfter != assumedBefore {
		log.Printf("[engine] t=%s pool decision round shifted assumed v27 hashrate share %.4f -> %.4f", t, assumedBefore, assumedAfter)
	}

	e.checkInvariants()
	return nil
}

// economicDecisionTick runs the economic cascade once per
// EconomicUpdateInterval, one actor at a time so a single actor's decision
// panicking can be recovered without discarding the whole round
// (spec.md §7's TransientAgentError class).
func (e *Engine) economicDecisionTick(t time.Duration) error {
	if !e.scn.Flags.EnableDynamicSwitching {
		return nil
	}
	prices := map[models.ForkID]float64{
		models.ForkV27: e.store.Fork(models.ForkV27).PriceUSD,
		models.ForkV26: e.store.Fork(models.ForkV26).PriceUSD,
	}
	recs := make([]models.DecisionRecord, 0, len(e.actors))
	for _, a := range e.actors {
		recs = append(recs, e.decideOneActor(a, prices, t))
	}
	e.agg.RecordDecisions(recs)
	return nil
}

func (e *Engine) decideOneActor(a *models.EconomicActor, prices map[models.ForkID]float64, t time.Duration) (rec models.DecisionRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] economic actor %s decision panicked: %v — holding current fork", a.ID, r)
			e.degradations++
			rec = models.DecisionRecord{
				Timestamp: genesisTime.Add(t),
				AgentID:   a.ID,
				PriorFork: a.CurrentFork,
				NewFork:   a.CurrentFork,
				Reason:    models.ReasonNoAdvantage,
			}
		}
	}()
	out := e.econEng.DecideAll([]*models.EconomicActor{a}, prices, t)
	return out[0]
}

// snapshotTick records one tick's Snapshot and every actor's portfolio
// snapshot, and streams the snapshot to the dashboard broadcaster if one
// is attached.
func (e *Engine) snapshotTick(t time.Duration) error {
	hashRaw := map[models.ForkID]float64{}
	for _, p := range e.pools {
		hashRaw[p.CurrentFork] += p.HashrateShare
	}
	hashShares := price.NormalizeShares(hashRaw)

	econRaw := map[models.ForkID]float64{}
	for _, a := range e.actors {
		econRaw[a.CurrentFork] += a.CustodyBTC
	}
	econShares := price.NormalizeShares(econRaw)

	forks := make(map[models.ForkID]metrics.ForkSnapshot, 2)
	for _, f := range models.Forks {
		forks[f] = metrics.FromFork(e.store.Fork(f), hashShares[f], econShares[f])
	}
	snap := metrics.NewSnapshot(t, forks)
	e.agg.RecordSnapshot(snap)
	if e.broadcaster != nil {
		e.broadcaster.BroadcastSnapshot(snap)
	}

	prices := map[models.ForkID]float64{
		models.ForkV27: e.store.Fork(models.ForkV27).PriceUSD,
		models.ForkV26: e.store.Fork(models.ForkV26).PriceUSD,
	}
	for _, a := range e.actors {
		if pf, ok := e.portfolios[a.ID]; ok {
			e.agg.RecordPortfolioSnapshot(fee.RecordSnapshot(pf, prices, t))
		}
	}

	e.checkInvariants()
	return nil
}

// expiryTick checks the UASF countdown once per tick; a no-op unless
// reunion is enabled. A ReunionTimeout is fatal (spec.md §7) and tears the
// run down via raiseReunionTimeout rather than letting the scheduler
// merely log-and-continue as it would for an ordinary callback error.
func (e *Engine) expiryTick(t time.Duration) error {
	if !e.scn.ReunionConfig.EnableReunion {
		return nil
	}
	ts := genesisTime.Add(t)
	outcome, fired, err := e.reunion.CheckUASFExpiry(e.store, ts, t)
	if !fired {
		return nil
	}
	if len(outcome.Events) > 0 {
		e.agg.RecordReorgs(outcome.Events)
	}
	e.reunionOutcome = describeReunionOutcome(outcome)

	if err != nil {
		if _, ok := err.(*reunion.TimeoutError); ok {
			e.raiseReunionTimeout(err)
			return nil
		}
		return err
	}
	return nil
}

func describeReunionOutcome(out reunion.Outcome) string {
	switch out.Action {
	case reunion.ActionReunion:
		return fmt.Sprintf("reunion: winner=%s converged=%d unconverged=%d", out.Winner, len(out.Converged), len(out.Unconverged))
	case reunion.ActionAccept:
		return "accept: v26 nodes now accept v27's heavier tip going forward"
	default:
		return "continue: split left permanent"
	}
}
