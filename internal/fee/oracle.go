// Package fee implements the fee oracle, dual-token actor portfolios, and
// the manipulation-spend accounting described in spec.md §4.5: the organic
// fee-rate formula, apply_manipulation, initialize_actor/record_snapshot,
// manipulation sustainability, and miner profitability.
package fee

import (
	"time"

	"github.com/btcforks/forksim/pkg/models"
)

// Config holds the organic fee formula's tunable weights (spec.md §6's
// fee/price-model YAML keys k_block, k_activity, k_mempool).
type Config struct {
	BaseFeeRate float64
	KBlock      float64 // weight on block-fullness pressure
	KActivity   float64 // weight on aggregate transaction velocity
	KMempool    float64 // weight on mempool backlog proxy
}

// DefaultConfig mirrors spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		BaseFeeRate: 5,
		KBlock:      0.6,
		KActivity:   0.3,
		KMempool:    0.1,
	}
}

// Oracle computes organic fee rates and tracks manipulation spend per fork.
type Oracle struct {
	cfg                Config
	cumulativeSpendUSD map[models.ForkID]float64
}

// New creates a fee oracle.
func New(cfg Config) *Oracle {
	return &Oracle{cfg: cfg, cumulativeSpendUSD: make(map[models.ForkID]float64)}
}

// Demand bundles the inputs the organic fee formula blends for one fork.
type Demand struct {
	BlockUtilization float64 // fraction of recent blocks' capacity consumed, [0,1]
	TxVelocity       float64 // aggregate transaction velocity of actors on this fork
	MempoolBacklog   float64 // proxy for queued, unconfirmed demand, [0,1]
}

// OrganicFeeRate computes f_organic for a fork from its current demand
// inputs; it does not account for any deliberate manipulation spend — call
// ApplyManipulation for that.
func (o *Oracle) OrganicFeeRate(d Demand) float64 {
	return o.cfg.BaseFeeRate * (1 + o.cfg.KBlock*d.BlockUtilization + o.cfg.KActivity*d.TxVelocity + o.cfg.KMempool*d.MempoolBacklog)
}

// ApplyManipulation layers a deliberate fee bump on top of the organic rate
// to simulate an actor paying for congestion (e.g. to depress a rival
// fork's apparent health). spendUSD is this interval's manipulation budget;
// it is converted into a fee-rate bump of spendUSD / priceUSD (inversely
// proportional to priceUSD) so that the
// same dollar spend buys a smaller rate bump when BTC is expensive.
// Cumulative spend on the fork is tracked for sustainability accounting.
func (o *Oracle) ApplyManipulation(fork models.ForkID, organicRate, spendUSD, priceUSD float64) float64 {
	if spendUSD <= 0 || priceUSD <= 0 {
		return organicRate
	}
	o.cumulativeSpendUSD[fork] += spendUSD
	bump := spendUSD / priceUSD
	return organicRate + bump
}

// CumulativeManipulationSpendUSD returns the running total of manipulation
// spend recorded against a fork.
func (o *Oracle) CumulativeManipulationSpendUSD(fork models.ForkID) float64 {
	return o.cumulativeSpendUSD[fork]
}

// InitializeActor seeds a dual-token portfolio for an actor at fork time:
// both sides start holding the actor's full pre-fork BTC balance, and the
// dollar value recorded at t=0 must be equal on both sides (spec invariant
// 2) since both sides are valued at the same pre-fork price until the
// oracles diverge them.
func InitializeActor(actorID string, preForkBTC float64, preForkPriceUSD float64) *models.ActorPortfolio {
	return &models.ActorPortfolio{
		ActorID: actorID,
		HoldingsBTC: map[models.ForkID]float64{
			models.ForkV27: preForkBTC,
			models.ForkV26: preForkBTC,
		},
		InitPriceUSD: map[models.ForkID]float64{
			models.ForkV27: preForkPriceUSD,
			models.ForkV26: preForkPriceUSD,
		},
	}
}

// DebitManipulationSpend records spendUSD against the manipulated fork's
// holdings, converting at that fork's current price, and adds it to the
// portfolio's cumulative cost.
func DebitManipulationSpend(p *models.ActorPortfolio, fork models.ForkID, spendUSD, priceUSD float64) {
	if priceUSD <= 0 {
		return
	}
	p.HoldingsBTC[fork] -= spendUSD / priceUSD
	p.CumulativeCostUSD += spendUSD
}

// RecordSnapshot captures a portfolio's state at simulated time t against
// the current per-fork prices.
func RecordSnapshot(p *models.ActorPortfolio, prices map[models.ForkID]float64, t time.Duration) models.PortfolioSnapshot {
	total := p.TotalValueUSD(prices)
	initTotal := 0.0
	for _, f := range models.Forks {
		initTotal += p.HoldingsBTC[f] * p.InitPriceUSD[f]
	}
	return models.PortfolioSnapshot{
		TimeSec:           t.Seconds(),
		ActorID:           p.ActorID,
		HoldingsBTC:       cloneShares(p.HoldingsBTC),
		PricesUSD:         cloneShares(prices),
		TotalValueUSD:     total,
		NetProfitUSD:      total - initTotal,
		CumulativeCostUSD: p.CumulativeCostUSD,
	}
}

func cloneShares(m map[models.ForkID]float64) map[models.ForkID]float64 {
	out := make(map[models.ForkID]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sustainability is the result of calculate_manipulation_sustainability
// (spec.md §4.5): a manipulation campaign is sustainable iff the
// portfolio's own price appreciation since fork time outpaces what it
// spent manufacturing that appreciation.
type Sustainability struct {
	AppreciationUSD   float64
	CumulativeCostUSD float64
	Ratio             float64
	Sustainable       bool
}

// CalculateManipulationSustainability computes
// portfolio_appreciation_since_init / cumulative_cost_usd for an actor's
// portfolio, valued at the given current per-fork prices; sustainable iff
// the ratio exceeds 1. Appreciation is computed the same way
// RecordSnapshot's NetProfitUSD is: current holdings valued at current
// prices minus current holdings valued at their price-at-fork-time, so a
// manipulation debit that has already shrunk holdings on the manipulated
// side is reflected in both the appreciation and the cost it produced. A
// portfolio that has spent nothing has nothing to sustain, so it reports
// sustainable.
func CalculateManipulationSustainability(p *models.ActorPortfolio, prices map[models.ForkID]float64) Sustainability {
	initTotal := 0.0
	for _, f := range models.Forks {
		initTotal += p.HoldingsBTC[f] * p.InitPriceUSD[f]
	}
	appreciation := p.TotalValueUSD(prices) - initTotal

	if p.CumulativeCostUSD <= 0 {
		return Sustainability{AppreciationUSD: appreciation, Sustainable: true}
	}

	ratio := appreciation / p.CumulativeCostUSD
	return Sustainability{
		AppreciationUSD:   appreciation,
		CumulativeCostUSD: p.CumulativeCostUSD,
		Ratio:             ratio,
		Sustainable:       ratio > 1,
	}
}

// MinerProfitability bundles the inputs and outputs of a profitability
// estimate for one pool mining one fork over one interval.
type MinerProfitability struct {
	ExpectedBlocksPerInterval float64
	RevenuePerBlockUSD        float64
	ExpectedRevenueUSD        float64
	OpportunityCostUSD        float64 // revenue forgone versus the best alternative fork
}

// CalculateMinerProfitability estimates a pool's expected USD revenue for
// an interval mining fork, given its probability of finding a block
// (already incorporating hashrate share and difficulty, from the
// difficulty oracle) and the block reward plus fee income on that fork.
// alternativeRevenueUSD is the same estimate for the fork *not* chosen,
// used to report the opportunity cost of the choice.
func CalculateMinerProfitability(blockProbability, blockRewardBTC, feeRate, priceUSD, alternativeRevenueUSD float64) MinerProfitability {
	revenuePerBlock := (blockRewardBTC + feeRate) * priceUSD
	expected := blockProbability * revenuePerBlock
	return MinerProfitability{
		ExpectedBlocksPerInterval: blockProbability,
		RevenuePerBlockUSD:        revenuePerBlock,
		ExpectedRevenueUSD:        expected,
		OpportunityCostUSD:        alternativeRevenueUSD - expected,
	}
}
