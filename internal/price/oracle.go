// Package price implements the price oracle: a per-fork price derived from
// a weighted blend of economic, hashrate, fee, and manipulation shares plus
// a small random drift, updated once per price interval (spec.md §4.4).
//
// The fee share this oracle reads is deliberately the previous interval's
// fee rate, not the one the fee oracle is about to compute this tick — this
// one-interval lag is what breaks the fee/price coupling cycle described in
// spec.md §9, and callers must preserve it rather than "fixing" the
// staleness.
package price

import (
	"math"

	"github.com/btcforks/forksim/internal/chainstore"
	"github.com/btcforks/forksim/pkg/models"
)

// Config holds the price model's tunables (spec.md §6's price-model YAML).
type Config struct {
	BasePriceUSD       float64
	WeightEcon         float64
	WeightHash         float64
	WeightFee          float64
	WeightManipulation float64
	DriftStdDev        float64 // per-interval multiplicative drift standard deviation

	// MaxJumpFraction bounds how much price[f] may move in a single
	// interval before the oracle treats the new value as divergent and
	// clamps it to the last valid price instead.
	MaxJumpFraction float64
}

// DefaultConfig mirrors spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		BasePriceUSD:       30000,
		WeightEcon:         0.4,
		WeightHash:         0.3,
		WeightFee:          0.2,
		WeightManipulation: 0.1,
		DriftStdDev:        0.01,
		MaxJumpFraction:    0.5,
	}
}

// DivergenceRecord is emitted whenever a computed price is rejected as
// divergent and clamped to the last valid value (spec.md §7's
// OracleDivergence error class).
type DivergenceRecord struct {
	Fork      models.ForkID
	Computed  float64
	ClampedTo float64
}

// Oracle holds the last valid price per fork, used both as the clamp target
// and as the base the next interval's drift is applied to.
type Oracle struct {
	cfg         Config
	lastValid   map[models.ForkID]float64
	divergences []DivergenceRecord
}

// New creates a price oracle seeded at BasePriceUSD on both forks.
func New(cfg Config) *Oracle {
	o := &Oracle{cfg: cfg, lastValid: make(map[models.ForkID]float64)}
	for _, f := range models.Forks {
		o.lastValid[f] = cfg.BasePriceUSD
	}
	return o
}

// Shares bundles the normalized [0,1] shares that feed the weighted price
// factor for one fork. Fee is intentionally the previous interval's organic
// fee rate share — see the package doc.
type Shares struct {
	Econ         float64
	Hash         float64
	Fee          float64
	Manipulation float64
}

// Update recomputes price[f] for every fork from the given shares plus a
// random drift drawn from rng, writes the result into store's Fork records,
// and returns any divergences detected (and clamped) this round.
func (o *Oracle) Update(store *chainstore.Store, shares map[models.ForkID]Shares, rng randSource) []DivergenceRecord {
	var divs []DivergenceRecord
	for _, f := range models.Forks {
		s := shares[f]
		factor := o.cfg.WeightEcon*s.Econ + o.cfg.WeightHash*s.Hash + o.cfg.WeightFee*s.Fee + o.cfg.WeightManipulation*s.Manipulation
		// factor is a share in [0,1] of a fork's relative standing; two
		// shares sum to ~1 across forks (see NormalizeShares), so the
		// natural center of "no advantage either way" is 0.5 — scale
		// around that so a 50/50 split reproduces BasePriceUSD on both
		// sides.
		computed := o.cfg.BasePriceUSD * (factor / 0.5)
		computed *= 1 + rng.NormFloat64()*o.cfg.DriftStdDev

		valid := o.lastValid[f]
		accepted := computed
		if !isSanePrice(computed) || divergesFrom(valid, computed, o.cfg.MaxJumpFraction) {
			divs = append(divs, DivergenceRecord{Fork: f, Computed: computed, ClampedTo: valid})
			accepted = valid
		}

		o.lastValid[f] = accepted
		store.Fork(f).PriceUSD = accepted
	}
	o.divergences = append(o.divergences, divs...)
	return divs
}

// Divergences returns every divergence recorded over the oracle's lifetime.
func (o *Oracle) Divergences() []DivergenceRecord {
	return o.divergences
}

func isSanePrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

func divergesFrom(last, computed, maxJump float64) bool {
	if last <= 0 || maxJump <= 0 {
		return false
	}
	delta := math.Abs(computed-last) / last
	return delta > maxJump
}

// NormalizeShares turns a raw per-fork quantity map (custody BTC, hashrate
// share, fee rate, manipulation spend) into normalized [0,1] shares summing
// to 1 across the two forks. A zero total yields an even 0.5/0.5 split
// rather than dividing by zero.
func NormalizeShares(raw map[models.ForkID]float64) map[models.ForkID]float64 {
	total := raw[models.ForkV27] + raw[models.ForkV26]
	out := make(map[models.ForkID]float64, 2)
	if total <= 0 {
		out[models.ForkV27] = 0.5
		out[models.ForkV26] = 0.5
		return out
	}
	out[models.ForkV27] = raw[models.ForkV27] / total
	out[models.ForkV26] = raw[models.ForkV26] / total
	return out
}

// randSource is the slice of *rand.Rand this package actually uses, kept
// narrow so tests can supply a deterministic stub without pulling in
// math/rand.
type randSource interface {
	NormFloat64() float64
}
