// Package difficulty implements the per-fork difficulty oracle: the block
// discovery probability formula, periodic retargeting with clamping, and an
// optional emergency difficulty adjustment (EDA) for a stalled fork
// (spec.md §4.3).
package difficulty

import (
	"math"
	"time"

	"github.com/btcforks/forksim/internal/chainstore"
	"github.com/btcforks/forksim/pkg/models"
)

// Config holds the tunables of one difficulty oracle instance — shared by
// both forks, since the spec treats target block time and retarget cadence
// as network-wide constants that each fork's own chain retargets against
// independently.
type Config struct {
	TargetBlockTime  time.Duration
	RetargetInterval int64 // blocks
	MinDifficulty    float64
	MaxDifficulty    float64
	MaxAdjustFactor  float64 // e.g. 4.0 clamps a retarget to [D/4, D*4]

	EnableEDA      bool
	EDAStallFactor float64       // trigger EDA once stall exceeds EDAStallFactor * TargetBlockTime
	EDACutFraction float64       // fraction to cut difficulty by on an EDA trigger, e.g. 0.20
	EDACooldown    time.Duration // minimum time between EDA triggers on the same fork
}

// DefaultConfig mirrors the documented defaults from spec.md §4.3 and §6.
func DefaultConfig() Config {
	return Config{
		TargetBlockTime:  10 * time.Minute,
		RetargetInterval: 144,
		MinDifficulty:    0.001,
		MaxDifficulty:    1e9,
		MaxAdjustFactor:  4.0,
		EnableEDA:        false,
		EDAStallFactor:   12,
		EDACutFraction:   0.20,
		EDACooldown:      time.Hour,
	}
}

type epoch struct {
	startHeight int64
	startTime   time.Time
}

// Oracle tracks, per fork, the bookkeeping needed to retarget: the height
// and timestamp the current epoch began at, and the last time an EDA
// trigger fired.
type Oracle struct {
	cfg     Config
	epochs  map[models.ForkID]*epoch
	lastEDA map[models.ForkID]time.Time
}

// New creates an Oracle and seeds an epoch start for every fork at genesis.
func New(cfg Config, genesisTime time.Time) *Oracle {
	o := &Oracle{
		cfg:     cfg,
		epochs:  make(map[models.ForkID]*epoch),
		lastEDA: make(map[models.ForkID]time.Time),
	}
	for _, f := range models.Forks {
		o.epochs[f] = &epoch{startHeight: 0, startTime: genesisTime}
	}
	return o
}

// BlockProbability returns the probability that a pool holding hashrateShare
// of the fork's total mining hashrate finds a block during a tick of length
// dt, given the fork's current difficulty D. Difficulty is normalized so
// that a fork receiving its full nominal hashrate share (1.0) at D=1
// produces one block per TargetBlockTime in expectation; this keeps the
// formula dimensionless and avoids needing an absolute network-hashrate
// unit anywhere else in the simulator.
func (o *Oracle) BlockProbability(fork *models.Fork, hashrateShare float64, dt time.Duration) float64 {
	if fork.Difficulty <= 0 || hashrateShare <= 0 {
		return 0
	}
	lambda := hashrateShare * dt.Seconds() / (o.cfg.TargetBlockTime.Seconds() * fork.Difficulty)
	if lambda <= 0 {
		return 0
	}
	// Poisson arrival probability: 1-e^-lambda keeps pathological configs
	// (huge dt, tiny D) from ever handing back a probability above 1.
	p := 1 - math.Exp(-lambda)
	if p > 1 {
		p = 1
	}
	return p
}

// OnBlockMined is called after a block is appended to fork's chain. It
// checks whether the new height completes a retarget epoch and, if so,
// recomputes and clamps the fork's difficulty. It keeps no EDA stall
// state: CheckStall measures a stall from the last-block time its caller
// passes in.
func (o *Oracle) OnBlockMined(store *chainstore.Store, fork models.ForkID, height int64, ts time.Time) {
	ep := o.epochs[fork]
	epochLen := height - ep.startHeight
	if epochLen < o.cfg.RetargetInterval {
		return
	}
	o.retarget(store, fork, height, ts)
}

func (o *Oracle) retarget(store *chainstore.Store, fork models.ForkID, height int64, ts time.Time) {
	ep := o.epochs[fork]
	actualSpan := ts.Sub(ep.startTime)
	targetSpan := time.Duration(o.cfg.RetargetInterval) * o.cfg.TargetBlockTime
	if actualSpan <= 0 {
		actualSpan = time.Nanosecond
	}

	f := store.Fork(fork)
	ratio := targetSpan.Seconds() / actualSpan.Seconds()
	newD := f.Difficulty * ratio
	newD = clampFactor(newD, f.Difficulty, o.cfg.MaxAdjustFactor)
	newD = clampRange(newD, o.cfg.MinDifficulty, o.cfg.MaxDifficulty)
	f.Difficulty = newD

	o.epochs[fork] = &epoch{startHeight: height, startTime: ts}
}

// CheckStall evaluates, every oracle-update phase, whether fork has gone
// EDAStallFactor*TargetBlockTime without a block; if so and EDA is enabled
// and the cooldown has elapsed, it cuts difficulty by EDACutFraction and
// returns true.
func (o *Oracle) CheckStall(store *chainstore.Store, fork models.ForkID, lastBlockTime, now time.Time) bool {
	if !o.cfg.EnableEDA {
		return false
	}
	stallThreshold := time.Duration(float64(o.cfg.TargetBlockTime) * o.cfg.EDAStallFactor)
	if now.Sub(lastBlockTime) < stallThreshold {
		return false
	}
	if last, ok := o.lastEDA[fork]; ok && now.Sub(last) < o.cfg.EDACooldown {
		return false
	}

	f := store.Fork(fork)
	newD := f.Difficulty * (1 - o.cfg.EDACutFraction)
	newD = clampRange(newD, o.cfg.MinDifficulty, o.cfg.MaxDifficulty)
	f.Difficulty = newD
	o.lastEDA[fork] = now
	return true
}

func clampFactor(newD, oldD, maxFactor float64) float64 {
	if maxFactor <= 0 {
		return newD
	}
	lo := oldD / maxFactor
	hi := oldD * maxFactor
	if newD < lo {
		return lo
	}
	if newD > hi {
		return hi
	}
	return newD
}

func clampRange(d, min, max float64) float64 {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
