// Package clock owns the simulated time axis and the deterministic,
// single-threaded event loop that drives the rest of the simulator. All
// randomness the simulator consumes is drawn from the single seeded PRNG
// exposed here, so that two runs given the same seed and config reproduce
// byte-exact records (spec invariant 5).
package clock

import (
	"math/rand"
	"time"
)

// Phase names one of the fixed slots a tick visits, in this order, every
// tick: block-production attempts, propagation drain, oracle updates,
// pool decisions, economic decisions, snapshot. A callback registered to
// an earlier phase always runs before one registered to a later phase,
// regardless of registration order — this is what makes a tick atomic and
// deterministic from the agents' perspective (spec.md §5).
type Phase int

const (
	PhaseBlockAttempt Phase = iota
	PhasePropagation
	PhaseOracleUpdate
	PhasePoolDecision
	PhaseEconomicDecision
	PhaseSnapshot
	PhaseExpiry
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseBlockAttempt:
		return "block_attempt"
	case PhasePropagation:
		return "propagation"
	case PhaseOracleUpdate:
		return "oracle_update"
	case PhasePoolDecision:
		return "pool_decision"
	case PhaseEconomicDecision:
		return "economic_decision"
	case PhaseSnapshot:
		return "snapshot"
	case PhaseExpiry:
		return "expiry"
	default:
		return "unknown"
	}
}

// Clock owns simulated time t, monotonic seconds from 0 to Duration, and
// the single seeded PRNG every probabilistic component draws from.
type Clock struct {
	t        time.Duration
	duration time.Duration
	tick     time.Duration
	rng      *rand.Rand
}

// New creates a Clock that will run from t=0 to duration, advancing in
// fixed ticks of size tickInterval, with all randomness seeded from seed.
func New(duration, tickInterval time.Duration, seed int64) *Clock {
	return &Clock{
		duration: duration,
		tick:     tickInterval,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Duration { return c.t }

// Duration returns the configured total run length.
func (c *Clock) Duration() time.Duration { return c.duration }

// TickInterval returns the configured tick size.
func (c *Clock) TickInterval() time.Duration { return c.tick }

// Rand returns the shared PRNG. Every probabilistic draw in the simulator
// (block production, anything else) must go through this single source —
// never create a second math/rand.Rand anywhere in the engine, or
// determinism breaks.
func (c *Clock) Rand() *rand.Rand { return c.rng }

// advance moves simulated time forward by the tick interval. It does not
// fire callbacks; Scheduler.Run owns that.
func (c *Clock) advance() {
	c.t += c.tick
}

// Done reports whether the clock has reached or passed Duration.
func (c *Clock) Done() bool {
	return c.t >= c.duration
}
