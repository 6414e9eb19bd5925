package config

import (
	"flag"
	"fmt"
	"time"
)

// Flags holds every CLI knob spec.md §6 documents for `forksim run`. All
// fields are parsed through a single flag.FlagSet rather than struct tags
// or a third-party binder — the scenario YAML files carry structure;
// these are flat overrides layered on top of them.
type Flags struct {
	Duration     time.Duration
	TickInterval time.Duration

	BlockIntervalTarget time.Duration
	RetargetInterval    int
	EnableEDA           bool
	MinDifficulty       float64

	V27Economic      string
	V26Economic      string
	PoolScenario     string
	EconomicScenario string

	InitialV27Hashrate float64

	HashrateUpdateInterval time.Duration
	EconomicUpdateInterval time.Duration
	PriceUpdateInterval    time.Duration
	SnapshotInterval       time.Duration

	EnableReunion          bool
	ReunionTimeout         time.Duration
	UASFDuration           time.Duration
	UASFExpiryAction       string
	EnableDynamicSwitching bool
	EnableReorgMetrics     bool

	ResultsID  string
	RandomSeed int64

	OutputDir   string
	MetricsAddr string
}

// DefaultFlags mirrors spec.md §6's documented CLI defaults.
func DefaultFlags() Flags {
	return Flags{
		Duration:               24 * time.Hour,
		TickInterval:           time.Second,
		BlockIntervalTarget:    10 * time.Minute,
		RetargetInterval:       144,
		EnableEDA:              false,
		MinDifficulty:          0.001,
		PoolScenario:           "s1-pure-rational",
		EconomicScenario:       "s1-pure-rational",
		InitialV27Hashrate:     0.5,
		HashrateUpdateInterval: 10 * time.Minute,
		EconomicUpdateInterval: 5 * time.Minute,
		PriceUpdateInterval:    time.Minute,
		SnapshotInterval:       time.Minute,
		EnableReunion:          false,
		ReunionTimeout:         72 * time.Hour,
		UASFDuration:           0,
		UASFExpiryAction:       "continue",
		EnableDynamicSwitching: true,
		EnableReorgMetrics:     true,
		RandomSeed:             1,
		OutputDir:              "./results",
		MetricsAddr:            ":9443",
	}
}

// ParseFlags parses args (normally os.Args[1:]) against the documented
// defaults and validates the handful of fields that are fatal if
// nonsensical rather than merely surprising.
func ParseFlags(args []string) (Flags, error) {
	f := DefaultFlags()
	fs := flag.NewFlagSet("forksim run", flag.ContinueOnError)

	fs.DurationVar(&f.Duration, "duration", f.Duration, "total simulated wall-clock duration")
	fs.DurationVar(&f.TickInterval, "tick-interval", f.TickInterval, "scheduler tick granularity")
	fs.DurationVar(&f.BlockIntervalTarget, "block-interval-target", f.BlockIntervalTarget, "target time between blocks per fork")
	fs.IntVar(&f.RetargetInterval, "retarget-interval", f.RetargetInterval, "blocks between difficulty retargets")
	fs.BoolVar(&f.EnableEDA, "enable-eda", f.EnableEDA, "enable emergency difficulty adjustment on stall")
	fs.Float64Var(&f.MinDifficulty, "min-difficulty", f.MinDifficulty, "floor difficulty a fork may retarget to")

	fs.StringVar(&f.V27Economic, "v27-economic", f.V27Economic, "path to v27 economic-actors YAML")
	fs.StringVar(&f.V26Economic, "v26-economic", f.V26Economic, "path to v26 economic-actors YAML")
	fs.StringVar(&f.PoolScenario, "pool-scenario", f.PoolScenario, "named mining-pools scenario")
	fs.StringVar(&f.EconomicScenario, "economic-scenario", f.EconomicScenario, "named economic-actors scenario")

	fs.Float64Var(&f.InitialV27Hashrate, "initial-v27-hashrate", f.InitialV27Hashrate, "initial hashrate share assigned to v27, in [0,1]")

	fs.DurationVar(&f.HashrateUpdateInterval, "hashrate-update-interval", f.HashrateUpdateInterval, "pool decision round cadence")
	fs.DurationVar(&f.EconomicUpdateInterval, "economic-update-interval", f.EconomicUpdateInterval, "economic decision round cadence")
	fs.DurationVar(&f.PriceUpdateInterval, "price-update-interval", f.PriceUpdateInterval, "price oracle update cadence")
	fs.DurationVar(&f.SnapshotInterval, "snapshot-interval", f.SnapshotInterval, "metrics snapshot cadence")

	fs.BoolVar(&f.EnableReunion, "enable-reunion", f.EnableReunion, "enable the UASF reunion controller")
	fs.DurationVar(&f.ReunionTimeout, "reunion-timeout", f.ReunionTimeout, "cross-link convergence budget")
	fs.DurationVar(&f.UASFDuration, "uasf-duration", f.UASFDuration, "time after genesis the UASF deadline expires")
	fs.StringVar(&f.UASFExpiryAction, "uasf-expiry-action", f.UASFExpiryAction, "reunion, accept, or continue")
	fs.BoolVar(&f.EnableDynamicSwitching, "enable-dynamic-switching", f.EnableDynamicSwitching, "allow pools/actors to switch forks mid-run")
	fs.BoolVar(&f.EnableReorgMetrics, "enable-reorg-metrics", f.EnableReorgMetrics, "export reorg counters on the /metrics endpoint")

	fs.StringVar(&f.ResultsID, "results-id", f.ResultsID, "identifier stamped into every JSON artifact")
	fs.Int64Var(&f.RandomSeed, "randomseed", f.RandomSeed, "PRNG seed; fixes the whole run's determinism")
	fs.StringVar(&f.OutputDir, "output-dir", f.OutputDir, "directory artifacts are written to")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", f.MetricsAddr, "listen address for the Prometheus /metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return f, err
	}

	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate rejects flag combinations that are nonsensical rather than
// merely unusual — spec.md §7's ConfigError class applies to the CLI
// surface exactly as it does to YAML.
func (f Flags) Validate() error {
	if f.Duration <= 0 {
		return NewError("cli", "duration", "must be positive")
	}
	if f.TickInterval <= 0 {
		return NewError("cli", "tick-interval", "must be positive")
	}
	if f.TickInterval > f.Duration {
		return NewError("cli", "tick-interval", "must not exceed duration")
	}
	if f.InitialV27Hashrate < 0 || f.InitialV27Hashrate > 1 {
		return NewError("cli", "initial-v27-hashrate", "must be in [0,1]")
	}
	if f.RetargetInterval <= 0 {
		return NewError("cli", "retarget-interval", "must be positive")
	}
	switch f.UASFExpiryAction {
	case "reunion", "accept", "continue":
	default:
		return NewError("cli", "uasf-expiry-action", fmt.Sprintf("unrecognized action %q", f.UASFExpiryAction))
	}
	return nil
}
