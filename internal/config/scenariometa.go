package config

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// scenarioMetaFile holds the handful of CLI-surface flags (spec.md §6's
// `duration`, `retarget_interval`, `enable_reunion`, ... flags) that a
// named scenario bundle wants to pin rather than leave at the process-wide
// default — S2's shortened retarget_interval or S4's UASF deadline, for
// example. Every field is a pointer so "absent" and "explicitly zero"
// stay distinguishable, the same provenance rule LoadMiningPools uses for
// ideology_strength.
type scenarioMetaFile struct {
	Duration               *string  `yaml:"duration"`
	TickInterval           *string  `yaml:"tick_interval"`
	RetargetInterval       *int     `yaml:"retarget_interval"`
	EnableEDA              *bool    `yaml:"enable_eda"`
	InitialV27Hashrate     *float64 `yaml:"initial_v27_hashrate"`
	HashrateUpdateInterval *string  `yaml:"hashrate_update_interval"`
	EconomicUpdateInterval *string  `yaml:"economic_update_interval"`
	PriceUpdateInterval    *string  `yaml:"price_update_interval"`
	SnapshotInterval       *string  `yaml:"snapshot_interval"`
	EnableReunion          *bool    `yaml:"enable_reunion"`
	ReunionTimeout         *string  `yaml:"reunion_timeout"`
	UASFDuration           *string  `yaml:"uasf_duration"`
	UASFExpiryAction       *string  `yaml:"uasf_expiry_action"`
	EnableDynamicSwitching *bool    `yaml:"enable_dynamic_switching"`
}

// LoadScenarioMeta starts from base (normally the parsed CLI flags;
// cmd/forksim fills in ResultsID after this returns) and overrides only the
// fields scenario.yaml names.
func LoadScenarioMeta(path string, base Flags) (Flags, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, NewError(path, "file", err.Error())
	}

	var doc scenarioMetaFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return base, NewError(path, "yaml", err.Error())
	}

	f := base
	var parseErr error
	dur := func(field string, dst *time.Duration, v *string) {
		if v == nil || parseErr != nil {
			return
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			parseErr = NewError(path, field, "not a valid duration: "+err.Error())
			return
		}
		*dst = d
	}

	dur("duration", &f.Duration, doc.Duration)
	dur("tick_interval", &f.TickInterval, doc.TickInterval)
	dur("hashrate_update_interval", &f.HashrateUpdateInterval, doc.HashrateUpdateInterval)
	dur("economic_update_interval", &f.EconomicUpdateInterval, doc.EconomicUpdateInterval)
	dur("price_update_interval", &f.PriceUpdateInterval, doc.PriceUpdateInterval)
	dur("snapshot_interval", &f.SnapshotInterval, doc.SnapshotInterval)
	dur("reunion_timeout", &f.ReunionTimeout, doc.ReunionTimeout)
	dur("uasf_duration", &f.UASFDuration, doc.UASFDuration)
	if parseErr != nil {
		return base, parseErr
	}

	if doc.RetargetInterval != nil {
		f.RetargetInterval = *doc.RetargetInterval
	}
	if doc.EnableEDA != nil {
		f.EnableEDA = *doc.EnableEDA
	}
	if doc.InitialV27Hashrate != nil {
		f.InitialV27Hashrate = *doc.InitialV27Hashrate
	}
	if doc.EnableReunion != nil {
		f.EnableReunion = *doc.EnableReunion
	}
	if doc.UASFExpiryAction != nil {
		f.UASFExpiryAction = *doc.UASFExpiryAction
	}
	if doc.EnableDynamicSwitching != nil {
		f.EnableDynamicSwitching = *doc.EnableDynamicSwitching
	}

	if err := f.Validate(); err != nil {
		return base, err
	}
	return f, nil
}
