package config

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/btcforks/forksim/pkg/models"
)

// poolEntry mirrors spec.md §6's mining-pools YAML. IdeologyStrength is a
// pointer so the parser can tell "not set" (nil, fall back to the
// scenario-level default) apart from "explicitly set to 0" (a pool that
// deliberately has no ideological anchor) — the provenance distinction
// spec.md §9's open question requires, rather than silently guessing.
type poolEntry struct {
	ID                     string   `yaml:"id"`
	HashrateShare          float64  `yaml:"hashrate_share"`
	InitialFork            string   `yaml:"initial_fork"`
	ForkPreference         string   `yaml:"fork_preference"`
	IdeologyStrength       *float64 `yaml:"ideology_strength"`
	ProfitabilityThreshold float64  `yaml:"profitability_threshold"`
	MaxLossPct             float64  `yaml:"max_loss_pct"`
	MaxLossUSD             float64  `yaml:"max_loss_usd"`
	NodeIDs                []string `yaml:"node_ids"`
}

type miningPoolsFile struct {
	Scenario                string      `yaml:"scenario"`
	DefaultIdeologyStrength *float64    `yaml:"default_ideology_strength"`
	Pools                   []poolEntry `yaml:"pools"`
}

// LoadMiningPools parses a mining-pools YAML config into a slice of
// models.Pool, resolving the ideology_strength provenance rule: a pool
// entry's own value wins if set; otherwise the scenario-level default is
// used; if neither is present and the pool declares a non-neutral
// fork_preference, that is an unresolved ambiguity and fails to parse
// rather than silently assuming 0.
func LoadMiningPools(path string) ([]models.Pool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(path, "file", err.Error())
	}

	var doc miningPoolsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, NewError(path, "yaml", err.Error())
	}

	pools := make([]models.Pool, 0, len(doc.Pools))
	seen := make(map[string]bool, len(doc.Pools))
	for _, e := range doc.Pools {
		if e.ID == "" {
			return nil, NewError(path, "pools[].id", "pool id must not be empty")
		}
		if seen[e.ID] {
			return nil, NewError(path, "pools[].id", "duplicate pool id "+e.ID)
		}
		seen[e.ID] = true

		initialFork := models.ForkID(e.InitialFork)
		if !initialFork.Valid() {
			return nil, NewError(path, "pools["+e.ID+"].initial_fork", "must be one of v27, v26")
		}

		pref := models.ForkPreference(e.ForkPreference)
		if e.ForkPreference == "" {
			pref = models.PreferNone
		}
		if pref != models.PreferV27 && pref != models.PreferV26 && pref != models.PreferNone {
			return nil, NewError(path, "pools["+e.ID+"].fork_preference", "must be one of v27, v26, neutral")
		}

		ideology, err := resolveIdeologyStrength(path, e.ID, e.IdeologyStrength, doc.DefaultIdeologyStrength, pref)
		if err != nil {
			return nil, err
		}

		pools = append(pools, models.Pool{
			ID:                     e.ID,
			HashrateShare:          e.HashrateShare,
			CurrentFork:            initialFork,
			ForkPreference:         pref,
			IdeologyStrength:       ideology,
			ProfitabilityThreshold: e.ProfitabilityThreshold,
			MaxLossPct:             e.MaxLossPct,
			MaxLossUSD:             e.MaxLossUSD,
			NodeIDs:                e.NodeIDs,
		})
	}
	return pools, nil
}

// resolveIdeologyStrength implements the provenance rule shared by both the
// pool and economic-actor loaders: an explicit per-agent value always wins;
// otherwise the scenario default applies; an agent with a declared
// preference but no value from either source is a parse-time ConfigError.
func resolveIdeologyStrength(path, agentID string, perAgent, scenarioDefault *float64, pref models.ForkPreference) (float64, error) {
	switch {
	case perAgent != nil:
		if *perAgent < 0 || *perAgent > 1 {
			return 0, NewError(path, agentID+".ideology_strength", "must be in [0,1]")
		}
		return *perAgent, nil
	case scenarioDefault != nil:
		return *scenarioDefault, nil
	case pref == models.PreferNone:
		return 0, nil
	default:
		return 0, NewError(path, agentID+".ideology_strength",
			"agent declares fork_preference "+string(pref)+" but no ideology_strength is set on the agent or as a scenario default — refusing to guess")
	}
}
