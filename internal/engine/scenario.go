package engine

import (
	"github.com/btcforks/forksim/internal/config"
	"github.com/btcforks/forksim/internal/difficulty"
	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/internal/price"
	"github.com/btcforks/forksim/internal/reunion"
	"github.com/btcforks/forksim/pkg/models"
)

// Scenario bundles everything one run needs: the agent populations and
// network topology already parsed and validated by internal/config, plus
// every subsystem's tunables.
type Scenario struct {
	Flags config.Flags

	Pools          []models.Pool
	EconomicActors []models.EconomicActor
	Network        []models.Node

	DifficultyConfig difficulty.Config
	FeeConfig        fee.Config
	PriceConfig      price.Config
	ReunionConfig    reunion.Config
}

// NewScenario builds a Scenario from already-parsed flags and config
// fragments, deriving the difficulty and reunion configs' flag-controlled
// fields from f. FeeConfig/PriceConfig are taken as given since they come
// entirely from the fee/price-model YAML (internal/config.LoadFeePriceModel)
// and have no CLI-level override surface beyond what's already baked in.
func NewScenario(f config.Flags, pools []models.Pool, actors []models.EconomicActor, network []models.Node, feeCfg fee.Config, priceCfg price.Config) Scenario {
	diffCfg := difficulty.DefaultConfig()
	diffCfg.TargetBlockTime = f.BlockIntervalTarget
	diffCfg.RetargetInterval = int64(f.RetargetInterval)
	diffCfg.MinDifficulty = f.MinDifficulty
	diffCfg.EnableEDA = f.EnableEDA

	reunionCfg := reunion.Config{
		EnableReunion:    f.EnableReunion,
		ReunionTimeout:   f.ReunionTimeout,
		UASFDuration:     f.UASFDuration,
		UASFExpiryAction: reunion.ExpiryAction(f.UASFExpiryAction),
	}

	return Scenario{
		Flags:            f,
		Pools:            pools,
		EconomicActors:   actors,
		Network:          network,
		DifficultyConfig: diffCfg,
		FeeConfig:        feeCfg,
		PriceConfig:      priceCfg,
		ReunionConfig:    reunionCfg,
	}
}
