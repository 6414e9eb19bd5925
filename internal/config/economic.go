package config

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/btcforks/forksim/pkg/models"
)

type economicActorEntry struct {
	ID                  string   `yaml:"id"`
	Role                string   `yaml:"role"`
	CustodyBTC          float64  `yaml:"custody_btc"`
	DailyVolumeBTC      float64  `yaml:"daily_volume_btc"`
	ForkPreference      string   `yaml:"fork_preference"`
	IdeologyStrength    *float64 `yaml:"ideology_strength"`
	SwitchingThreshold  float64  `yaml:"switching_threshold"`
	Inertia             float64  `yaml:"inertia"`
	TransactionVelocity float64  `yaml:"transaction_velocity"`
	InitialFork         string   `yaml:"initial_fork"`

	ManipulationSpendUSD   float64 `yaml:"manipulation_spend_usd"`
	ManipulationTargetFork string  `yaml:"manipulation_target_fork"`
}

type economicNodesFile struct {
	Scenario                string               `yaml:"scenario"`
	DefaultIdeologyStrength *float64             `yaml:"default_ideology_strength"`
	Actors                  []economicActorEntry `yaml:"actors"`
}

var validRoles = map[models.ActorRole]bool{
	models.RoleMajorExchange:      true,
	models.RoleExchange:           true,
	models.RolePaymentProcessor:   true,
	models.RoleMerchant:           true,
	models.RoleInstitutional:      true,
	models.RolePowerUser:          true,
	models.RoleCasualUser:         true,
	models.RoleMiningPoolTreasury: true,
}

// LoadEconomicNodes parses an economic-actors YAML config, applying the
// same ideology-strength provenance rule as LoadMiningPools.
func LoadEconomicNodes(path string) ([]models.EconomicActor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(path, "file", err.Error())
	}

	var doc economicNodesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, NewError(path, "yaml", err.Error())
	}

	actors := make([]models.EconomicActor, 0, len(doc.Actors))
	seen := make(map[string]bool, len(doc.Actors))
	for _, e := range doc.Actors {
		if e.ID == "" {
			return nil, NewError(path, "actors[].id", "actor id must not be empty")
		}
		if seen[e.ID] {
			return nil, NewError(path, "actors[].id", "duplicate actor id "+e.ID)
		}
		seen[e.ID] = true

		role := models.ActorRole(e.Role)
		if !validRoles[role] {
			return nil, NewError(path, "actors["+e.ID+"].role", "unrecognized actor role "+e.Role)
		}

		initialFork := models.ForkID(e.InitialFork)
		if !initialFork.Valid() {
			return nil, NewError(path, "actors["+e.ID+"].initial_fork", "must be one of v27, v26")
		}

		pref := models.ForkPreference(e.ForkPreference)
		if e.ForkPreference == "" {
			pref = models.PreferNone
		}
		if pref != models.PreferV27 && pref != models.PreferV26 && pref != models.PreferNone {
			return nil, NewError(path, "actors["+e.ID+"].fork_preference", "must be one of v27, v26, neutral")
		}

		ideology, err := resolveIdeologyStrength(path, e.ID, e.IdeologyStrength, doc.DefaultIdeologyStrength, pref)
		if err != nil {
			return nil, err
		}

		manipulationTarget := models.ForkID(e.ManipulationTargetFork)
		if e.ManipulationSpendUSD > 0 && !manipulationTarget.Valid() {
			return nil, NewError(path, "actors["+e.ID+"].manipulation_target_fork", "must be one of v27, v26 when manipulation_spend_usd is set")
		}

		actors = append(actors, models.EconomicActor{
			ID:                     e.ID,
			Role:                   role,
			CustodyBTC:             e.CustodyBTC,
			DailyVolumeBTC:         e.DailyVolumeBTC,
			ForkPreference:         pref,
			IdeologyStrength:       ideology,
			SwitchingThreshold:     e.SwitchingThreshold,
			Inertia:                e.Inertia,
			TransactionVelocity:    e.TransactionVelocity,
			CurrentFork:            initialFork,
			ManipulationSpendUSD:   e.ManipulationSpendUSD,
			ManipulationTargetFork: manipulationTarget,
		})
	}
	return actors, nil
}
