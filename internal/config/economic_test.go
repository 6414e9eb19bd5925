package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEconomicNodesAppliesRoleAndIdeologyRules(t *testing.T) {
	path := writeTempYAML(t, "economic.yaml", `
scenario: s1-clean-split
default_ideology_strength: 0.2
actors:
  - id: exchange-a
    role: major_exchange
    custody_btc: 50000
    daily_volume_btc: 2000
    fork_preference: neutral
    switching_threshold: 0.05
    inertia: 0.1
    initial_fork: v27
  - id: holder-b
    role: power_user
    custody_btc: 10
    fork_preference: v26
    ideology_strength: 1.0
    initial_fork: v26
`)

	actors, err := LoadEconomicNodes(path)
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, 0.2, actors[0].IdeologyStrength)
	assert.Equal(t, 1.0, actors[1].IdeologyStrength)
}

func TestLoadEconomicNodesRejectsUnknownRole(t *testing.T) {
	path := writeTempYAML(t, "economic.yaml", `
actors:
  - id: a
    role: space_pirate
    initial_fork: v27
`)
	_, err := LoadEconomicNodes(path)
	assert.Error(t, err)
}
