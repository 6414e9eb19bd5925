package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcforks/forksim/pkg/models"
)

func writeTempYAML(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMiningPoolsExplicitOverrideWinsOverDefault(t *testing.T) {
	path := writeTempYAML(t, "pools.yaml", `
scenario: s2-ideological-standoff
default_ideology_strength: 0.5
pools:
  - id: pool-a
    hashrate_share: 0.3
    initial_fork: v27
    fork_preference: v27
    ideology_strength: 0.9
    profitability_threshold: 100
  - id: pool-b
    hashrate_share: 0.2
    initial_fork: v26
    fork_preference: v26
    profitability_threshold: 50
`)

	pools, err := LoadMiningPools(path)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, 0.9, pools[0].IdeologyStrength)
	assert.Equal(t, 0.5, pools[1].IdeologyStrength)
}

func TestLoadMiningPoolsNeutralPoolDefaultsToZeroWithoutScenarioDefault(t *testing.T) {
	path := writeTempYAML(t, "pools.yaml", `
scenario: s1-clean-split
pools:
  - id: pool-a
    hashrate_share: 1.0
    initial_fork: v27
    profitability_threshold: 100
`)

	pools, err := LoadMiningPools(path)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, models.PreferNone, pools[0].ForkPreference)
	assert.Equal(t, 0.0, pools[0].IdeologyStrength)
}

func TestLoadMiningPoolsAmbiguousIdeologyIsConfigError(t *testing.T) {
	path := writeTempYAML(t, "pools.yaml", `
scenario: s2-ideological-standoff
pools:
  - id: pool-a
    hashrate_share: 1.0
    initial_fork: v27
    fork_preference: v27
    profitability_threshold: 100
`)

	_, err := LoadMiningPools(path)
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "refusing to guess")
}

func TestLoadMiningPoolsRejectsOutOfRangeIdeologyStrength(t *testing.T) {
	path := writeTempYAML(t, "pools.yaml", `
scenario: s2-ideological-standoff
pools:
  - id: pool-a
    hashrate_share: 1.0
    initial_fork: v27
    fork_preference: v27
    ideology_strength: 1.5
    profitability_threshold: 100
`)

	_, err := LoadMiningPools(path)
	require.Error(t, err)
}

func TestLoadMiningPoolsRejectsDuplicateIDsAndBadFork(t *testing.T) {
	dup := writeTempYAML(t, "dup.yaml", `
pools:
  - id: pool-a
    initial_fork: v27
  - id: pool-a
    initial_fork: v26
`)
	_, err := LoadMiningPools(dup)
	assert.Error(t, err)

	badFork := writeTempYAML(t, "badfork.yaml", `
pools:
  - id: pool-a
    initial_fork: v28
`)
	_, err = LoadMiningPools(badFork)
	assert.Error(t, err)
}
