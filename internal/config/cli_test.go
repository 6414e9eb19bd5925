package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsAppliesDefaults(t *testing.T) {
	f, err := ParseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, f.Duration)
	assert.Equal(t, "continue", f.UASFExpiryAction)
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	f, err := ParseFlags([]string{
		"-duration", "1h",
		"-initial-v27-hashrate", "0.7",
		"-uasf-expiry-action", "reunion",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, f.Duration)
	assert.Equal(t, 0.7, f.InitialV27Hashrate)
	assert.Equal(t, "reunion", f.UASFExpiryAction)
}

func TestParseFlagsRejectsInvalidHashrateShare(t *testing.T) {
	_, err := ParseFlags([]string{"-initial-v27-hashrate", "1.5"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsUnrecognizedExpiryAction(t *testing.T) {
	_, err := ParseFlags([]string{"-uasf-expiry-action", "surrender"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsTickIntervalLongerThanDuration(t *testing.T) {
	_, err := ParseFlags([]string{"-duration", "1s", "-tick-interval", "1m"})
	assert.Error(t, err)
}
