package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/internal/price"
)

func TestLoadFeePriceModelOverridesOnlySetFields(t *testing.T) {
	path := writeTempYAML(t, "market.yaml", `
fee:
  base_fee_rate: 8
price:
  max_jump_fraction: 0.2
`)

	feeCfg, priceCfg, err := LoadFeePriceModel(path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, feeCfg.BaseFeeRate)
	assert.Equal(t, fee.DefaultConfig().KBlock, feeCfg.KBlock)
	assert.Equal(t, 0.2, priceCfg.MaxJumpFraction)
	assert.Equal(t, price.DefaultConfig().BasePriceUSD, priceCfg.BasePriceUSD)
}

func TestLoadFeePriceModelRejectsZeroWeights(t *testing.T) {
	path := writeTempYAML(t, "market.yaml", `
price:
  weight_econ: 0
  weight_hash: 0
  weight_fee: 0
  weight_manipulation: 0
`)

	_, _, err := LoadFeePriceModel(path)
	assert.Error(t, err)
}
