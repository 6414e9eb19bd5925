package config

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/btcforks/forksim/internal/fee"
	"github.com/btcforks/forksim/internal/price"
)

type feePriceModelFile struct {
	Fee struct {
		BaseFeeRate *float64 `yaml:"base_fee_rate"`
		KBlock      *float64 `yaml:"k_block"`
		KActivity   *float64 `yaml:"k_activity"`
		KMempool    *float64 `yaml:"k_mempool"`
	} `yaml:"fee"`
	Price struct {
		BasePriceUSD       *float64 `yaml:"base_price_usd"`
		WeightEcon         *float64 `yaml:"weight_econ"`
		WeightHash         *float64 `yaml:"weight_hash"`
		WeightFee          *float64 `yaml:"weight_fee"`
		WeightManipulation *float64 `yaml:"weight_manipulation"`
		DriftStdDev        *float64 `yaml:"drift_std_dev"`
		MaxJumpFraction    *float64 `yaml:"max_jump_fraction"`
	} `yaml:"price"`
}

// LoadFeePriceModel parses the fee/price model YAML, starting from each
// package's documented defaults and overriding only the fields present in
// the file — every field is optional, letting a scenario tune just the
// one or two knobs it cares about.
func LoadFeePriceModel(path string) (fee.Config, price.Config, error) {
	feeCfg := fee.DefaultConfig()
	priceCfg := price.DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return feeCfg, priceCfg, NewError(path, "file", err.Error())
	}

	var doc feePriceModelFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return feeCfg, priceCfg, NewError(path, "yaml", err.Error())
	}

	if v := doc.Fee.BaseFeeRate; v != nil {
		feeCfg.BaseFeeRate = *v
	}
	if v := doc.Fee.KBlock; v != nil {
		feeCfg.KBlock = *v
	}
	if v := doc.Fee.KActivity; v != nil {
		feeCfg.KActivity = *v
	}
	if v := doc.Fee.KMempool; v != nil {
		feeCfg.KMempool = *v
	}

	if v := doc.Price.BasePriceUSD; v != nil {
		priceCfg.BasePriceUSD = *v
	}
	if v := doc.Price.WeightEcon; v != nil {
		priceCfg.WeightEcon = *v
	}
	if v := doc.Price.WeightHash; v != nil {
		priceCfg.WeightHash = *v
	}
	if v := doc.Price.WeightFee; v != nil {
		priceCfg.WeightFee = *v
	}
	if v := doc.Price.WeightManipulation; v != nil {
		priceCfg.WeightManipulation = *v
	}
	if v := doc.Price.DriftStdDev; v != nil {
		priceCfg.DriftStdDev = *v
	}
	if v := doc.Price.MaxJumpFraction; v != nil {
		priceCfg.MaxJumpFraction = *v
	}

	sum := priceCfg.WeightEcon + priceCfg.WeightHash + priceCfg.WeightFee + priceCfg.WeightManipulation
	if sum <= 0 {
		return feeCfg, priceCfg, NewError(path, "price.weight_*", "price weights must sum to a positive value")
	}

	return feeCfg, priceCfg, nil
}
