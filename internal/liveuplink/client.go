// Package liveuplink is an optional calibration adapter: if an operator
// points a run at a real Bitcoin Core node, cmd/forksim anchors a
// scenario's organic fee rate to that node's fee estimate instead of the
// YAML default; the node's tip is only logged. It is consulted once,
// at scenario construction, and never during the tick loop — the
// simulation itself never talks to a live node, so a run stays
// byte-for-byte deterministic for a given seed regardless of whether an
// uplink was configured.
package liveuplink

import (
	"encoding/json"
	"fmt"
	"log"
	"math"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
)

// Config holds the connection details for a Bitcoin Core RPC endpoint.
type Config struct {
	Host string
	User string
	Pass string
}

// Uplink wraps a single RPC connection to a live node.
type Uplink struct {
	rpc    *rpcclient.Client
	config Config
}

// Dial connects to the node at cfg.Host and verifies the connection with a
// getblockcount call before returning.
func Dial(cfg Config) (*Uplink, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("[liveuplink] connecting to Bitcoin RPC at %s...", cfg.Host)
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("liveuplink: dial %s: %w", cfg.Host, err)
	}

	height, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("liveuplink: verify connection: %w", err)
	}
	log.Printf("[liveuplink] connected, chain height %d", height)

	return &Uplink{rpc: client, config: cfg}, nil
}

// Close releases the underlying RPC connection.
func (u *Uplink) Close() {
	u.rpc.Shutdown()
}

// Tip is the live node's current chain state, used to anchor a scenario's
// starting conditions.
type Tip struct {
	Height     int64
	Hash       string
	Difficulty float64
}

// GetTip returns the node's current best-block height, hash, and
// difficulty.
func (u *Uplink) GetTip() (Tip, error) {
	info, err := u.rpc.GetBlockChainInfo()
	if err != nil {
		return Tip{}, fmt.Errorf("liveuplink: getblockchaininfo: %w", err)
	}
	return Tip{
		Height:     info.Blocks,
		Hash:       info.BestBlockHash,
		Difficulty: info.Difficulty,
	}, nil
}

// OrganicFeeRateSatVB estimates the current network fee rate in sat/vB,
// falling back from a conservative smart-fee estimate to an economical one
// to the raw mempool minimum fee floor — the same fallback cascade modern
// wallets use, since any single one of these can be temporarily
// unavailable on a freshly-started or lightly-used node.
func (u *Uplink) OrganicFeeRateSatVB(confTarget int64) (float64, error) {
	conservative := btcjson.EstimateModeConservative
	if rate, err := u.estimateSmartFeeByMode(confTarget, &conservative); err == nil && rate > 0 {
		return btcPerKVbToSatPerVB(rate), nil
	}

	economical := btcjson.EstimateModeEconomical
	if rate, err := u.estimateSmartFeeByMode(confTarget, &economical); err == nil && rate > 0 {
		return btcPerKVbToSatPerVB(rate), nil
	}

	floor, err := u.mempoolFeeFloorBTCPerKVb()
	if err != nil {
		return 0, err
	}
	return btcPerKVbToSatPerVB(floor), nil
}

func (u *Uplink) estimateSmartFeeByMode(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (float64, error) {
	res, err := u.rpc.EstimateSmartFee(confTarget, mode)
	if err != nil {
		return 0, err
	}
	if res == nil || res.FeeRate == nil || !isFinitePositive(*res.FeeRate) {
		return 0, nil
	}
	return *res.FeeRate, nil
}

func (u *Uplink) mempoolFeeFloorBTCPerKVb() (float64, error) {
	raw, err := u.rpc.RawRequest("getmempoolinfo", nil)
	if err != nil {
		return 0, fmt.Errorf("liveuplink: getmempoolinfo: %w", err)
	}

	var mempool struct {
		MempoolMinFee float64 `json:"mempoolminfee"`
		MinRelayTxFee float64 `json:"minrelaytxfee"`
	}
	if err := json.Unmarshal(raw, &mempool); err != nil {
		return 0, fmt.Errorf("liveuplink: decode getmempoolinfo: %w", err)
	}

	floor := mempool.MempoolMinFee
	if mempool.MinRelayTxFee > floor {
		floor = mempool.MinRelayTxFee
	}
	if !isFinitePositive(floor) {
		return 0, nil
	}
	return floor, nil
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func btcPerKVbToSatPerVB(v float64) float64 {
	return v * 100_000
}
