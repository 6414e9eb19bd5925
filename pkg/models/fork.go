// Package models holds the plain data types shared across the simulator:
// forks, blocks, nodes, pools, economic actors, portfolios, and the
// immutable event records (reorgs, decisions) they produce.
package models

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ForkID identifies one of the two competing rule-sets. The simulator is
// fixed to exactly two forks; ForkID is a bounded enumeration rather than a
// free-form string so that a typo in configuration fails to parse instead
// of silently creating a third, orphaned fork.
type ForkID string

const (
	ForkV27 ForkID = "v27"
	ForkV26 ForkID = "v26"
)

// Valid reports whether f is one of the two recognized forks.
func (f ForkID) Valid() bool {
	return f == ForkV27 || f == ForkV26
}

func (f ForkID) String() string {
	return string(f)
}

// Other returns the fork on the opposite side of the split. Panics on an
// invalid ForkID — callers are expected to validate at parse time.
func (f ForkID) Other() ForkID {
	switch f {
	case ForkV27:
		return ForkV26
	case ForkV26:
		return ForkV27
	default:
		panic(fmt.Sprintf("models: invalid ForkID %q", string(f)))
	}
}

// Forks is the fixed, ordered set of fork identifiers. Iteration order is
// stable so that two runs with the same seed visit forks in the same order.
var Forks = [2]ForkID{ForkV27, ForkV26}

// Fork is the live, mutable state of one side of the split. Cumulative work
// never decreases except via reorg replacement (the new tip always carries
// strictly greater work); difficulty is always strictly positive.
type Fork struct {
	ID             ForkID         `json:"id"`
	TipID          chainhash.Hash `json:"tipId"`
	CumulativeWork float64        `json:"cumulativeWork"`
	Difficulty     float64        `json:"difficulty"`
	PriceUSD       float64        `json:"priceUsd"`
	FeeRate        float64        `json:"feeRate"` // sat/vB-equivalent organic fee rate
	MinedCount     int            `json:"minedCount"`
	OrphanCount    int            `json:"orphanCount"`
}
