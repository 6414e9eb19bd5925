package models

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ReorgCause tags why a node's tip was replaced.
type ReorgCause string

const (
	ReorgCausePoolSwitch   ReorgCause = "pool_switch"
	ReorgCausePropagation  ReorgCause = "propagation"
	ReorgCauseReunion      ReorgCause = "reunion"
	ReorgCauseUASFAccept   ReorgCause = "uasf_accept"
)

// ReorgEvent is an immutable record of a node switching its tip to another
// chain: by propagation, which happens only for a chain with strictly
// greater cumulative work, or by a forced move (pool switch, reunion, UASF
// acceptance), which does not compare work. Depth is the number of blocks on
// the abandoned path, which become orphans on that node.
type ReorgEvent struct {
	Timestamp       time.Time        `json:"timestamp"`
	Fork            ForkID           `json:"fork"`
	Depth           int              `json:"depth"`
	Cause           ReorgCause       `json:"cause"`
	AffectedNodes   []string         `json:"affectedNodes"`
	AffectedPools   []string         `json:"affectedPools,omitempty"`
	OrphanedBlockIDs []chainhash.Hash `json:"orphanedBlockIds"`
}
