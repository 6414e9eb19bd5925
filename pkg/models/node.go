package models

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Partition identifies which side of the split a Node's peer set belongs to.
type Partition string

const (
	PartitionV27 Partition = "v27"
	PartitionV26 Partition = "v26"
)

// Node is a peer in the split network. A Node's chain tip is always
// reachable in the chain store; peers are symmetric when both accept each
// other's blocks (AcceptsForeignBlocks asymmetry is handled explicitly by
// the propagation model, not by the peer list itself).
type Node struct {
	ID                   string         `json:"id"`
	Partition            Partition      `json:"partition"`
	BitcoinVersion       string         `json:"bitcoinVersion"`
	AcceptsForeignBlocks bool           `json:"acceptsForeignBlocks"`
	Peers                []string       `json:"peers"`
	Role                 string         `json:"role,omitempty"`
	EntityID             string         `json:"entityId,omitempty"`
	TipID                chainhash.Hash `json:"tipId"`
}
