// Package chainstore holds, per fork, a linear append-only block history
// plus a set of nodes each pinned to a chain tip, and implements the
// partitioned block-propagation model with asymmetric acceptance and
// reorg bookkeeping described in spec.md §4.2.
//
// Each fork's own chain is append-only and monotonically increasing in
// cumulative work (spec invariant 3) — "reorg" is a node-level concept: a
// node's tip switches from one fork's chain to the other's, orphaning the
// blocks it had adopted on the side it leaves. Propagation within a
// partition is treated as instantaneous (spec.md §9 open question), so a
// node in sync with its own partition always sits at that fork's current
// tip; divergence only arises from asymmetric foreign-block acceptance,
// pool-triggered partition moves, and reunion/UASF events.
package chainstore

import (
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcforks/forksim/pkg/models"
)

type nodeState struct {
	node      models.Node
	tipFork   models.ForkID
	tipHeight int64
	orphans   []models.Block
}

// Store is the arena of immutable blocks plus per-node tip pointers. It is
// owned exclusively by the single-threaded scheduler; no locking is used by
// design (spec.md §5).
type Store struct {
	chains map[models.ForkID][]models.Block
	forks  map[models.ForkID]*models.Fork
	nodes  map[string]*nodeState
	reorgs []models.ReorgEvent
}

// New creates a Store with a genesis block on every fork in models.Forks,
// each seeded with its own initial difficulty.
func New(genesisTime time.Time, initialDifficulty map[models.ForkID]float64) *Store {
	s := &Store{
		chains: make(map[models.ForkID][]models.Block),
		forks:  make(map[models.ForkID]*models.Fork),
		nodes:  make(map[string]*nodeState),
	}
	for _, f := range models.Forks {
		d := initialDifficulty[f]
		if d <= 0 {
			d = 1
		}
		genesis := models.NewBlock(chainhash.Hash{}, 0, f, "genesis", genesisTime, d)
		s.chains[f] = []models.Block{genesis}
		s.forks[f] = &models.Fork{
			ID:             f,
			TipID:          genesis.ID,
			CumulativeWork: d,
			Difficulty:     d,
		}
	}
	return s
}

// Fork returns the live, mutable Fork state for oracles to read and (for
// the owning oracle) write Difficulty/PriceUSD/FeeRate directly.
func (s *Store) Fork(f models.ForkID) *models.Fork {
	return s.forks[f]
}

func partitionFork(p models.Partition) models.ForkID {
	switch p {
	case models.PartitionV27:
		return models.ForkV27
	case models.PartitionV26:
		return models.ForkV26
	default:
		return models.ForkV27
	}
}

// RegisterNode adds a node to the store, synced to its partition's current
// tip (propagation is instantaneous, so a freshly registered node starts
// exactly at the fork it is assigned to).
func (s *Store) RegisterNode(n models.Node) {
	f := partitionFork(n.Partition)
	height := int64(len(s.chains[f]) - 1)
	n.TipID = s.chains[f][height].ID
	s.nodes[n.ID] = &nodeState{node: n, tipFork: f, tipHeight: height}
}

// Nodes returns a snapshot of all registered nodes, stable-sorted by id for
// deterministic iteration (spec.md §5).
func (s *Store) Nodes() []models.Node {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id].node)
	}
	return out
}

// Node returns the current snapshot of one node.
func (s *Store) Node(id string) (models.Node, bool) {
	ns, ok := s.nodes[id]
	if !ok {
		return models.Node{}, false
	}
	return ns.node, true
}

// Height returns the current chain height (tip height) of a fork.
func (s *Store) Height(f models.ForkID) int64 {
	return int64(len(s.chains[f]) - 1)
}

// Tip returns the current tip block of a fork.
func (s *Store) Tip(f models.ForkID) models.Block {
	chain := s.chains[f]
	return chain[len(chain)-1]
}

// BlockAt returns the block at the given height on fork f, if it exists.
// Used by the difficulty oracle to measure the actual timespan of a
// retarget epoch.
func (s *Store) BlockAt(f models.ForkID, height int64) (models.Block, bool) {
	chain := s.chains[f]
	if height < 0 || int(height) >= len(chain) {
		return models.Block{}, false
	}
	return chain[height], true
}

// CumulativeWork returns the current cumulative work of a fork's live tip.
func (s *Store) CumulativeWork(f models.ForkID) float64 {
	return s.forks[f].CumulativeWork
}

// ReorgLog returns every reorg event recorded so far, in chronological
// order.
func (s *Store) ReorgLog() []models.ReorgEvent {
	return s.reorgs
}

// AppendBlock records a newly mined block at the tip of fork's chain. It
// does not propagate the block to any node — call Propagate with the
// returned Block to do that.
func (s *Store) AppendBlock(fork models.ForkID, producer string, difficulty float64, ts time.Time) (models.Block, error) {
	if !fork.Valid() {
		return models.Block{}, fmt.Errorf("chainstore: invalid fork %q", fork)
	}
	chain := s.chains[fork]
	parent := chain[len(chain)-1]
	block := models.NewBlock(parent.ID, parent.Height+1, fork, producer, ts, difficulty)
	s.chains[fork] = append(chain, block)

	fm := s.forks[fork]
	fm.CumulativeWork += difficulty
	fm.Difficulty = difficulty
	fm.TipID = block.ID
	fm.MinedCount++
	return block, nil
}

// Propagate delivers a newly mined block to every node in the producing
// partition (an ordinary, non-reorg tip advance), and — for nodes flagged
// accepts_foreign_blocks on the permissive side — asymmetrically delivers
// blocks from the stricter fork (v27) as a candidate reorg if they
// strictly increase that node's adopted cumulative work. Permissive→strict
// delivery never happens, regardless of flags, per spec.md §4.2.
//
// Returns any ReorgEvents produced (there is none for an ordinary
// same-fork tip advance — only a genuine fork-to-fork tip switch counts).
func (s *Store) Propagate(block models.Block) []models.ReorgEvent {
	var events []models.ReorgEvent
	ownFork := block.Fork
	ownHeight := block.Height

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ns := s.nodes[id]
		nodeFork := partitionFork(ns.node.Partition)

		switch {
		case nodeFork == ownFork:
			// In-partition: instantaneous, ordinary tip advance.
			if ns.tipFork == ownFork && ownHeight > ns.tipHeight {
				ns.tipHeight = ownHeight
				ns.node.TipID = block.ID
			}
		case ownFork == models.ForkV27 && nodeFork == models.ForkV26 && ns.node.AcceptsForeignBlocks:
			// Asymmetric acceptance: permissive node may adopt the
			// stricter chain's tip if it is strictly heavier.
			if ns.tipFork == ownFork {
				// Already following v27: an ordinary tip advance.
				if ownHeight > ns.tipHeight {
					ns.tipHeight = ownHeight
					ns.node.TipID = block.ID
				}
				continue
			}
			incomingWork := s.cumulativeWorkAt(ownFork, ownHeight)
			currentWork := s.cumulativeWorkAt(ns.tipFork, ns.tipHeight)
			if incomingWork > currentWork {
				if ev, ok := s.reorgNode(ns, ownFork, ownHeight, time.Time{}, models.ReorgCausePropagation, nil); ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events
}

// cumulativeWorkAt returns the cumulative work of the chain on fork f up to
// and including height h. Each fork's chain is append-only and
// monotonically increasing, so this is just a prefix sum; for the
// (overwhelmingly common) case where h is the fork's current tip, it is
// simply the fork's live CumulativeWork.
func (s *Store) cumulativeWorkAt(f models.ForkID, h int64) float64 {
	if h == s.Height(f) {
		return s.forks[f].CumulativeWork
	}
	var total float64
	chain := s.chains[f]
	for i := int64(0); i <= h && int(i) < len(chain); i++ {
		total += chain[i].Difficulty
	}
	return total
}

// Reorg explicitly switches a node's tip to the given fork's current tip,
// e.g. because the pool mining through it switched sides, or a UASF/
// reunion event forced the move. It is a no-op (returns ok=false) if the
// node is already on that fork at or past its current tip.
func (s *Store) Reorg(nodeID string, newFork models.ForkID, cause models.ReorgCause, affectedPools []string, ts time.Time) (models.ReorgEvent, bool) {
	ns, exists := s.nodes[nodeID]
	if !exists {
		return models.ReorgEvent{}, false
	}
	return s.reorgNode(ns, newFork, s.Height(newFork), ts, cause, affectedPools)
}

func (s *Store) reorgNode(ns *nodeState, newFork models.ForkID, newHeight int64, ts time.Time, cause models.ReorgCause, affectedPools []string) (models.ReorgEvent, bool) {
	if ns.tipFork == newFork && ns.tipHeight >= newHeight {
		return models.ReorgEvent{}, false
	}

	var orphanedIDs []chainhash.Hash
	depth := 0
	if ns.tipFork != newFork {
		// Abandoning the entire chain this node had adopted on its old
		// fork — the two forks share no common ancestor within this
		// store's simplified two-independent-chains model.
		oldChain := s.chains[ns.tipFork]
		depth = int(ns.tipHeight) + 1
		for i := int64(0); i <= ns.tipHeight && int(i) < len(oldChain); i++ {
			orphanedIDs = append(orphanedIDs, oldChain[i].ID)
		}
		ns.orphans = append(ns.orphans, oldChain[:min64(ns.tipHeight+1, int64(len(oldChain)))]...)
		s.forks[ns.tipFork].OrphanCount += depth
	}

	ns.tipFork = newFork
	ns.tipHeight = newHeight
	newChain := s.chains[newFork]
	ns.node.TipID = newChain[newHeight].ID

	ev := models.ReorgEvent{
		Timestamp:        ts,
		Fork:             newFork,
		Depth:            depth,
		Cause:            cause,
		AffectedNodes:    []string{ns.node.ID},
		AffectedPools:    affectedPools,
		OrphanedBlockIDs: orphanedIDs,
	}
	s.reorgs = append(s.reorgs, ev)
	return ev, true
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// CrossLink establishes gossip between the two partitions at reunion and
// reorgs every node on the lower-cumulative-work side onto the heavier
// tip. Since in-partition propagation is instantaneous in this model,
// convergence itself is immediate; timeout<=0 is treated as an
// already-expired budget so the ReunionTimeout path remains exercisable.
// Calling CrossLink again after a successful reunion is a no-op (idempotent,
// spec invariant 7) because every node is already on the winning fork.
func (s *Store) CrossLink(timeout time.Duration, ts time.Time) (winner models.ForkID, converged []string, unconverged []string, events []models.ReorgEvent) {
	a, b := models.Forks[0], models.Forks[1]
	winner, loser := a, b
	if s.forks[b].CumulativeWork > s.forks[a].CumulativeWork {
		winner, loser = b, a
	}

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if timeout <= 0 {
		for _, id := range ids {
			ns := s.nodes[id]
			if ns.tipFork == loser {
				unconverged = append(unconverged, id)
			}
		}
		return winner, converged, unconverged, nil
	}

	for _, id := range ids {
		ns := s.nodes[id]
		if ns.tipFork != loser {
			continue
		}
		ev, changed := s.reorgNode(ns, winner, s.Height(winner), ts, models.ReorgCauseReunion, nil)
		if changed {
			events = append(events, ev)
		}
		converged = append(converged, id)
	}
	return winner, converged, unconverged, events
}

// AcceptForeign flips a node's accepts_foreign_blocks flag, used by UASF
// expiry's "accept" action (spec.md §4.8): no immediate reorg, but foreign
// blocks are stored and adopted from here on if heavier.
func (s *Store) AcceptForeign(nodeID string) {
	if ns, ok := s.nodes[nodeID]; ok {
		ns.node.AcceptsForeignBlocks = true
	}
}
