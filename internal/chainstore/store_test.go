package chainstore

import (
	"testing"
	"time"

	"github.com/btcforks/forksim/pkg/models"
)

func newTestStore() *Store {
	return New(time.Unix(0, 0), map[models.ForkID]float64{
		models.ForkV27: 1,
		models.ForkV26: 1,
	})
}

func TestAppendBlockAdvancesCumulativeWork(t *testing.T) {
	s := newTestStore()
	before := s.CumulativeWork(models.ForkV27)
	blk, err := s.AppendBlock(models.ForkV27, "pool-a", 2.5, time.Unix(600, 0))
	if err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	after := s.CumulativeWork(models.ForkV27)
	if after != before+2.5 {
		t.Fatalf("cumulative work = %v, want %v", after, before+2.5)
	}
	if blk.Height != 1 {
		t.Fatalf("height = %d, want 1", blk.Height)
	}
	if blk.ID != s.Tip(models.ForkV27).ID {
		t.Fatalf("appended block is not the fork's new tip")
	}
}

func TestPropagateOrdinaryAdvanceProducesNoReorg(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "n1", Partition: models.PartitionV27})

	blk, _ := s.AppendBlock(models.ForkV27, "pool-a", 1, time.Unix(600, 0))
	events := s.Propagate(blk)
	if len(events) != 0 {
		t.Fatalf("expected no reorg events for an ordinary same-fork advance, got %v", events)
	}
	node, _ := s.Node("n1")
	if node.TipID != blk.ID {
		t.Fatalf("node tip not advanced to new block")
	}
}

func TestAsymmetricPropagationReorgsPermissiveNode(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "permissive", Partition: models.PartitionV26, AcceptsForeignBlocks: true})
	s.RegisterNode(models.Node{ID: "strict-resistant", Partition: models.PartitionV26, AcceptsForeignBlocks: false})

	// v27 mines a much heavier block than v26's genesis.
	blk, err := s.AppendBlock(models.ForkV27, "pool-a", 100, time.Unix(600, 0))
	if err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	events := s.Propagate(blk)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 reorg event (the permissive node), got %d: %v", len(events), events)
	}
	if events[0].AffectedNodes[0] != "permissive" {
		t.Fatalf("expected the permissive node to reorg, got %v", events[0].AffectedNodes)
	}
	if events[0].Cause != models.ReorgCausePropagation {
		t.Fatalf("cause = %v, want propagation", events[0].Cause)
	}

	permissive, _ := s.Node("permissive")
	if permissive.TipID != blk.ID {
		t.Fatalf("permissive node tip did not adopt the heavier v27 block")
	}
	resistant, _ := s.Node("strict-resistant")
	if resistant.TipID == blk.ID {
		t.Fatalf("non-accepting node should not have adopted the foreign block")
	}
}

func TestStrictSideNeverAcceptsPermissiveBlocks(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "v27-node", Partition: models.PartitionV27, AcceptsForeignBlocks: true})

	blk, _ := s.AppendBlock(models.ForkV26, "pool-b", 100, time.Unix(600, 0))
	events := s.Propagate(blk)
	if len(events) != 0 {
		t.Fatalf("strict-side node must never adopt a permissive-fork block, got %v", events)
	}
}

func TestReorgOrphansAbandonedChain(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "n1", Partition: models.PartitionV27})

	for i := 0; i < 3; i++ {
		blk, _ := s.AppendBlock(models.ForkV27, "pool-a", 1, time.Unix(int64(600*(i+1)), 0))
		s.Propagate(blk)
	}
	if s.Height(models.ForkV27) != 3 {
		t.Fatalf("height = %d, want 3", s.Height(models.ForkV27))
	}

	ev, changed := s.Reorg("n1", models.ForkV26, models.ReorgCausePoolSwitch, []string{"pool-a"}, time.Unix(3000, 0))
	if !changed {
		t.Fatalf("expected reorg to occur")
	}
	if ev.Depth != 4 { // genesis + 3 mined blocks
		t.Fatalf("depth = %d, want 4", ev.Depth)
	}
	if len(ev.OrphanedBlockIDs) != 4 {
		t.Fatalf("orphaned block count = %d, want 4", len(ev.OrphanedBlockIDs))
	}
	if s.Fork(models.ForkV27).OrphanCount != 4 {
		t.Fatalf("fork orphan count = %d, want 4", s.Fork(models.ForkV27).OrphanCount)
	}

	node, _ := s.Node("n1")
	if node.TipID != s.Tip(models.ForkV26).ID {
		t.Fatalf("node did not land on v26's tip")
	}
}

func TestReorgNoOpWhenAlreadyOnTargetFork(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "n1", Partition: models.PartitionV27})

	_, changed := s.Reorg("n1", models.ForkV27, models.ReorgCausePoolSwitch, nil, time.Unix(0, 0))
	if changed {
		t.Fatalf("expected no-op reorg when node is already on the target fork's current tip")
	}
}

func TestCrossLinkConvergesLoserSideAndIsIdempotent(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "v27-a", Partition: models.PartitionV27})
	s.RegisterNode(models.Node{ID: "v27-b", Partition: models.PartitionV27})
	s.RegisterNode(models.Node{ID: "v26-a", Partition: models.PartitionV26})

	for i := 0; i < 5; i++ {
		blk, _ := s.AppendBlock(models.ForkV26, "pool-b", 10, time.Unix(int64(600*(i+1)), 0))
		s.Propagate(blk)
	}

	winner, converged, unconverged, events := s.CrossLink(30*time.Second, time.Unix(10000, 0))
	if winner != models.ForkV26 {
		t.Fatalf("winner = %v, want v26", winner)
	}
	if len(converged) != 2 {
		t.Fatalf("converged = %v, want 2 v27 nodes", converged)
	}
	if len(unconverged) != 0 {
		t.Fatalf("unconverged = %v, want none", unconverged)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 reorg events, got %d", len(events))
	}

	// Idempotence: calling again after everyone has converged produces no
	// further reorg events.
	_, converged2, _, events2 := s.CrossLink(30*time.Second, time.Unix(10001, 0))
	if len(converged2) != 0 || len(events2) != 0 {
		t.Fatalf("expected second CrossLink call to be a no-op, got converged=%v events=%v", converged2, events2)
	}
}

func TestCrossLinkTimeoutLeavesNodesUnconverged(t *testing.T) {
	s := newTestStore()
	s.RegisterNode(models.Node{ID: "v27-a", Partition: models.PartitionV27})

	blk, _ := s.AppendBlock(models.ForkV26, "pool-b", 10, time.Unix(600, 0))
	s.Propagate(blk)

	_, converged, unconverged, events := s.CrossLink(0, time.Unix(0, 0))
	if len(converged) != 0 {
		t.Fatalf("expected no convergence with a zero timeout budget, got %v", converged)
	}
	if len(unconverged) != 1 {
		t.Fatalf("expected the v27 node reported unconverged, got %v", unconverged)
	}
	if len(events) != 0 {
		t.Fatalf("expected no reorg events when the timeout is already blown")
	}
}
