package difficulty

import (
	"testing"
	"time"

	"github.com/btcforks/forksim/internal/chainstore"
	"github.com/btcforks/forksim/pkg/models"
)

func TestBlockProbabilityScalesWithHashrateAndDifficulty(t *testing.T) {
	o := New(DefaultConfig(), time.Unix(0, 0))
	fork := &models.Fork{Difficulty: 1}

	low := o.BlockProbability(fork, 0.1, time.Minute)
	high := o.BlockProbability(fork, 0.9, time.Minute)
	if !(low > 0 && low < high) {
		t.Fatalf("expected probability to increase with hashrate share, got low=%v high=%v", low, high)
	}

	fork.Difficulty = 100
	harder := o.BlockProbability(fork, 0.9, time.Minute)
	if harder >= high {
		t.Fatalf("expected higher difficulty to reduce probability, got harder=%v high=%v", harder, high)
	}
}

func TestBlockProbabilityZeroForZeroDifficultyOrHashrate(t *testing.T) {
	o := New(DefaultConfig(), time.Unix(0, 0))
	fork := &models.Fork{Difficulty: 1}
	if p := o.BlockProbability(fork, 0, time.Minute); p != 0 {
		t.Fatalf("expected 0 probability for 0 hashrate share, got %v", p)
	}
	fork.Difficulty = 0
	if p := o.BlockProbability(fork, 0.5, time.Minute); p != 0 {
		t.Fatalf("expected 0 probability for 0 difficulty, got %v", p)
	}
}

func TestRetargetRaisesDifficultyWhenBlocksComeFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetargetInterval = 10
	cfg.TargetBlockTime = 10 * time.Minute

	genesis := time.Unix(0, 0)
	store := chainstore.New(genesis, map[models.ForkID]float64{models.ForkV27: 1, models.ForkV26: 1})
	o := New(cfg, genesis)

	var ts time.Time
	for i := int64(1); i <= 10; i++ {
		// Blocks arrive every minute — 10x faster than the 10-minute target.
		ts = genesis.Add(time.Duration(i) * time.Minute)
		blk, err := store.AppendBlock(models.ForkV27, "pool-a", store.Fork(models.ForkV27).Difficulty, ts)
		if err != nil {
			t.Fatalf("AppendBlock: %v", err)
		}
		o.OnBlockMined(store, models.ForkV27, blk.Height, ts)
	}

	got := store.Fork(models.ForkV27).Difficulty
	if got <= 1 {
		t.Fatalf("expected difficulty to rise above 1 after a fast epoch, got %v", got)
	}
	// Clamped to at most 4x per the default MaxAdjustFactor.
	if got > 4 {
		t.Fatalf("difficulty adjustment exceeded the configured clamp: got %v", got)
	}
}

func TestRetargetClampsToMinDifficulty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetargetInterval = 2
	cfg.MinDifficulty = 0.5
	cfg.MaxAdjustFactor = 1000 // isolate the absolute floor, not the factor clamp

	genesis := time.Unix(0, 0)
	store := chainstore.New(genesis, map[models.ForkID]float64{models.ForkV27: 1, models.ForkV26: 1})
	o := New(cfg, genesis)

	// Blocks arrive extremely slowly (1000x the target), which would drive
	// difficulty far below the configured floor.
	var ts time.Time
	for i := int64(1); i <= 2; i++ {
		ts = genesis.Add(time.Duration(i) * 1000 * cfg.TargetBlockTime)
		blk, _ := store.AppendBlock(models.ForkV27, "pool-a", store.Fork(models.ForkV27).Difficulty, ts)
		o.OnBlockMined(store, models.ForkV27, blk.Height, ts)
	}

	if got := store.Fork(models.ForkV27).Difficulty; got != cfg.MinDifficulty {
		t.Fatalf("difficulty = %v, want floor %v", got, cfg.MinDifficulty)
	}
}

func TestEDACutsDifficultyOnStall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableEDA = true
	cfg.EDAStallFactor = 12
	cfg.EDACutFraction = 0.2

	genesis := time.Unix(0, 0)
	store := chainstore.New(genesis, map[models.ForkID]float64{models.ForkV27: 1, models.ForkV26: 1})
	o := New(cfg, genesis)

	lastBlock := genesis
	stalledAt := genesis.Add(13 * cfg.TargetBlockTime)

	before := store.Fork(models.ForkV27).Difficulty
	triggered := o.CheckStall(store, models.ForkV27, lastBlock, stalledAt)
	if !triggered {
		t.Fatalf("expected EDA to trigger after a 13x stall")
	}
	after := store.Fork(models.ForkV27).Difficulty
	if after != before*0.8 {
		t.Fatalf("difficulty after EDA = %v, want %v", after, before*0.8)
	}

	// Cooldown prevents a second cut immediately after.
	if o.CheckStall(store, models.ForkV27, lastBlock, stalledAt.Add(time.Second)) {
		t.Fatalf("expected EDA cooldown to suppress a second trigger")
	}
}

func TestEDADisabledByDefault(t *testing.T) {
	cfg := DefaultConfig()
	genesis := time.Unix(0, 0)
	store := chainstore.New(genesis, map[models.ForkID]float64{models.ForkV27: 1, models.ForkV26: 1})
	o := New(cfg, genesis)

	stalledAt := genesis.Add(100 * cfg.TargetBlockTime)
	if o.CheckStall(store, models.ForkV27, genesis, stalledAt) {
		t.Fatalf("EDA should be disabled by default")
	}
}
