package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/btcforks/forksim/internal/api"
	"github.com/btcforks/forksim/internal/config"
	"github.com/btcforks/forksim/internal/engine"
	"github.com/btcforks/forksim/internal/liveuplink"
	"github.com/btcforks/forksim/internal/metrics"
	"github.com/btcforks/forksim/internal/storage"
	"github.com/btcforks/forksim/pkg/models"
)

const scenarioRoot = "configs/scenarios"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: forksim <run|serve> [flags]")
	}

	switch os.Args[1] {
	case "run":
		runOneShot(os.Args[2:])
	case "serve":
		serve(os.Args[2:])
	default:
		log.Fatalf("unrecognized subcommand %q: usage: forksim <run|serve> [flags]", os.Args[1])
	}
}

// runOneShot drives a single named scenario to completion and writes its
// artifacts to f.OutputDir, exiting with spec.md §6's 0/1/2 status code.
func runOneShot(args []string) {
	f, err := config.ParseFlags(args)
	if err != nil {
		log.Fatalf("FATAL: bad flags: %v", err)
	}

	scn, err := loadScenario(filepath.Join(scenarioRoot, f.PoolScenario), f)
	if err != nil {
		log.Fatalf("FATAL: failed to load scenario %q: %v", f.PoolScenario, err)
	}

	store := connectStorage()
	if store != nil {
		defer store.Close()
		if err := store.SaveRunStart(context.Background(), scn.Flags.ResultsID, f.PoolScenario); err != nil {
			log.Printf("Warning: failed to record run start: %v", err)
		}
	}

	uplink := dialUplink()
	if uplink != nil {
		defer uplink.Close()
		calibrateFromUplink(uplink, &scn)
	}

	exporter := metrics.NewPrometheusExporter()
	go serveMetrics(f.MetricsAddr, exporter)

	e, err := engine.New(scn, nil)
	if err != nil {
		log.Fatalf("FATAL: engine init failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.Duration+5*time.Minute)
	defer cancel()

	summary, runErr := e.Run(ctx)
	if runErr != nil {
		if store != nil {
			if err := store.SaveRunFailure(context.Background(), scn.Flags.ResultsID, runErr); err != nil {
				log.Printf("Warning: failed to record run failure: %v", err)
			}
		}
		log.Printf("run %s ended with error: %v", scn.Flags.ResultsID, runErr)
		os.Exit(engine.ExitCode(runErr))
	}

	observed := e.Artifacts()
	if !f.EnableReorgMetrics {
		observed.Reorgs = nil
	}
	observeArtifacts(exporter, observed)
	if store != nil {
		if err := store.SaveRunResult(context.Background(), scn.Flags.ResultsID, e.Artifacts()); err != nil {
			log.Printf("Warning: failed to persist run result: %v", err)
		}
	}

	log.Printf("run %s complete: duration=%.0fs final_forks=%v consensus_stress=%.3f reorgs=%d decisions=%d",
		scn.Flags.ResultsID, summary.DurationSec, summary.FinalForks, summary.ConsensusStress, summary.TotalReorgs, summary.TotalDecisions)
	os.Exit(engine.ExitCode(nil))
}

// serve starts the long-running API: a registry of every named scenario
// under configs/scenarios, the websocket snapshot hub, and optional
// Postgres/live-node backing, fronted by the gin router.
func serve(args []string) {
	base, err := config.ParseFlags(args)
	if err != nil {
		log.Fatalf("FATAL: bad flags: %v", err)
	}

	scenarios, err := loadScenarioRegistry(base)
	if err != nil {
		log.Fatalf("FATAL: failed to load scenario registry: %v", err)
	}
	log.Printf("loaded %d scenarios from %s", len(scenarios), scenarioRoot)

	store := connectStorage()
	if store != nil {
		defer store.Close()
	}

	uplink := dialUplink()
	if uplink != nil {
		defer uplink.Close()
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	r := api.SetupRouter(store, uplink, wsHub, scenarios)

	port := getEnvOrDefault("PORT", "5339")
	log.Printf("forksim serving on :%s (%d scenarios registered)", port, len(scenarios))
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("FATAL: failed to start server: %v", err)
	}
}

// loadScenario assembles one engine.Scenario from the five fixture files
// under dir, layering dir/scenario.yaml's overrides on top of base before
// any per-fork economic-file overrides (f.V27Economic/f.V26Economic) are
// applied.
func loadScenario(dir string, base config.Flags) (engine.Scenario, error) {
	f := base
	if meta := filepath.Join(dir, "scenario.yaml"); fileExists(meta) {
		var err error
		f, err = config.LoadScenarioMeta(meta, base)
		if err != nil {
			return engine.Scenario{}, err
		}
	}
	if f.ResultsID == "" {
		f.ResultsID = filepath.Base(dir)
	}

	pools, err := config.LoadMiningPools(filepath.Join(dir, "pools.yaml"))
	if err != nil {
		return engine.Scenario{}, err
	}

	actors, err := loadEconomicActors(dir, f)
	if err != nil {
		return engine.Scenario{}, err
	}

	network, err := config.LoadNetwork(filepath.Join(dir, "network.yaml"))
	if err != nil {
		return engine.Scenario{}, err
	}

	feeCfg, priceCfg, err := config.LoadFeePriceModel(filepath.Join(dir, "market.yaml"))
	if err != nil {
		return engine.Scenario{}, err
	}

	return engine.NewScenario(f, pools, actors, network, feeCfg, priceCfg), nil
}

// loadEconomicActors prefers the per-fork v27_economic/v26_economic
// overrides when either is set (spec.md §6's CLI surface); otherwise it
// falls back to the named scenario's single bundled economic.yaml.
func loadEconomicActors(dir string, f config.Flags) ([]models.EconomicActor, error) {
	if f.V27Economic == "" && f.V26Economic == "" {
		return config.LoadEconomicNodes(filepath.Join(dir, "economic.yaml"))
	}

	var actors []models.EconomicActor
	if f.V27Economic != "" {
		v27, err := config.LoadEconomicNodes(f.V27Economic)
		if err != nil {
			return nil, err
		}
		actors = append(actors, v27...)
	}
	if f.V26Economic != "" {
		v26, err := config.LoadEconomicNodes(f.V26Economic)
		if err != nil {
			return nil, err
		}
		actors = append(actors, v26...)
	}
	return actors, nil
}

// loadScenarioRegistry loads every scenario directory under configs/scenarios,
// each starting from its own copy of base so one scenario's scenario.yaml
// overrides and scenario names don't carry into the next. CLI overrides
// already in base apply to every scenario.
func loadScenarioRegistry(base config.Flags) (map[string]engine.Scenario, error) {
	entries, err := os.ReadDir(scenarioRoot)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", scenarioRoot, err)
	}

	scenarios := make(map[string]engine.Scenario, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		f := base
		f.PoolScenario = name
		f.EconomicScenario = name
		scn, err := loadScenario(filepath.Join(scenarioRoot, name), f)
		if err != nil {
			return nil, fmt.Errorf("loading scenario %q: %w", name, err)
		}
		scenarios[name] = scn
	}
	return scenarios, nil
}

// calibrateFromUplink anchors a scenario's organic fee rate to a live
// node's current mempool/fee-estimate state. Consulted once, here, at
// construction time — never during the tick loop — so a run stays
// deterministic for a given seed regardless of whether an uplink was
// configured. The node's tip is logged for operator visibility but has
// no scenario field to anchor: engine.New always seeds both forks at
// difficulty 1 (spec.md §4.3's documented starting point).
func calibrateFromUplink(u *liveuplink.Uplink, scn *engine.Scenario) {
	tip, err := u.GetTip()
	if err != nil {
		log.Printf("Warning: liveuplink tip query failed, using configured defaults: %v", err)
	} else {
		log.Printf("live node tip: height=%d difficulty=%.4f", tip.Height, tip.Difficulty)
	}

	feeRate, err := u.OrganicFeeRateSatVB(6)
	if err != nil {
		log.Printf("Warning: liveuplink fee estimate failed, using configured defaults: %v", err)
		return
	}
	scn.FeeConfig.BaseFeeRate = feeRate
	log.Printf("calibrated base_fee_rate=%.2f sat/vB from live node", feeRate)
}

func observeArtifacts(exporter *metrics.PrometheusExporter, set metrics.ArtifactSet) {
	for _, snap := range set.Snapshots {
		for fork, f := range snap.Forks {
			exporter.Observe(fork, f)
		}
	}
	for _, d := range set.Decisions {
		exporter.ObserveDecision(d)
	}
	for _, ev := range set.Reorgs {
		exporter.ObserveReorg(ev)
	}
}

func serveMetrics(addr string, exporter *metrics.PrometheusExporter) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Warning: metrics server on %s stopped: %v", addr, err)
	}
}

func connectStorage() *storage.Store {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}
	store, err := storage.Connect(dbURL)
	if err != nil {
		log.Printf("Warning: failed to connect to PostgreSQL, continuing without persisting run results: %v", err)
		return nil
	}
	if err := store.InitSchema(); err != nil {
		log.Printf("Warning: storage schema init failed: %v", err)
	}
	return store
}

func dialUplink() *liveuplink.Uplink {
	host := os.Getenv("BTC_RPC_HOST")
	user := os.Getenv("BTC_RPC_USER")
	pass := os.Getenv("BTC_RPC_PASS")
	if host == "" || user == "" || pass == "" {
		return nil
	}
	u, err := liveuplink.Dial(liveuplink.Config{Host: host, User: user, Pass: pass})
	if err != nil {
		log.Printf("Warning: failed to dial live Bitcoin node, running uncalibrated: %v", err)
		return nil
	}
	return u
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
