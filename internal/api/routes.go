package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/btcforks/forksim/internal/engine"
	"github.com/btcforks/forksim/internal/liveuplink"
	"github.com/btcforks/forksim/internal/metrics"
	"github.com/btcforks/forksim/internal/storage"
)

// runState is the in-memory record of one scenario run, live or finished.
// It is the source of truth for a run's decisions/reorgs/snapshots until
// process restart; internal/storage.Store (if configured) is the durable
// copy a dashboard can query across restarts.
type runState struct {
	ID           string
	ScenarioName string
	Status       string // running | completed | failed
	StartedAt    time.Time
	FinishedAt   time.Time
	Summary      *metrics.Summary
	Artifacts    metrics.ArtifactSet
	Err          error
}

// APIHandler serves the scenario-run HTTP surface: starting runs, polling
// their status, and paging through a completed run's decision/reorg/
// snapshot logs.
type APIHandler struct {
	store     *storage.Store
	uplink    *liveuplink.Uplink
	wsHub     *Hub
	scenarios map[string]engine.Scenario

	mu   sync.RWMutex
	runs map[string]*runState
}

// SetupRouter wires the gin engine the same way every other rawblock
// service does: a permissive CORS layer, a public group, and a bearer-
// gated + rate-limited protected group. store and uplink may both be nil.
func SetupRouter(store *storage.Store, uplink *liveuplink.Uplink, wsHub *Hub, scenarios map[string]engine.Scenario) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		store:     store,
		uplink:    uplink,
		wsHub:     wsHub,
		scenarios: scenarios,
		runs:      make(map[string]*runState),
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/scenarios", handler.handleListScenarios)
		pub.GET("/runs", handler.handleListRuns)
		pub.GET("/runs/:id", handler.handleGetRun)
	}

	// Starting a run and paging through its raw per-tick logs are the
	// expensive operations here — gate both behind auth + rate limiting,
	// same split the teacher used for its O(n) RPC-calling endpoints.
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/runs", handler.handleStartRun)
		auth.GET("/runs/:id/decisions", handler.handleGetDecisions)
		auth.GET("/runs/:id/reorgs", handler.handleGetReorgs)
		auth.GET("/runs/:id/snapshots", handler.handleGetSnapshots)
	}

	r.Static("/dashboard", "./public")

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	h.mu.RLock()
	active := 0
	for _, rs := range h.runs {
		if rs.Status == storage.StatusRunning {
			active++
		}
	}
	h.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":       "operational",
		"engine":       "forksim",
		"dbConnected":  h.store != nil,
		"liveUplink":   h.uplink != nil,
		"scenarios":    len(h.scenarios),
		"activeRuns":   active,
	})
}

func (h *APIHandler) handleListScenarios(c *gin.Context) {
	names := make([]string, 0, len(h.scenarios))
	for name := range h.scenarios {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": names})
}

// handleStartRun launches a named scenario in the background.
// POST /api/v1/runs { "scenario": "s1-pure-rational" }
func (h *APIHandler) handleStartRun(c *gin.Context) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body, expected {scenario}"})
		return
	}

	scn, ok := h.scenarios[req.Scenario]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown scenario " + req.Scenario})
		return
	}

	runID := uuid.NewString()
	scn.Flags.ResultsID = runID

	rs := &runState{ID: runID, ScenarioName: req.Scenario, Status: storage.StatusRunning, StartedAt: time.Now()}
	h.mu.Lock()
	h.runs[runID] = rs
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.SaveRunStart(context.Background(), runID, req.Scenario); err != nil {
			log.Printf("[api] failed to record run start for %s: %v", runID, err)
		}
	}

	go h.runScenario(runID, scn)

	c.JSON(http.StatusAccepted, gin.H{
		"runId":    runID,
		"scenario": req.Scenario,
		"status":   storage.StatusRunning,
	})
}

// runScenario drives one Engine to completion off the request goroutine.
// A panic inside Run would otherwise take the whole process down with it;
// this background runner is the last line of defense, separate from (and
// in addition to) the per-agent TransientAgentError recovery inside the
// engine itself.
func (h *APIHandler) runScenario(runID string, scn engine.Scenario) {
	defer func() {
		if r := recover(); r != nil {
			h.finishRun(runID, metrics.ArtifactSet{}, fmt.Errorf("run %s panicked: %v", runID, r))
		}
	}()

	e, err := engine.New(scn, h.wsHub)
	if err != nil {
		h.finishRun(runID, metrics.ArtifactSet{}, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), scn.Flags.Duration+5*time.Minute)
	defer cancel()

	if _, err := e.Run(ctx); err != nil {
		h.finishRun(runID, metrics.ArtifactSet{}, err)
		return
	}
	h.finishRun(runID, e.Artifacts(), nil)
}

func (h *APIHandler) finishRun(runID string, set metrics.ArtifactSet, runErr error) {
	h.mu.Lock()
	rs, ok := h.runs[runID]
	if ok {
		rs.FinishedAt = time.Now()
		rs.Artifacts = set
		rs.Err = runErr
		if runErr != nil {
			rs.Status = storage.StatusFailed
		} else {
			rs.Status = storage.StatusCompleted
			rs.Summary = set.Summary
		}
	}
	h.mu.Unlock()

	if h.store == nil {
		return
	}
	if runErr != nil {
		if err := h.store.SaveRunFailure(context.Background(), runID, runErr); err != nil {
			log.Printf("[api] failed to record run failure for %s: %v", runID, err)
		}
		return
	}
	if err := h.store.SaveRunResult(context.Background(), runID, set); err != nil {
		log.Printf("[api] failed to persist run result for %s: %v", runID, err)
	}
}

func (h *APIHandler) handleGetRun(c *gin.Context) {
	id := c.Param("id")

	h.mu.RLock()
	rs, ok := h.runs[id]
	h.mu.RUnlock()
	if ok {
		resp := gin.H{
			"runId":      rs.ID,
			"scenario":   rs.ScenarioName,
			"status":     rs.Status,
			"startedAt":  rs.StartedAt,
			"finishedAt": rs.FinishedAt,
		}
		if rs.Summary != nil {
			resp["summary"] = rs.Summary
		}
		if rs.Err != nil {
			resp["error"] = rs.Err.Error()
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	record, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *APIHandler) handleListRuns(c *gin.Context) {
	h.mu.RLock()
	inMemory := make([]gin.H, 0, len(h.runs))
	for _, rs := range h.runs {
		inMemory = append(inMemory, gin.H{
			"runId": rs.ID, "scenario": rs.ScenarioName, "status": rs.Status, "startedAt": rs.StartedAt,
		})
	}
	h.mu.RUnlock()

	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"runs": inMemory})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	persisted, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": persisted})
}

func (h *APIHandler) handleGetDecisions(c *gin.Context) {
	id := c.Param("id")

	h.mu.RLock()
	rs, ok := h.runs[id]
	h.mu.RUnlock()
	if ok {
		c.JSON(http.StatusOK, gin.H{"decisions": rs.Artifacts.Decisions})
		return
	}

	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	decisions, total, err := h.store.ListDecisions(c.Request.Context(), id, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list decisions", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "total": total, "page": page, "limit": limit})
}

func (h *APIHandler) handleGetReorgs(c *gin.Context) {
	id := c.Param("id")
	h.mu.RLock()
	rs, ok := h.runs[id]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found, or not held in memory for this process — reorg history beyond the current process lifetime isn't queryable yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reorgs": rs.Artifacts.Reorgs})
}

func (h *APIHandler) handleGetSnapshots(c *gin.Context) {
	id := c.Param("id")
	h.mu.RLock()
	rs, ok := h.runs[id]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found, or not held in memory for this process"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": rs.Artifacts.Snapshots})
}
