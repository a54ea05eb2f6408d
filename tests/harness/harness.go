// Package harness wires a complete in-memory orchestrator for tests that
// exercise it through its transports.
package harness

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/quorum/internal/activity"
	"github.com/xiaot623/quorum/internal/clock"
	"github.com/xiaot623/quorum/internal/config"
	"github.com/xiaot623/quorum/internal/eventlog"
	"github.com/xiaot623/quorum/internal/hub"
	"github.com/xiaot623/quorum/internal/pipeline"
	"github.com/xiaot623/quorum/internal/policy"
	"github.com/xiaot623/quorum/internal/registry"
	"github.com/xiaot623/quorum/internal/repository"
	"github.com/xiaot623/quorum/internal/service"
	"github.com/xiaot623/quorum/tests/helpers"
)

// Start is the manual clock's initial time.
var Start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Harness holds an orchestrator driven by a manual clock.
type Harness struct {
	Config  *config.Config
	Clock   *clock.Manual
	Store   *repository.SQLiteStore
	Service *service.Service
	Hub     *hub.Hub
}

// Config returns the configuration used by the harness.
func Config() *config.Config {
	return &config.Config{
		StageInterval:       time.Second,
		RosterSize:          3,
		SynthesizerName:     "Synthesizer",
		SideEffectTimeout:   time.Second,
		RunTimeout:          time.Minute,
		MaintenanceInterval: time.Second,
		MaxRetainedRuns:     100,
		ActivityFeedSize:    100,
		LivePollInterval:    20 * time.Millisecond,
		WSPingInterval:      time.Second,
		WSWriteTimeout:      time.Second,
		WSReadTimeout:       5 * time.Second,
		WSMaxMessageSize:    65536,
	}
}

// New builds a harness with the default stages and stage gate. The hub
// runs until the test ends.
func New(t *testing.T) *Harness {
	t.Helper()

	cfg := Config()
	clk := clock.NewManual(Start)
	logger := helpers.DiscardLogger()

	sched, err := pipeline.NewScheduler(clk, pipeline.DefaultStages(cfg.StageInterval), logger)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	gate, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	store := helpers.NewTestSQLiteStore(t)

	svc, err := service.New(service.Deps{
		Registry:  registry.New(),
		Events:    eventlog.New(),
		Activity:  activity.New(cfg.ActivityFeedSize, clk.Now),
		Scheduler: sched,
		Clock:     clk,
		Threads:   store,
		Directory: store,
		Gate:      gate,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("service.New failed: %v", err)
	}

	h := hub.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	return &Harness{Config: cfg, Clock: clk, Store: store, Service: svc, Hub: h}
}

// Finish advances the clock past every stage of a run started at Start.
func (h *Harness) Finish() {
	h.Clock.Advance(time.Duration(len(pipeline.DefaultStages(h.Config.StageInterval))+1) * h.Config.StageInterval)
}
