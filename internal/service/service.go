// Package service implements the analysis run orchestrator: it starts runs,
// drives their stage pipeline, publishes completed summaries to the
// discussion thread and serves run state to the transports.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xiaot623/quorum/internal/activity"
	"github.com/xiaot623/quorum/internal/clock"
	"github.com/xiaot623/quorum/internal/config"
	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/eventlog"
	"github.com/xiaot623/quorum/internal/pipeline"
	"github.com/xiaot623/quorum/internal/policy"
	"github.com/xiaot623/quorum/internal/registry"
	"github.com/xiaot623/quorum/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xiaot623/quorum/internal/service"

// ThreadStore is the discussion thread collaborator that receives completed
// summaries. PublishContribution appends the post and bumps the thread's
// reply counter as one unit: either both happen or neither does.
type ThreadStore interface {
	PublishContribution(ctx context.Context, subjectID string, c domain.Contribution) (*domain.Post, error)
}

// ParticipantDirectory lists the participants a run roster is drawn from.
type ParticipantDirectory interface {
	ListAvailableParticipants(ctx context.Context) ([]domain.Participant, error)
}

// Gate decides whether a stage may be applied.
type Gate interface {
	Evaluate(ctx context.Context, input policy.Input) (string, string, error)
}

// Deps are the collaborators of a Service. Registry, Events, Activity,
// Scheduler, Clock and Config are required.
type Deps struct {
	Registry  *registry.Registry
	Events    *eventlog.Log
	Activity  *activity.Feed
	Scheduler *pipeline.Scheduler
	Clock     clock.Clock
	Threads   ThreadStore
	Directory ParticipantDirectory
	Gate      Gate
	Config    *config.Config
	Logger    *slog.Logger
	// Summarize composes a completed run's summary. Defaults to
	// pipeline.DefaultSummary.
	Summarize func(run *domain.AnalysisRun) string
	// NewRunID mints run ids. Defaults to a prefixed random uuid.
	NewRunID func() string
}

type Service struct {
	registry  *registry.Registry
	events    *eventlog.Log
	activity  *activity.Feed
	scheduler *pipeline.Scheduler
	clock     clock.Clock
	threads   ThreadStore
	directory ParticipantDirectory
	gate      Gate
	config    *config.Config
	logger    *slog.Logger
	summarize func(run *domain.AnalysisRun) string
	newRunID  func() string
	metrics   *metrics
	tracer    trace.Tracer
}

func New(deps Deps) (*Service, error) {
	if deps.Registry == nil || deps.Events == nil || deps.Activity == nil {
		return nil, errors.New("service: registry, event log and activity feed are required")
	}
	if deps.Scheduler == nil || deps.Clock == nil || deps.Config == nil {
		return nil, errors.New("service: scheduler, clock and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	summarize := deps.Summarize
	if summarize == nil {
		summarize = pipeline.DefaultSummary
	}
	runID := deps.NewRunID
	if runID == nil {
		runID = newRunID
	}
	m, err := newMetrics(telemetry.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	return &Service{
		registry:  deps.Registry,
		events:    deps.Events,
		activity:  deps.Activity,
		scheduler: deps.Scheduler,
		clock:     deps.Clock,
		threads:   deps.Threads,
		directory: deps.Directory,
		gate:      deps.Gate,
		config:    deps.Config,
		logger:    logger.With("component", "orchestrator"),
		summarize: summarize,
		newRunID:  runID,
		metrics:   m,
		tracer:    telemetry.Tracer(instrumentationName),
	}, nil
}
