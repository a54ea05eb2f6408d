package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/quorum/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	runsStarted        metric.Int64Counter
	runsFinished       metric.Int64Counter
	stagesApplied      metric.Int64Counter
	sideEffectFailures metric.Int64Counter
	runDuration        metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var err error
	if m.runsStarted, err = meter.Int64Counter("quorum.runs.started",
		metric.WithDescription("Analysis runs started")); err != nil {
		return nil, fmt.Errorf("service: create runs.started counter: %w", err)
	}
	if m.runsFinished, err = meter.Int64Counter("quorum.runs.finished",
		metric.WithDescription("Analysis runs that reached a terminal status")); err != nil {
		return nil, fmt.Errorf("service: create runs.finished counter: %w", err)
	}
	if m.stagesApplied, err = meter.Int64Counter("quorum.stage.applied",
		metric.WithDescription("Pipeline stages applied")); err != nil {
		return nil, fmt.Errorf("service: create stage.applied counter: %w", err)
	}
	if m.sideEffectFailures, err = meter.Int64Counter("quorum.side_effect.failures",
		metric.WithDescription("Completed runs whose summary could not be posted")); err != nil {
		return nil, fmt.Errorf("service: create side_effect.failures counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("quorum.run.duration",
		metric.WithDescription("Time from run start to terminal status"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("service: create run.duration histogram: %w", err)
	}
	return &m, nil
}

func (m *metrics) finished(run *domain.AnalysisRun) {
	attrs := metric.WithAttributes(attribute.String("status", string(run.Status)))
	m.runsFinished.Add(context.Background(), 1, attrs)
	m.runDuration.Record(context.Background(), run.UpdatedAt.Sub(run.StartedAt).Seconds(), attrs)
}

func (m *metrics) stage(name string) {
	m.stagesApplied.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", name)))
}
