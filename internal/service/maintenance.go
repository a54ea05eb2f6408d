package service

import (
	"context"
	"time"
)

const runTimedOut = "run timed out"

// RunMaintenance periodically fails runs that exceeded the run timeout and
// evicts old terminal runs. It returns when ctx is done.
func (s *Service) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(s.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	now := s.clock.Now()

	for _, runID := range s.registry.Active() {
		e, err := s.registry.Lookup(runID)
		if err != nil {
			continue
		}
		e.Lock()
		if !e.Status().IsTerminal() && now.Sub(e.StartedAt()) > s.config.RunTimeout {
			s.logger.Warn("run exceeded timeout", "run_id", runID, "timeout", s.config.RunTimeout)
			s.failLocked(e, runTimedOut)
		}
		e.Unlock()
	}

	evicted := s.registry.Evict(s.config.MaxRetainedRuns)
	for _, runID := range evicted {
		s.events.Drop(runID)
	}
	if len(evicted) > 0 {
		s.logger.Info("evicted terminal runs", "count", len(evicted))
	}
}
