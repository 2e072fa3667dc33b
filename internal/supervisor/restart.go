package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coredrift/substrate/internal/core"
)

// monitorWorkers checks every live worker for process exit or heartbeat
// staleness and reacts: a clean or crashed exit schedules a restart (or
// disablement, if the restart-storm threshold has been crossed); a stuck
// worker whose heartbeat has gone silent is killed and treated the same way.
func (s *Supervisor) monitorWorkers(ctx context.Context) {
	for _, agentID := range s.agentIDs() {
		rec := s.get(agentID)
		if rec == nil || rec.disabled || rec.state == StateStopped {
			continue
		}

		if exited, exitErr := s.hasExited(rec); exited {
			s.logEvent("worker_exited", agentID, rec, exitErr)
			s.scheduleRestartOrDisable(ctx, rec, exitErr)
			continue
		}

		if ts, ok := s.latestHeartbeat(ctx, agentID, rec.cmd); ok {
			s.mu.Lock()
			rec.lastHeartbeat = ts
			s.mu.Unlock()
		}

		s.mu.Lock()
		stale := !rec.lastHeartbeat.IsZero() && time.Since(rec.lastHeartbeat) > s.opts.HeartbeatTimeout
		s.mu.Unlock()
		if stale {
			payload, _ := json.Marshal(map[string]any{"agent_id": agentID})
			_, _ = s.publishControlEvent(ctx, core.EventWorkerHeartbeatMissed, agentID, payload)
			s.terminate(rec)
			s.scheduleRestartOrDisable(ctx, rec, nil)
		}
	}
}

// checkResetRequests looks for WORKER_RESET_REQUESTED events published
// since the last check and clears disablement for any targeted worker,
// restarting it immediately. This is the only way a worker disabled by
// the restart-storm threshold (§4.5) comes back without restarting the
// supervisor process itself; an operator CLI publishes the request event.
func (s *Supervisor) checkResetRequests(ctx context.Context) {
	events, err := s.store.ListEvents(ctx, s.lastResetEventID, 500)
	if err != nil {
		return
	}
	for _, ev := range events {
		if ev.ID > s.lastResetEventID {
			s.lastResetEventID = ev.ID
		}
		if ev.Type != core.EventWorkerResetRequested || ev.TargetAgent == "" {
			continue
		}
		s.resetWorker(ctx, ev.TargetAgent)
	}
}

func (s *Supervisor) resetWorker(ctx context.Context, agentID string) {
	rec := s.get(agentID)
	if rec == nil || !rec.disabled {
		return
	}

	s.mu.Lock()
	rec.disabled = false
	rec.restartTimes = nil
	spec := rec.spec
	s.mu.Unlock()

	s.logEvent("worker_reset", agentID, rec, nil)
	if err := s.startWorker(ctx, spec); err != nil {
		s.logEvent("worker_reset_failed", agentID, rec, err)
	}
}

func (s *Supervisor) get(agentID string) *workerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[agentID]
}

// hasExited reports whether the worker's subprocess has already terminated,
// without blocking.
func (s *Supervisor) hasExited(rec *workerRecord) (bool, error) {
	select {
	case err := <-rec.waitErr:
		return true, err
	default:
		return false, nil
	}
}

// scheduleRestartOrDisable applies the sliding-window restart budget: a
// worker that has restarted MaxRestartsPerWindow times within
// RestartWindow is disabled instead of restarted again, and a
// SUPERVISOR_ALERT is raised. Otherwise it is restarted after an
// exponential backoff delay capped at RestartBackoffCap.
func (s *Supervisor) scheduleRestartOrDisable(ctx context.Context, rec *workerRecord, cause error) {
	s.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-s.opts.RestartWindow)
	kept := rec.restartTimes[:0]
	for _, t := range rec.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rec.restartTimes = kept

	if len(rec.restartTimes) >= s.opts.MaxRestartsPerWindow {
		rec.disabled = true
		rec.state = StateStopped
		s.mu.Unlock()

		payload, _ := json.Marshal(map[string]any{
			"agent_id": rec.spec.AgentID,
			"reason":   "restart_storm",
			"window_seconds": s.opts.RestartWindow.Seconds(),
			"max_restarts":    s.opts.MaxRestartsPerWindow,
		})
		_, _ = s.publishControlEvent(ctx, core.EventSupervisorAlert, rec.spec.AgentID, payload)
		_, _ = s.publishControlEvent(ctx, core.EventWorkerExited, rec.spec.AgentID, payload)
		s.logEvent("worker_disabled", rec.spec.AgentID, rec, cause)
		return
	}

	rec.restartTimes = append(rec.restartTimes, now)
	rec.restartCount++
	delay := nextBackoff(s.opts.RestartBackoffInitial, s.opts.RestartBackoffFactor, s.opts.RestartBackoffCap, rec.restartCount)
	rec.backoffNext = delay
	rec.state = StateRestarting
	spec := rec.spec
	restartCount := rec.restartCount
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{
		"agent_id":       spec.AgentID,
		"restart_count":  restartCount,
		"delay_seconds":  delay.Seconds(),
	})
	_, _ = s.publishControlEvent(ctx, core.EventWorkerRestartScheduled, spec.AgentID, payload)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := s.startWorker(ctx, spec); err != nil {
			s.logEvent("worker_restart_failed", spec.AgentID, rec, err)
			return
		}
		restartedPayload, _ := json.Marshal(map[string]any{"agent_id": spec.AgentID, "restart_count": restartCount})
		_, _ = s.publishControlEvent(ctx, core.EventWorkerRestarted, spec.AgentID, restartedPayload)
	}()
}

// nextBackoff computes the delay before the nth restart (1-indexed):
// initial * factor^(n-1), capped at cap.
func nextBackoff(initial time.Duration, factor float64, capDur time.Duration, n int) time.Duration {
	delay := float64(initial)
	for i := 1; i < n; i++ {
		delay *= factor
		if time.Duration(delay) >= capDur {
			return capDur
		}
	}
	d := time.Duration(delay)
	if d > capDur {
		return capDur
	}
	return d
}
