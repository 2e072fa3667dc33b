// Package supervisor spawns, monitors, and restarts per-agent worker
// subprocesses. It is the only component that starts OS processes: workers
// themselves never fork, and the gateway's RUN_CMD action is a separate,
// policy-gated concern.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/google/uuid"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/corelog"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/names"
)

// WorkerState is the supervisor's lifecycle state machine for one agent.
type WorkerState string

const (
	StateStarting   WorkerState = "STARTING"
	StateActive     WorkerState = "ACTIVE"
	StateRestarting WorkerState = "RESTARTING"
	StateStopped    WorkerState = "STOPPED"
)

// WorkerSpec names one agent the supervisor is responsible for.
type WorkerSpec struct {
	AgentID    string
	ConsumerID string
}

// Spawner starts the worker subprocess for spec and returns the started
// (but not yet waited-on) command. Supervisor.Stop and restart handling
// call cmd.Process and cmd.Wait directly, so the returned *exec.Cmd must
// already have had Start called.
type Spawner func(ctx context.Context, spec WorkerSpec) (*exec.Cmd, error)

type workerRecord struct {
	spec         WorkerSpec
	displayName  string
	cmd          *exec.Cmd
	state        WorkerState
	lastHeartbeat time.Time
	restartCount int
	backoffNext  time.Duration
	disabled     bool
	restartTimes []time.Time
	waitErr      chan error
}

// Options tunes restart and liveness behavior. Zero-value fields fall back
// to the defaults below.
type Options struct {
	HeartbeatInterval    time.Duration // cadence of SUPERVISOR_HEARTBEAT
	HeartbeatTimeout     time.Duration // WORKER_HEARTBEAT staleness before a worker is considered stuck
	ShutdownGrace        time.Duration // time between SIGTERM and SIGKILL
	StartupTimeout       time.Duration // time to wait for a worker's first heartbeat before giving up
	RestartBackoffInitial time.Duration
	RestartBackoffFactor float64
	RestartBackoffCap    time.Duration
	RestartWindow        time.Duration // sliding window for restart-storm detection
	MaxRestartsPerWindow int
	DedupeTTL            time.Duration // control-event dedupe window
	Logger               *corelog.Logger
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 2 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 4 * o.HeartbeatInterval
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 5 * time.Second
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = 10 * time.Second
	}
	if o.RestartBackoffInitial <= 0 {
		o.RestartBackoffInitial = time.Second
	}
	if o.RestartBackoffFactor <= 1 {
		o.RestartBackoffFactor = 2
	}
	if o.RestartBackoffCap <= 0 {
		o.RestartBackoffCap = 30 * time.Second
	}
	if o.RestartWindow <= 0 {
		o.RestartWindow = 60 * time.Second
	}
	if o.MaxRestartsPerWindow <= 0 {
		o.MaxRestartsPerWindow = 5
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = o.HeartbeatInterval
	}
}

// Supervisor owns the lifecycle of a fixed set of worker subprocesses.
type Supervisor struct {
	store   sqlite.MailStore
	spawn   Spawner
	opts    Options
	dedupe  *lru.LRU[string, struct{}]

	mu               sync.Mutex
	workers          map[string]*workerRecord
	lastResetEventID int64
}

// New builds a Supervisor. spawn is called once per (re)start of each
// worker; it is the only place this package touches os/exec.
func New(store sqlite.MailStore, spawn Spawner, opts Options) *Supervisor {
	opts.setDefaults()
	return &Supervisor{
		store:   store,
		spawn:   spawn,
		opts:    opts,
		dedupe:  lru.NewLRU[string, struct{}](2048, nil, opts.DedupeTTL),
		workers: make(map[string]*workerRecord),
	}
}

// Start spawns one subprocess per agent and waits, up to StartupTimeout per
// worker, for its first WORKER_HEARTBEAT before emitting WORKER_STARTED.
// This is the ordering guarantee the supervisor gives downstream: a worker
// appearing as STARTED has already proven it can claim and process events.
func (s *Supervisor) Start(ctx context.Context, specs []WorkerSpec) error {
	if _, err := s.publishControlEvent(ctx, core.EventSupervisorStart, "", nil); err != nil {
		return fmt.Errorf("publish supervisor start: %w", err)
	}

	for _, spec := range specs {
		if err := s.startWorker(ctx, spec); err != nil {
			return fmt.Errorf("start worker %s: %w", spec.AgentID, err)
		}
	}
	return nil
}

func (s *Supervisor) startWorker(ctx context.Context, spec WorkerSpec) error {
	cmd, err := s.spawn(ctx, spec)
	if err != nil {
		return err
	}

	rec := &workerRecord{
		spec:        spec,
		displayName: names.Generate(),
		cmd:         cmd,
		state:       StateStarting,
		waitErr:     make(chan error, 1),
	}
	s.mu.Lock()
	s.workers[spec.AgentID] = rec
	s.mu.Unlock()

	go func() {
		rec.waitErr <- cmd.Wait()
	}()

	s.logEvent("worker_spawn", spec.AgentID, rec, nil)

	deadline := time.Now().Add(s.opts.StartupTimeout)
	for time.Now().Before(deadline) {
		if ts, ok := s.latestHeartbeat(ctx, spec.AgentID, rec.cmd); ok {
			s.mu.Lock()
			rec.state = StateActive
			rec.lastHeartbeat = ts
			s.mu.Unlock()
			payload, _ := json.Marshal(map[string]any{"agent_id": spec.AgentID, "pid": cmd.Process.Pid})
			if _, err := s.publishControlEvent(ctx, core.EventWorkerStarted, spec.AgentID, payload); err != nil {
				return err
			}
			s.logEvent("worker_started", spec.AgentID, rec, nil)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("worker %s did not heartbeat within %s", spec.AgentID, s.opts.StartupTimeout)
}

// latestHeartbeat reports the most recent WORKER_HEARTBEAT event's
// timestamp for agentID, scanning recently published events. A dead
// process (exited before ever heartbeating) is never mistaken for live:
// callers cross-reference cmd's wait channel separately.
func (s *Supervisor) latestHeartbeat(ctx context.Context, agentID string, cmd *exec.Cmd) (time.Time, bool) {
	events, err := s.store.ListEvents(ctx, 0, 500)
	if err != nil {
		return time.Time{}, false
	}
	var latest time.Time
	found := false
	for _, ev := range events {
		if ev.Type != core.EventWorkerHeartbeat || ev.OriginID != agentID {
			continue
		}
		if !found || ev.Ts.After(latest) {
			latest = ev.Ts
			found = true
		}
	}
	return latest, found
}

// Run drives the heartbeat and monitoring loop until ctx is canceled, then
// stops every worker gracefully before returning.
func (s *Supervisor) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = s.opts.HeartbeatInterval / 2
		if pollInterval <= 0 {
			pollInterval = 500 * time.Millisecond
		}
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	nextHeartbeat := time.Now()
	for {
		select {
		case <-ctx.Done():
			return s.Stop(context.Background())
		case now := <-ticker.C:
			if !now.Before(nextHeartbeat) {
				if err := s.publishHeartbeats(ctx); err != nil {
					s.logEvent("heartbeat_publish_failed", "", nil, err)
				}
				nextHeartbeat = now.Add(s.opts.HeartbeatInterval)
			}
			s.monitorWorkers(ctx)
			s.checkResetRequests(ctx)
		}
	}
}

func (s *Supervisor) publishHeartbeats(ctx context.Context) error {
	for _, agentID := range s.agentIDs() {
		if _, err := s.publishControlEvent(ctx, core.EventSupervisorHeartbeat, agentID, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) agentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop sends a graceful termination signal to every running worker,
// escalating to a forced kill after ShutdownGrace, then emits
// SUPERVISOR_STOP.
func (s *Supervisor) Stop(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, rec := range s.snapshot() {
		if rec.state == StateStopped {
			continue
		}
		wg.Add(1)
		go func(rec *workerRecord) {
			defer wg.Done()
			s.terminate(rec)
		}(rec)
	}
	wg.Wait()

	_, err := s.publishControlEvent(ctx, core.EventSupervisorStop, "", nil)
	return err
}

func (s *Supervisor) terminate(rec *workerRecord) {
	if rec.cmd == nil || rec.cmd.Process == nil {
		return
	}
	_ = signalGraceful(rec.cmd.Process)
	select {
	case <-rec.waitErr:
	case <-time.After(s.opts.ShutdownGrace):
		_ = signalKill(rec.cmd.Process)
		<-rec.waitErr
	}
	s.mu.Lock()
	rec.state = StateStopped
	s.mu.Unlock()
}

func (s *Supervisor) snapshot() []*workerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*workerRecord, 0, len(s.workers))
	for _, rec := range s.workers {
		out = append(out, rec)
	}
	return out
}

// publishControlEvent applies the dual-layer dedupe: a cheap in-memory
// check first (reset on every supervisor restart), then a durable
// idempotency-key reservation that survives restarts and catches races
// between supervisor instances. The in-memory entry is only recorded once
// the durable gate has been consulted, so a process crash between the two
// never leaves the memory map out of sync with what was actually published.
func (s *Supervisor) publishControlEvent(ctx context.Context, eventType, agentID string, payload []byte) (bool, error) {
	bucket := time.Now().Truncate(s.opts.DedupeTTL).Unix()
	key := fmt.Sprintf("%s:%s:%d", eventType, agentID, bucket)

	if _, ok := s.dedupe.Get(key); ok {
		return false, nil
	}

	outcome, err := s.store.RegisterIdempotencyKey(ctx, key, "supervisor", eventType, nil, nil)
	if err != nil {
		return false, err
	}
	if outcome == sqlite.IdempotencyDuplicate {
		s.dedupe.Add(key, struct{}{})
		return false, nil
	}

	if _, err := s.store.Publish(ctx, eventType, "supervisor", payload, agentID, uuid.NewString(), ""); err != nil {
		return false, err
	}
	s.dedupe.Add(key, struct{}{})
	return true, nil
}

func (s *Supervisor) logEvent(event, agentID string, rec *workerRecord, err error) {
	if s.opts.Logger == nil {
		return
	}
	fields := map[string]any{"agent_id": agentID}
	if rec != nil {
		fields["display_name"] = rec.displayName
		fields["state"] = rec.state
		fields["restart_count"] = rec.restartCount
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	_ = s.opts.Logger.Log(time.Now(), event, fields)
}

// WorkerStates returns a point-in-time snapshot for observability callers.
func (s *Supervisor) WorkerStates() map[string]WorkerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]WorkerSnapshot, len(s.workers))
	for id, rec := range s.workers {
		pid := 0
		if rec.cmd != nil && rec.cmd.Process != nil {
			pid = rec.cmd.Process.Pid
		}
		out[id] = WorkerSnapshot{
			AgentID:       id,
			DisplayName:   rec.displayName,
			Pid:           pid,
			State:         rec.state,
			LastHeartbeat: rec.lastHeartbeat,
			RestartCount:  rec.restartCount,
			Disabled:      rec.disabled,
		}
	}
	return out
}

// WorkerSnapshot is the read-only view of a worker's lifecycle state.
type WorkerSnapshot struct {
	AgentID       string
	DisplayName   string
	Pid           int
	State         WorkerState
	LastHeartbeat time.Time
	RestartCount  int
	Disabled      bool
}
