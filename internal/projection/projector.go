package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
)

// Reader is the read-only subset of the mailstore the materializer is
// permitted to call. Anything beyond list_events/list_tool_audit/get_event
// is a programming error, so the materializer is built against this
// interface rather than the full sqlite.MailStore.
type Reader interface {
	ListEvents(ctx context.Context, afterID int64, limit int) ([]core.Event, error)
	ListToolAudit(ctx context.Context, afterID int64, limit int) ([]core.ToolAuditEntry, error)
	GetEvent(ctx context.Context, id int64) (core.Event, error)
}

var _ Reader = (sqlite.MailStore)(nil)

// Materializer folds mailstore history into a View, one tick at a time.
type Materializer struct {
	store      Reader
	fetchLimit int
	now        func() time.Time
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithFetchLimit bounds how many rows are pulled per tick.
func WithFetchLimit(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.fetchLimit = n
		}
	}
}

// WithClock overrides the time source used for the view's timestamp
// fields, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// New builds a Materializer reading from store.
func New(store Reader, opts ...Option) *Materializer {
	m := &Materializer{store: store, fetchLimit: 100000, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick performs one fold: pull events and tool audits past the view's
// cursors, fold each in id order, and return the updated view. It never
// mutates prev; the returned View is always a fresh value.
func (m *Materializer) Tick(ctx context.Context, prev *View) (*View, error) {
	view := Normalize(cloneView(prev))

	events, err := m.store.ListEvents(ctx, view.LastSeenEventID, m.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	audits, err := m.store.ListToolAudit(ctx, view.LastSeenToolAuditID, m.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("list tool audit: %w", err)
	}
	sort.Slice(audits, func(i, j int) bool { return audits[i].ID < audits[j].ID })

	// LastSeenEventID only advances, so an event already folded in a prior
	// tick is never re-listed even after its row's status later changes.
	// Re-check every event still tracked as in-flight (PENDING or CLAIMED,
	// since a claim's lease can expire and bounce it back to PENDING) before
	// folding this tick's freshly-crossed rows, so event_queue_size reflects
	// the true current backlog instead of resetting toward zero on a tick
	// with no fresh rows.
	pending, tracked, err := m.refreshInFlight(ctx, view.PendingEventIDs)
	if err != nil {
		return nil, err
	}
	view.PendingEventIDs = tracked

	var latest *core.Event
	for i := range events {
		ev := &events[i]
		switch ev.Status {
		case core.StatusPending:
			pending++
			view.PendingEventIDs = append(view.PendingEventIDs, ev.ID)
		case core.StatusClaimed:
			view.PendingEventIDs = append(view.PendingEventIDs, ev.ID)
		}
		if latest == nil || ev.ID >= latest.ID {
			latest = ev
		}
	}

	for _, ev := range events {
		applyEvent(view, ev)
		if ev.ID > view.LastSeenEventID {
			view.LastSeenEventID = ev.ID
		}
	}
	for _, row := range audits {
		applyToolAudit(view, row)
		if row.ID > view.LastSeenToolAuditID {
			view.LastSeenToolAuditID = row.ID
		}
	}

	ts := m.now().UTC().Format(time.RFC3339Nano)
	view.Timestamp = ts
	view.LastUpdatedAt = ts
	view.EventQueueSize = pending
	if latest != nil {
		view.CurrentEvent = &CurrentEvent{
			Type:      latest.Type,
			Timestamp: latest.Ts.UTC().Format(time.RFC3339Nano),
			OriginID:  latest.OriginID,
			Payload:   nonEmptyOrNull(latest.Payload),
		}
	}
	view.recomputeDerived(view.Running)

	return view, nil
}

// refreshInFlight re-fetches the current status of every event id previously
// tracked as in-flight and returns the still-PENDING count alongside the
// surviving id list (ids that resolved to DONE/FAILED/DEAD are dropped; a
// deleted row, which should not happen in practice, is dropped rather than
// failing the tick).
func (m *Materializer) refreshInFlight(ctx context.Context, ids []int64) (int, []int64, error) {
	pending := 0
	surviving := make([]int64, 0, len(ids))
	for _, id := range ids {
		ev, err := m.store.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return 0, nil, fmt.Errorf("recheck in-flight event %d: %w", id, err)
		}
		switch ev.Status {
		case core.StatusPending:
			pending++
			surviving = append(surviving, id)
		case core.StatusClaimed:
			surviving = append(surviving, id)
		}
	}
	return pending, surviving, nil
}

func applyEvent(view *View, ev core.Event) {
	eventType := strings.ToUpper(strings.TrimSpace(ev.Type))
	if eventType != "" {
		view.EventTypeCounts[eventType] = view.EventTypeCounts[eventType] + 1
	}
	view.EventsProcessed++

	switch eventType {
	case core.EventSupervisorStart:
		view.Running = true
	case core.EventSupervisorStop:
		view.Running = false
	}

	workerID := workerIDFor(ev)
	if workerID == "" {
		return
	}
	w := view.worker(workerID)

	switch eventType {
	case core.EventWorkerStarted:
		w.Present = true
		w.State = WorkerActive
	case core.EventWorkerRestartScheduled:
		w.State = WorkerRestarting
	case core.EventWorkerRestarted:
		w.Present = true
		w.State = WorkerActive
		w.RestartCount++
	case core.EventWorkerExited:
		w.Present = false
		w.State = WorkerOffline
	case core.EventWorkerHeartbeatMissed:
		w.MissedHeartbeatCount++
		if w.MissedHeartbeatCount >= missedHeartbeatOfflineThreshold {
			w.State = WorkerOffline
			w.Present = false
		}
	}

	w.LastEventType = eventType
	w.LastEventAt = ev.Ts.UTC().Format(time.RFC3339Nano)
	w.LastSeenEventID = ev.ID
}

// workerIDFor identifies which worker an event is "about": its
// TargetAgent if routed, else its OriginID for self-reported events like
// WORKER_HEARTBEAT and WORKER_EXITED.
func workerIDFor(ev core.Event) string {
	id := ev.TargetAgent
	if id == "" {
		id = ev.OriginID
	}
	return strings.ToLower(strings.TrimSpace(id))
}

func applyToolAudit(view *View, row core.ToolAuditEntry) {
	if row.Allowed {
		view.ToolAuditCounts.Allowed++
	} else {
		view.ToolAuditCounts.Denied++
	}
}

func cloneView(v *View) *View {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out View
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

func nonEmptyOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
