// Package projection folds the mailstore's append-only event and tool-audit
// history into a single materialized view document, deterministically and
// without ever writing back to the mailstore.
package projection

import (
	"encoding/json"
	"strings"

	"modernc.org/mathutil"
)

const SchemaVersion = 1

// WorkerState is the lifecycle state of one worker as seen by the
// projection, distinct from supervisor.WorkerState: the projection derives
// this purely from the event stream, never from in-process state.
type WorkerState string

const (
	WorkerIdle       WorkerState = "IDLE"
	WorkerActive     WorkerState = "ACTIVE"
	WorkerRestarting WorkerState = "RESTARTING"
	WorkerOffline    WorkerState = "OFFLINE"
)

const missedHeartbeatOfflineThreshold = 2

// CurrentEvent is a snapshot of the newest observed event.
type CurrentEvent struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	OriginID  string          `json:"origin_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ToolAuditCounts tallies gateway decisions.
type ToolAuditCounts struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// WorkerView is the per-worker slice of the view, derived purely from the
// worker-targeting event table in spec §4.6.
type WorkerView struct {
	Present              bool        `json:"present"`
	State                WorkerState `json:"state"`
	LastEventType        string      `json:"last_event_type"`
	LastEventAt          string      `json:"last_event_at"`
	RestartCount         int         `json:"restart_count"`
	MissedHeartbeatCount int         `json:"missed_heartbeat_count"`
	LastSeenEventID      int64       `json:"last_seen_event_id"`
}

// Derived holds values computed from other view fields rather than folded
// directly from events.
type Derived struct {
	OfficeMode  string  `json:"office_mode"`
	StressLevel float64 `json:"stress_level"`
}

// View is the single JSON document the materializer publishes.
type View struct {
	SchemaVersion       int                    `json:"schema_version"`
	Timestamp           string                 `json:"timestamp"`
	LastUpdatedAt        string                 `json:"last_updated_at"`
	LastSeenEventID      int64                  `json:"last_seen_event_id"`
	LastSeenToolAuditID  int64                  `json:"last_seen_tool_audit_id"`
	Running              bool                   `json:"running"`
	EventQueueSize       int                    `json:"event_queue_size"`
	// PendingEventIDs are ids of events last observed as PENDING or CLAIMED,
	// re-checked each tick since their rows have already fallen behind
	// LastSeenEventID and will never be re-listed otherwise.
	PendingEventIDs      []int64                `json:"pending_event_ids"`
	CurrentEvent         *CurrentEvent          `json:"current_event"`
	EventsProcessed      int64                  `json:"events_processed"`
	EventTypeCounts      map[string]int64       `json:"event_type_counts"`
	ToolAuditCounts      ToolAuditCounts        `json:"tool_audit_counts"`
	Workers              map[string]*WorkerView `json:"workers"`
	Derived              Derived                `json:"derived"`
}

// Empty returns the zero-value view a fresh materializer starts from.
func Empty() *View {
	return &View{
		SchemaVersion:   SchemaVersion,
		EventTypeCounts: map[string]int64{},
		Workers:         map[string]*WorkerView{},
	}
}

// Normalize fills in defaults for any missing map fields, mirroring the
// defensive reconstruction the reference view store applies on every load
// so a hand-edited or partially-written view file never panics a fold.
func Normalize(v *View) *View {
	if v == nil {
		return Empty()
	}
	if v.SchemaVersion <= 0 {
		v.SchemaVersion = SchemaVersion
	}
	if v.EventTypeCounts == nil {
		v.EventTypeCounts = map[string]int64{}
	}
	if v.Workers == nil {
		v.Workers = map[string]*WorkerView{}
	}
	if v.LastSeenEventID < 0 {
		v.LastSeenEventID = 0
	}
	if v.LastSeenToolAuditID < 0 {
		v.LastSeenToolAuditID = 0
	}
	if v.EventQueueSize < 0 {
		v.EventQueueSize = 0
	}
	return v
}

func (v *View) worker(id string) *WorkerView {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return nil
	}
	w, ok := v.Workers[id]
	if !ok {
		w = &WorkerView{State: WorkerIdle}
		v.Workers[id] = w
	}
	return w
}

// recomputeDerived sets Derived from the rest of the view. StressLevel is
// min(event_queue_size/25, 1); the division is reduced to an integer min
// against the 25-item threshold before converting to float, so the result
// never depends on floating-point comparison order.
func (v *View) recomputeDerived(running bool) {
	mode := "PAUSED"
	if running {
		mode = "RUNNING"
	}
	bounded := mathutil.Min(v.EventQueueSize, 25)
	v.Derived = Derived{
		OfficeMode:  mode,
		StressLevel: float64(bounded) / 25.0,
	}
}
