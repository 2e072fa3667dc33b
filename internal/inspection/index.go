// Package inspection builds the bounded, paginated entity and timeline
// index the observability surface reads alongside the projection view. It
// derives everything from the projection view and the raw event stream;
// it never touches an external governance ledger, which spec §1 places
// out of scope for this core.
package inspection

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/projection"
)

const (
	entityTimelineDefaultLimit = 25
	officeTimelineDefaultLimit = 50
)

// TimelineEntry is one row of the office timeline, sourced from a single
// raw event.
type TimelineEntry struct {
	EntryType string          `json:"entry_type"`
	Timestamp string          `json:"timestamp"`
	EventID   int64           `json:"event_id"`
	EntityIDs []string        `json:"entity_ids"`
	Payload   json.RawMessage `json:"payload"`
}

// EntitySummary is the per-worker slice of the index.
type EntitySummary struct {
	ID                   string  `json:"id"`
	EntityType           string  `json:"entity_type"`
	Role                 string  `json:"role"`
	Present              bool    `json:"present"`
	State                string  `json:"state"`
	AgeSeconds           *float64 `json:"age_seconds"`
	LastEventType        string  `json:"last_event_type"`
	LastEventAt          string  `json:"last_event_at"`
	RestartCount         int     `json:"restart_count"`
	MissedHeartbeatCount int     `json:"missed_heartbeat_count"`
	TimelineTotal        int     `json:"timeline_total"`
}

// CursorState advertises the default page sizes a caller should use when
// it omits an explicit limit.
type CursorState struct {
	EntityTimelineDefaultLimit int `json:"entity_timeline_default_limit"`
	OfficeTimelineDefaultLimit int `json:"office_timeline_default_limit"`
}

// Index is the single JSON document this package publishes.
type Index struct {
	GeneratedAt    string                    `json:"generated_at"`
	Entities       map[string]*EntitySummary `json:"entities"`
	EntityIDs      []string                  `json:"entity_ids"`
	OfficeTimeline []TimelineEntry           `json:"office_timeline"`
	CursorState    CursorState               `json:"cursor_state"`
	IndexHash      string                    `json:"index_hash"`
}

// Build derives an Index from a projection view and the id-ordered event
// stream it was folded from. events need not be sorted; Build sorts them.
func Build(view *projection.View, events []core.Event, now time.Time) *Index {
	if view == nil {
		view = projection.Empty()
	}

	sorted := append([]core.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	timeline := buildOfficeTimeline(sorted)

	entities := make(map[string]*EntitySummary, len(view.Workers))
	for id, w := range view.Workers {
		entities[id] = buildEntitySummary(id, w, timeline, now)
	}

	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	idx := &Index{
		GeneratedAt:    view.Timestamp,
		Entities:       entities,
		EntityIDs:      ids,
		OfficeTimeline: timeline,
		CursorState: CursorState{
			EntityTimelineDefaultLimit: entityTimelineDefaultLimit,
			OfficeTimelineDefaultLimit: officeTimelineDefaultLimit,
		},
	}
	idx.IndexHash = CanonicalHash(idx)
	return idx
}

func buildEntitySummary(id string, w *projection.WorkerView, timeline []TimelineEntry, now time.Time) *EntitySummary {
	total := 0
	for _, entry := range timeline {
		if containsID(entry.EntityIDs, id) {
			total++
		}
	}

	var age *float64
	if w.LastEventAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, w.LastEventAt); err == nil {
			seconds := now.Sub(ts).Seconds()
			age = &seconds
		}
	}

	return &EntitySummary{
		ID:                   id,
		EntityType:           "agent",
		Role:                 "worker",
		Present:              w.Present,
		State:                string(w.State),
		AgeSeconds:           age,
		LastEventType:        w.LastEventType,
		LastEventAt:          w.LastEventAt,
		RestartCount:         w.RestartCount,
		MissedHeartbeatCount: w.MissedHeartbeatCount,
		TimelineTotal:        total,
	}
}

func buildOfficeTimeline(events []core.Event) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(events))
	for _, ev := range events {
		eventType := strings.ToUpper(strings.TrimSpace(ev.Type))
		if eventType == "" {
			continue
		}
		timeline = append(timeline, TimelineEntry{
			EntryType: eventType,
			Timestamp: ev.Ts.UTC().Format(time.RFC3339Nano),
			EventID:   ev.ID,
			EntityIDs: eventEntityIDs(ev),
			Payload:   nonEmptyOrNull(ev.Payload),
		})
	}
	return timeline
}

func eventEntityIDs(ev core.Event) []string {
	seen := map[string]struct{}{}
	add := func(id string) {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	add(ev.OriginID)
	add(ev.TargetAgent)

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func nonEmptyOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
