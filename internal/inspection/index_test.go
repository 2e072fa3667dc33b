package inspection

import (
	"context"
	"testing"
	"time"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/projection"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildEntitySummaryMirrorsProjectionWorkerView(t *testing.T) {
	view := projection.Empty()
	view.Timestamp = "2026-01-01T00:00:00Z"
	view.Workers["recon"] = &projection.WorkerView{
		Present:              true,
		State:                projection.WorkerActive,
		LastEventType:        core.EventWorkerStarted,
		LastEventAt:          "2026-01-01T00:00:00Z",
		RestartCount:         2,
		MissedHeartbeatCount: 1,
	}

	idx := Build(view, nil, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))

	summary, ok := idx.Entities["recon"]
	if !ok {
		t.Fatalf("expected entity summary for recon")
	}
	if summary.State != string(projection.WorkerActive) || !summary.Present {
		t.Fatalf("unexpected entity state: %+v", summary)
	}
	if summary.RestartCount != 2 || summary.MissedHeartbeatCount != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.AgeSeconds == nil || *summary.AgeSeconds != 60 {
		t.Fatalf("expected age_seconds=60, got %v", summary.AgeSeconds)
	}
	if len(idx.EntityIDs) != 1 || idx.EntityIDs[0] != "recon" {
		t.Fatalf("expected entity_ids=[recon], got %v", idx.EntityIDs)
	}
	if idx.IndexHash == "" {
		t.Fatalf("expected a non-empty index hash")
	}
}

func TestBuildOfficeTimelineSortsByEventIDAndTagsEntities(t *testing.T) {
	events := []core.Event{
		{ID: 3, Type: core.EventWorkerHeartbeat, OriginID: "forge", Ts: time.Unix(3, 0)},
		{ID: 1, Type: core.EventSupervisorStart, OriginID: "supervisor", Ts: time.Unix(1, 0)},
		{ID: 2, Type: core.EventWorkerStarted, OriginID: "supervisor", TargetAgent: "recon", Ts: time.Unix(2, 0)},
	}

	idx := Build(projection.Empty(), events, time.Now())

	if len(idx.OfficeTimeline) != 3 {
		t.Fatalf("expected 3 timeline entries, got %d", len(idx.OfficeTimeline))
	}
	if idx.OfficeTimeline[0].EventID != 1 || idx.OfficeTimeline[1].EventID != 2 || idx.OfficeTimeline[2].EventID != 3 {
		t.Fatalf("expected timeline sorted by event id, got %+v", idx.OfficeTimeline)
	}
	reconEntry := idx.OfficeTimeline[1]
	if !containsID(reconEntry.EntityIDs, "recon") || !containsID(reconEntry.EntityIDs, "supervisor") {
		t.Fatalf("expected WORKER_STARTED entry tagged with both origin and target, got %v", reconEntry.EntityIDs)
	}
}

func TestBuildSkipsBlankEventTypes(t *testing.T) {
	events := []core.Event{{ID: 1, Type: "  ", OriginID: "recon", Ts: time.Now()}}
	idx := Build(projection.Empty(), events, time.Now())
	if len(idx.OfficeTimeline) != 0 {
		t.Fatalf("expected blank event types to be skipped, got %+v", idx.OfficeTimeline)
	}
}

func TestIndexHashIsStableForIdenticalInput(t *testing.T) {
	events := []core.Event{{ID: 1, Type: "SOMETHING", OriginID: "recon", Ts: time.Unix(0, 0)}}
	view := projection.Empty()
	view.Timestamp = "2026-01-01T00:00:00Z"

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Build(view, events, now)
	b := Build(view, events, now)

	if a.IndexHash != b.IndexHash {
		t.Fatalf("expected identical hashes for identical input, got %q vs %q", a.IndexHash, b.IndexHash)
	}
}

func TestIndexHashChangesWhenTimelineChanges(t *testing.T) {
	view := projection.Empty()
	now := time.Now()

	a := Build(view, []core.Event{{ID: 1, Type: "A", OriginID: "recon", Ts: now}}, now)
	b := Build(view, []core.Event{{ID: 1, Type: "B", OriginID: "recon", Ts: now}}, now)

	if a.IndexHash == b.IndexHash {
		t.Fatalf("expected different hashes for different timelines")
	}
}

func TestTickBuildsAndPersistsIndexFromLiveStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Publish(ctx, core.EventWorkerStarted, "supervisor", nil, "recon", "", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}

	dir := t.TempDir()
	idxStore := NewStore(dir + "/inspection.json")
	view := projection.Empty()
	view.Workers["recon"] = &projection.WorkerView{Present: true, State: projection.WorkerActive}

	if err := Tick(ctx, store, idxStore, view, 0, time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	loaded, err := idxStore.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.OfficeTimeline) != 1 {
		t.Fatalf("expected 1 persisted timeline entry, got %d", len(loaded.OfficeTimeline))
	}
	if loaded.IndexHash == "" {
		t.Fatalf("expected persisted index to carry a hash")
	}
}
