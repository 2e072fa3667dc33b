package inspection

import "testing"

func buildTimeline(n int) []TimelineEntry {
	entries := make([]TimelineEntry, n)
	for i := range entries {
		entries[i] = TimelineEntry{EntryType: "X", EventID: int64(i)}
	}
	return entries
}

func TestPaginateDefaultsToFirstPage(t *testing.T) {
	page := Paginate(buildTimeline(10), 4, "")
	if page.Cursor != "0" {
		t.Fatalf("expected cursor=0, got %q", page.Cursor)
	}
	if len(page.Items) != 4 || page.Items[0].EventID != 0 {
		t.Fatalf("unexpected first page: %+v", page.Items)
	}
	if page.NextCursor == nil || *page.NextCursor != "4" {
		t.Fatalf("expected next_cursor=4, got %v", page.NextCursor)
	}
	if page.Total != 10 {
		t.Fatalf("expected total=10, got %d", page.Total)
	}
}

func TestPaginateFollowsNextCursor(t *testing.T) {
	first := Paginate(buildTimeline(10), 4, "")
	second := Paginate(buildTimeline(10), 4, *first.NextCursor)

	if second.Cursor != "4" || second.Items[0].EventID != 4 {
		t.Fatalf("unexpected second page: cursor=%q items=%+v", second.Cursor, second.Items)
	}
	if second.NextCursor == nil || *second.NextCursor != "8" {
		t.Fatalf("expected next_cursor=8, got %v", second.NextCursor)
	}
}

func TestPaginateLastPageHasNoNextCursor(t *testing.T) {
	page := Paginate(buildTimeline(10), 4, "8")
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 remaining items, got %d", len(page.Items))
	}
	if page.NextCursor != nil {
		t.Fatalf("expected no next_cursor on the last page, got %v", *page.NextCursor)
	}
}

func TestPaginateClampsLimitToBounds(t *testing.T) {
	page := Paginate(buildTimeline(10), 0, "")
	if len(page.Items) != 1 {
		t.Fatalf("expected limit clamped up to 1, got %d items", len(page.Items))
	}

	page = Paginate(buildTimeline(600), 10000, "")
	if len(page.Items) != maxPageLimit {
		t.Fatalf("expected limit clamped down to %d, got %d", maxPageLimit, len(page.Items))
	}
}

func TestPaginateIgnoresGarbageCursor(t *testing.T) {
	page := Paginate(buildTimeline(10), 5, "not-a-number")
	if page.Cursor != "0" {
		t.Fatalf("expected garbage cursor to fall back to 0, got %q", page.Cursor)
	}
}

func TestPaginateCursorBeyondTotalYieldsEmptyPage(t *testing.T) {
	page := Paginate(buildTimeline(5), 5, "100")
	if len(page.Items) != 0 {
		t.Fatalf("expected empty page past the end, got %+v", page.Items)
	}
	if page.NextCursor != nil {
		t.Fatalf("expected no next_cursor past the end")
	}
}

func TestEntityTimelineFiltersByEntityID(t *testing.T) {
	timeline := []TimelineEntry{
		{EntryType: "A", EntityIDs: []string{"recon"}},
		{EntryType: "B", EntityIDs: []string{"forge"}},
		{EntryType: "C", EntityIDs: []string{"recon", "forge"}},
	}
	filtered := EntityTimeline(timeline, "RECON")
	if len(filtered) != 2 {
		t.Fatalf("expected 2 entries mentioning recon, got %d", len(filtered))
	}
}
