package inspection

import (
	"context"
	"fmt"
	"time"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/projection"
)

// EventLister is the read-only dependency this package needs to rebuild
// the office timeline; projection.Reader satisfies it directly.
type EventLister interface {
	ListEvents(ctx context.Context, afterID int64, limit int) ([]core.Event, error)
}

// Tick rebuilds the full index from scratch against the current view and
// the entire event history up to fetchLimit rows, then persists it. The
// index is recomputed wholesale each tick rather than folded
// incrementally: its shape (timeline slices, per-entity summaries) is
// cheap to rebuild and does not carry the same cursor state as the view.
func Tick(ctx context.Context, events EventLister, store *Store, view *projection.View, fetchLimit int, now time.Time) error {
	if fetchLimit <= 0 {
		fetchLimit = 100000
	}
	all, err := events.ListEvents(ctx, 0, fetchLimit)
	if err != nil {
		return fmt.Errorf("list events for inspection index: %w", err)
	}

	idx := Build(view, all, now)
	return store.Save(idx)
}
