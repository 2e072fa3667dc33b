package projection

import (
	"context"
	"time"
)

// Run ticks the materializer against store at pollInterval until ctx is
// canceled, persisting each successful fold to the backing Store. It never
// calls claim, ack, fail, or publish: the Reader interface its
// Materializer is built against makes that a compile-time guarantee, not
// just a runtime discipline.
func Run(ctx context.Context, m *Materializer, store *Store, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := tickOnce(ctx, m, store); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func tickOnce(ctx context.Context, m *Materializer, store *Store) error {
	prev, err := store.Load()
	if err != nil {
		return err
	}
	next, err := m.Tick(ctx, prev)
	if err != nil {
		return err
	}
	_, err = store.Save(next)
	return err
}
