package sqlite

import (
	"context"
	"log"
	"time"
)

// Broadcaster is the interface the sweeper notifies when it reclaims
// leases, kept decoupled from any particular transport.
type Broadcaster interface {
	Broadcast(event any)
}

// LeaseSweeper runs a background goroutine that periodically reclaims
// expired leases, so events become claimable again even when no consumer
// happens to be polling at the moment a lease lapses.
type LeaseSweeper struct {
	store    MailStore
	bus      Broadcaster
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLeaseSweeper creates a sweeper. Call Start to begin sweeping.
func NewLeaseSweeper(store MailStore, bus Broadcaster, interval time.Duration) *LeaseSweeper {
	return &LeaseSweeper{store: store, bus: bus, interval: interval, done: make(chan struct{})}
}

// Start launches the background sweep goroutine.
func (sw *LeaseSweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *LeaseSweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *LeaseSweeper) runSweep(ctx context.Context) {
	reclaimed, err := sw.store.SweepExpiredLeases(ctx)
	if err != nil {
		log.Printf("lease sweeper: %v", err)
		return
	}
	if len(reclaimed) == 0 {
		return
	}
	log.Printf("lease sweeper: reclaimed %d expired lease(s)", len(reclaimed))
	if sw.bus != nil {
		for _, id := range reclaimed {
			sw.bus.Broadcast(map[string]any{
				"type":     "LEASE_RECLAIMED",
				"event_id": id,
			})
		}
	}
}
