package workerrt

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
)

// WorkerOptions configures the claim/heartbeat loop.
type WorkerOptions struct {
	ConsumerID        string
	TargetAgent       string
	IncludeUnrouted   bool
	LeaseSeconds      int
	ClaimPollInterval time.Duration
	HeartbeatInterval time.Duration
}

// Worker runs a Runtime's claim -> handle -> ack|fail loop until its context
// is canceled.
type Worker struct {
	runtime *Runtime
	store   sqlite.MailStore
	opts    WorkerOptions
}

// NewWorker builds a Worker around runtime.
func NewWorker(runtime *Runtime, opts WorkerOptions) *Worker {
	if opts.ClaimPollInterval <= 0 {
		opts.ClaimPollInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Second
	}
	if opts.LeaseSeconds <= 0 {
		opts.LeaseSeconds = 15
	}
	return &Worker{runtime: runtime, store: runtime.Store, opts: opts}
}

// Run blocks, claiming and processing events, until ctx is canceled. Never
// acks then republishes: a lease-lost ack failure is logged and the loop
// simply claims the next event rather than retrying the stale one.
func (w *Worker) Run(ctx context.Context) error {
	nextHeartbeat := time.Now()
	ticker := time.NewTicker(w.opts.ClaimPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if now := time.Now(); !now.Before(nextHeartbeat) {
			if _, err := w.store.Publish(ctx, core.EventWorkerHeartbeat, w.runtime.AgentID, nil, "", "", ""); err != nil {
				log.Printf("worker %s: heartbeat publish failed: %v", w.runtime.AgentID, err)
			}
			nextHeartbeat = now.Add(w.opts.HeartbeatInterval)
		}

		ev, err := w.store.Claim(ctx, sqlite.ClaimOptions{
			ConsumerID:      w.opts.ConsumerID,
			TargetAgent:     w.opts.TargetAgent,
			IncludeUnrouted: w.opts.IncludeUnrouted,
			LeaseSeconds:    w.opts.LeaseSeconds,
		})
		if err != nil {
			log.Printf("worker %s: claim failed: %v", w.runtime.AgentID, err)
			w.sleep(ctx)
			continue
		}
		if ev == nil {
			w.sleep(ctx)
			continue
		}

		result, handleErr := w.runtime.HandleEvent(ctx, *ev)
		if handleErr != nil {
			if failErr := w.store.Fail(ctx, ev.ID, w.opts.ConsumerID, handleErr.Error(), true); failErr != nil && !errors.Is(failErr, context.Canceled) {
				log.Printf("worker %s: fail(event=%d) failed: %v", w.runtime.AgentID, ev.ID, failErr)
			}
			continue
		}

		resultJSON, _ := json.Marshal(result)
		if err := w.store.Ack(ctx, ev.ID, w.opts.ConsumerID, resultJSON); err != nil {
			// The event was already handled; a lease we've lost means another
			// consumer now owns it, so we must not fail() it out from under
			// them. Log and move on.
			log.Printf("worker %s: ack(event=%d) failed: %v", w.runtime.AgentID, ev.ID, err)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.opts.ClaimPollInterval):
	}
}
