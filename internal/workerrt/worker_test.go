package workerrt

import (
	"context"
	"testing"
	"time"

	"github.com/coredrift/substrate/internal/core"
)

func TestWorkerRunProcessesAndAcksEvent(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()

	id, err := store.Publish(ctx, "SOMETHING", "origin", nil, "recon", "", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	w := NewWorker(rt, WorkerOptions{
		ConsumerID:        "c1",
		TargetAgent:       "recon",
		LeaseSeconds:      5,
		ClaimPollInterval: 10 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = w.Run(runCtx)
		close(done)
	}()

	deadline := time.After(400 * time.Millisecond)
	for {
		ev, err := store.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("get event: %v", err)
		}
		if ev.Status == core.StatusDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("event never reached DONE, last status=%s", ev.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWorkerRunEmitsHeartbeat(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()

	w := NewWorker(rt, WorkerOptions{
		ConsumerID:        "c1",
		TargetAgent:       "recon",
		LeaseSeconds:      5,
		ClaimPollInterval: 10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = w.Run(runCtx)
		close(done)
	}()
	<-done

	events, err := store.ListEvents(ctx, 0, 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	count := 0
	for _, ev := range events {
		if ev.Type == "WORKER_HEARTBEAT" {
			count++
		}
	}
	if count == 0 {
		t.Fatalf("expected at least one WORKER_HEARTBEAT event")
	}
}
