package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coredrift/substrate/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1, err := st.Publish(ctx, "WORKER_HEARTBEAT", "forge", nil, "", "", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	id2, err := st.Publish(ctx, "WORKER_HEARTBEAT", "forge", nil, "", "", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected id2 > id1, got %d, %d", id1, id2)
	}
}

func TestClaimAckLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.Publish(ctx, "TOOL_REQUEST", "origin", []byte(`{"x":1}`), "forge", "", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c1", TargetAgent: "forge", LeaseSeconds: 30})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ev == nil || ev.ID != id {
		t.Fatalf("expected claimed event %d, got %+v", id, ev)
	}
	if ev.Status != core.StatusClaimed {
		t.Fatalf("expected CLAIMED, got %s", ev.Status)
	}

	// A second claimer should see nothing available while the lease holds.
	none, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c2", TargetAgent: "forge", LeaseSeconds: 30})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no claimable event, got %+v", none)
	}

	if err := st.Ack(ctx, id, "c1", nil); err != nil {
		t.Fatalf("ack: %v", err)
	}

	got, err := st.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != core.StatusDone {
		t.Fatalf("expected DONE, got %s", got.Status)
	}
}

func TestAckByNonHolderIsLeaseLost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.Publish(ctx, "TOOL_REQUEST", "origin", nil, "forge", "", "")
	if _, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c1", TargetAgent: "forge", LeaseSeconds: 30}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := st.Ack(ctx, id, "someone-else", nil)
	if err == nil {
		t.Fatalf("expected lease-lost error")
	}
	if !errors.Is(err, core.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

func TestLeaseReclamationAfterExpiry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.Publish(ctx, "TOOL_REQUEST", "origin", nil, "forge", "", "")
	// A negative lease duration installs a lease that is already expired.
	if _, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c1", TargetAgent: "forge", LeaseSeconds: -1}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ev, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c2", TargetAgent: "forge", LeaseSeconds: 30})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if ev == nil || ev.ID != id {
		t.Fatalf("expected reclaimed event %d, got %+v", id, ev)
	}

	if err := st.Ack(ctx, id, "c1", nil); !errors.Is(err, core.ErrLeaseLost) {
		t.Fatalf("expected original holder's ack to fail with lease-lost, got %v", err)
	}
	if err := st.Ack(ctx, id, "c2", nil); err != nil {
		t.Fatalf("second holder ack: %v", err)
	}
}

func TestFailWithRetryRequeuesUntilBudgetExhausted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.Publish(ctx, "TOOL_REQUEST", "origin", nil, "forge", "", "")

	for i := 0; i < MaxRetries; i++ {
		ev, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c1", TargetAgent: "forge", LeaseSeconds: 30})
		if err != nil || ev == nil {
			t.Fatalf("claim attempt %d: %v, %+v", i, err, ev)
		}
		if err := st.Fail(ctx, id, "c1", "boom", true); err != nil {
			t.Fatalf("fail attempt %d: %v", i, err)
		}
		got, _ := st.GetEvent(ctx, id)
		if got.Status != core.StatusPending {
			t.Fatalf("attempt %d: expected PENDING, got %s", i, got.Status)
		}
	}

	// Budget exhausted: the next failure with retry=true should land on DEAD.
	ev, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c1", TargetAgent: "forge", LeaseSeconds: 30})
	if err != nil || ev == nil {
		t.Fatalf("final claim: %v, %+v", err, ev)
	}
	if err := st.Fail(ctx, id, "c1", "boom again", true); err != nil {
		t.Fatalf("final fail: %v", err)
	}
	got, _ := st.GetEvent(ctx, id)
	if got.Status != core.StatusDead {
		t.Fatalf("expected DEAD after exhausting retry budget, got %s", got.Status)
	}
}

func TestRegisterIdempotencyKeyDetectsDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	outcome, err := st.RegisterIdempotencyKey(ctx, "k1", "recon", "RUN_CMD", nil, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if outcome != IdempotencyFresh {
		t.Fatalf("expected fresh, got %s", outcome)
	}

	outcome, err = st.RegisterIdempotencyKey(ctx, "k1", "recon", "RUN_CMD", nil, nil)
	if err != nil {
		t.Fatalf("register duplicate: %v", err)
	}
	if outcome != IdempotencyDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
}

func TestListEventsOrderedByIDAscending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, _ := st.Publish(ctx, "WORKER_HEARTBEAT", "forge", nil, "", "", "")
		ids = append(ids, id)
	}

	events, err := st.ListEvents(ctx, 0, 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != len(ids) {
		t.Fatalf("expected %d events, got %d", len(ids), len(events))
	}
	for i, ev := range events {
		if ev.ID != ids[i] {
			t.Fatalf("expected ascending order, index %d: got %d want %d", i, ev.ID, ids[i])
		}
	}

	tail, err := st.ListEvents(ctx, ids[2], 100)
	if err != nil {
		t.Fatalf("list events after cursor: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 events after cursor, got %d", len(tail))
	}
}

func TestSweepExpiredLeasesReclaimsWithoutClaim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.Publish(ctx, "TOOL_REQUEST", "origin", nil, "forge", "", "")
	if _, err := st.Claim(ctx, ClaimOptions{ConsumerID: "c1", TargetAgent: "forge", LeaseSeconds: -1}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reclaimed, err := st.SweepExpiredLeases(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != id {
		t.Fatalf("expected to reclaim %d, got %v", id, reclaimed)
	}

	got, _ := st.GetEvent(ctx, id)
	if got.Status != core.StatusPending {
		t.Fatalf("expected PENDING after sweep, got %s", got.Status)
	}
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now()
	l := core.Lease{LeaseExpiry: now.Add(-time.Second)}
	if !l.Expired(now) {
		t.Fatalf("expected lease to be expired")
	}
	l2 := core.Lease{LeaseExpiry: now.Add(time.Second)}
	if l2.Expired(now) {
		t.Fatalf("expected lease to still be active")
	}
}
