package sqlite

import (
	"context"
	"time"

	"github.com/coredrift/substrate/internal/core"
)

// MailStore is the interface the rest of the core depends on, satisfied by
// both *Store directly and *ResilientStore.
type MailStore interface {
	Publish(ctx context.Context, eventType, originID string, payload []byte, targetAgent, correlationID, justification string) (int64, error)
	Claim(ctx context.Context, opts ClaimOptions) (*core.Event, error)
	SweepExpiredLeases(ctx context.Context) ([]int64, error)
	Ack(ctx context.Context, eventID int64, consumerID string, result []byte) error
	Fail(ctx context.Context, eventID int64, consumerID, errMsg string, retry bool) error
	ListEvents(ctx context.Context, afterID int64, limit int) ([]core.Event, error)
	GetEvent(ctx context.Context, id int64) (core.Event, error)
	StatusCounts(ctx context.Context) (map[core.EventStatus]int, error)
	RecordToolAudit(ctx context.Context, entry core.ToolAuditEntry) (int64, error)
	ListToolAudit(ctx context.Context, afterID int64, limit int) ([]core.ToolAuditEntry, error)
	RegisterIdempotencyKey(ctx context.Context, key, agentID, actionType string, eventID *int64, result []byte) (IdempotencyOutcome, error)
	GetIdempotencyRecord(ctx context.Context, key string) (core.IdempotencyRecord, error)
	Close() error
}

var _ MailStore = (*Store)(nil)
var _ MailStore = (*ResilientStore)(nil)

// ResilientStore wraps every Store method with CircuitBreaker + RetryOnDBLock
// to survive the transient "database is locked" errors a WAL-mode sqlite
// database can surface under contention from concurrent workers.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient wraps inner with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// CircuitBreakerState reports the breaker's current state, for diagnostics.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

// CircuitBreaker exposes the underlying breaker so callers can install an
// SetOnTransition observer (e.g. to log state changes) without ResilientStore
// itself depending on a logging package.
func (r *ResilientStore) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

func (r *ResilientStore) Publish(ctx context.Context, eventType, originID string, payload []byte, targetAgent, correlationID, justification string) (int64, error) {
	var result int64
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.Publish(ctx, eventType, originID, payload, targetAgent, correlationID, justification)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) Claim(ctx context.Context, opts ClaimOptions) (*core.Event, error) {
	var result *core.Event
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.Claim(ctx, opts)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) SweepExpiredLeases(ctx context.Context) ([]int64, error) {
	var result []int64
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.SweepExpiredLeases(ctx)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) Ack(ctx context.Context, eventID int64, consumerID string, result []byte) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.Ack(ctx, eventID, consumerID, result)
		})
	})
}

func (r *ResilientStore) Fail(ctx context.Context, eventID int64, consumerID, errMsg string, retry bool) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.Fail(ctx, eventID, consumerID, errMsg, retry)
		})
	})
}

func (r *ResilientStore) ListEvents(ctx context.Context, afterID int64, limit int) ([]core.Event, error) {
	var result []core.Event
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ListEvents(ctx, afterID, limit)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) GetEvent(ctx context.Context, id int64) (core.Event, error) {
	var result core.Event
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.GetEvent(ctx, id)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) StatusCounts(ctx context.Context) (map[core.EventStatus]int, error) {
	var result map[core.EventStatus]int
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.StatusCounts(ctx)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) RecordToolAudit(ctx context.Context, entry core.ToolAuditEntry) (int64, error) {
	var result int64
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.RecordToolAudit(ctx, entry)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ListToolAudit(ctx context.Context, afterID int64, limit int) ([]core.ToolAuditEntry, error) {
	var result []core.ToolAuditEntry
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ListToolAudit(ctx, afterID, limit)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) RegisterIdempotencyKey(ctx context.Context, key, agentID, actionType string, eventID *int64, result []byte) (IdempotencyOutcome, error) {
	var outcome IdempotencyOutcome
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			outcome, innerErr = r.inner.RegisterIdempotencyKey(ctx, key, agentID, actionType, eventID, result)
			return innerErr
		})
	})
	return outcome, err
}

func (r *ResilientStore) GetIdempotencyRecord(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	var result core.IdempotencyRecord
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.GetIdempotencyRecord(ctx, key)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
