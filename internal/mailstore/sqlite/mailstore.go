package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coredrift/substrate/internal/core"
)

// MaxRetries is the fixed per-event requeue budget (spec's recommended
// default for the open retry-budget question): three requeues before an
// event that keeps failing is moved to DEAD instead of PENDING.
const MaxRetries = 3

// withImmediateTx pins one connection for the duration of fn and wraps it
// in BEGIN IMMEDIATE/COMMIT so the write lock is acquired up front, giving
// claim/ack/fail the linearizable-per-key semantics the spec requires
// without relying on database/sql's default deferred transaction mode.
func withImmediateTx(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Publish atomically appends one PENDING event and returns its id.
func (s *Store) Publish(ctx context.Context, eventType, originID string, payload []byte, targetAgent, correlationID, justification string) (int64, error) {
	now := time.Now().UTC()
	if payload == nil {
		payload = []byte("{}")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (ts, type, origin_id, target_agent, payload_json, justification, status, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, 'PENDING', ?)`,
		now.Format(time.RFC3339Nano), eventType, originID, nullableString(targetAgent), string(payload), nullableString(justification), nullableString(correlationID))
	if err != nil {
		return 0, fmt.Errorf("publish event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// ClaimOptions parameterizes Claim.
type ClaimOptions struct {
	ConsumerID      string
	TargetAgent     string // empty applies no target filter: any PENDING event qualifies
	IncludeUnrouted bool   // also consider events with no target_agent
	LeaseSeconds    int
}

// Claim atomically selects the lowest-id PENDING or lease-expired-CLAIMED
// event matching the options, marks it CLAIMED, and installs a fresh
// lease. It returns (nil, nil) when no candidate is available.
func (s *Store) Claim(ctx context.Context, opts ClaimOptions) (*core.Event, error) {
	if opts.LeaseSeconds == 0 {
		opts.LeaseSeconds = 60
	}
	now := time.Now().UTC()
	var found *core.Event

	err := withImmediateTx(ctx, s.db, func(conn *sql.Conn) error {
		if err := releaseExpiredLeasesLocked(ctx, conn, now); err != nil {
			return err
		}

		query := `
			SELECT id, ts, type, origin_id, target_agent, payload_json, justification, status, error, correlation_id, retry_count
			FROM events
			WHERE status = 'PENDING'`
		args := []any{}
		if opts.TargetAgent != "" {
			if opts.IncludeUnrouted {
				query += ` AND (target_agent = ? OR target_agent IS NULL)`
			} else {
				query += ` AND target_agent = ?`
			}
			args = append(args, opts.TargetAgent)
		}
		query += ` ORDER BY id ASC LIMIT 1`

		row := conn.QueryRowContext(ctx, query, args...)
		ev, err := scanEvent(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim: select candidate: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `UPDATE events SET status = 'CLAIMED' WHERE id = ?`, ev.ID); err != nil {
			return fmt.Errorf("claim: update status: %w", err)
		}
		expiry := now.Add(time.Duration(opts.LeaseSeconds) * time.Second)
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO leases (event_id, claimed_by, claim_ts, lease_expiry) VALUES (?, ?, ?, ?)
			ON CONFLICT(event_id) DO UPDATE SET claimed_by = excluded.claimed_by, claim_ts = excluded.claim_ts, lease_expiry = excluded.lease_expiry`,
			ev.ID, opts.ConsumerID, now.Format(time.RFC3339Nano), expiry.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("claim: install lease: %w", err)
		}
		ev.Status = core.StatusClaimed
		found = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// SweepExpiredLeases reclaims every CLAIMED event whose lease has expired
// as of now, independent of any in-flight Claim call. It is the background
// complement to the lazy reclamation Claim performs on every call, so leases
// are released promptly even while no consumer is polling.
func (s *Store) SweepExpiredLeases(ctx context.Context) ([]int64, error) {
	var reclaimed []int64
	err := withImmediateTx(ctx, s.db, func(conn *sql.Conn) error {
		now := time.Now().UTC()
		rows, err := conn.QueryContext(ctx, `
			SELECT e.id FROM events e
			JOIN leases l ON l.event_id = e.id
			WHERE e.status = 'CLAIMED' AND l.lease_expiry <= ?`, now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("sweep expired leases: select: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("sweep expired leases: scan: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := conn.ExecContext(ctx, `UPDATE events SET status = 'PENDING' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("sweep expired leases: reset status: %w", err)
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM leases WHERE event_id = ?`, id); err != nil {
				return fmt.Errorf("sweep expired leases: drop lease: %w", err)
			}
		}
		reclaimed = ids
		return nil
	})
	return reclaimed, err
}

// releaseExpiredLeasesLocked marks CLAIMED events whose lease has expired
// back to PENDING and drops the stale lease row, making them reclaimable.
// Must be called from inside an already-held BEGIN IMMEDIATE transaction.
func releaseExpiredLeasesLocked(ctx context.Context, conn *sql.Conn, now time.Time) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT e.id FROM events e
		JOIN leases l ON l.event_id = e.id
		WHERE e.status = 'CLAIMED' AND l.lease_expiry <= ?`, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("release expired leases: select: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("release expired leases: scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := conn.ExecContext(ctx, `UPDATE events SET status = 'PENDING' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("release expired leases: reset status: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM leases WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("release expired leases: drop lease: %w", err)
		}
	}
	return nil
}

// Ack transitions a CLAIMED event to DONE, deleting its lease, but only if
// consumerID currently holds it.
func (s *Store) Ack(ctx context.Context, eventID int64, consumerID string, result []byte) error {
	return withImmediateTx(ctx, s.db, func(conn *sql.Conn) error {
		holder, ok, err := leaseHolder(ctx, conn, eventID)
		if err != nil {
			return err
		}
		if !ok || holder != consumerID {
			return &core.LeaseLostError{EventID: eventID, HeldBy: holder, Consumer: consumerID}
		}
		if _, err := conn.ExecContext(ctx, `UPDATE events SET status = 'DONE' WHERE id = ?`, eventID); err != nil {
			return fmt.Errorf("ack: update status: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM leases WHERE event_id = ?`, eventID); err != nil {
			return fmt.Errorf("ack: drop lease: %w", err)
		}
		_ = result // result is accepted for parity with the contract; this store does not persist ack payloads separately from the event row.
		return nil
	})
}

// Fail transitions a CLAIMED event to FAILED, and if retry is requested,
// immediately requeues it to PENDING when budget remains or moves it to
// DEAD once exhausted.
func (s *Store) Fail(ctx context.Context, eventID int64, consumerID, errMsg string, retry bool) error {
	return withImmediateTx(ctx, s.db, func(conn *sql.Conn) error {
		holder, ok, err := leaseHolder(ctx, conn, eventID)
		if err != nil {
			return err
		}
		if !ok || holder != consumerID {
			return &core.LeaseLostError{EventID: eventID, HeldBy: holder, Consumer: consumerID}
		}

		var retryCount int
		if err := conn.QueryRowContext(ctx, `SELECT retry_count FROM events WHERE id = ?`, eventID).Scan(&retryCount); err != nil {
			return fmt.Errorf("fail: read retry count: %w", err)
		}

		nextStatus := string(core.StatusFailed)
		nextRetry := retryCount
		if retry {
			if retryCount < MaxRetries {
				nextStatus = string(core.StatusPending)
				nextRetry = retryCount + 1
			} else {
				nextStatus = string(core.StatusDead)
			}
		}

		if _, err := conn.ExecContext(ctx, `UPDATE events SET status = ?, error = ?, retry_count = ? WHERE id = ?`,
			nextStatus, errMsg, nextRetry, eventID); err != nil {
			return fmt.Errorf("fail: update status: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM leases WHERE event_id = ?`, eventID); err != nil {
			return fmt.Errorf("fail: drop lease: %w", err)
		}
		return nil
	})
}

func leaseHolder(ctx context.Context, conn *sql.Conn, eventID int64) (holder string, ok bool, err error) {
	err = conn.QueryRowContext(ctx, `SELECT claimed_by FROM leases WHERE event_id = ?`, eventID).Scan(&holder)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read lease holder: %w", err)
	}
	return holder, true, nil
}

// ListEvents returns events with id > afterID, ordered ascending, bounded
// to limit rows. Read-only; the projection materializer is the sole
// intended caller.
func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]core.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.logged.Query(`
		SELECT id, ts, type, origin_id, target_agent, payload_json, justification, status, error, correlation_id, retry_count
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetEvent fetches a single event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (core.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, type, origin_id, target_agent, payload_json, justification, status, error, correlation_id, retry_count
		FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return core.Event{}, core.ErrNotFound
	}
	if err != nil {
		return core.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// StatusCounts returns the count of events per status, for diagnostics.
func (s *Store) StatusCounts(ctx context.Context) (map[core.EventStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()
	out := make(map[core.EventStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("status counts: scan: %w", err)
		}
		out[core.EventStatus(status)] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (core.Event, error) {
	var ev core.Event
	var ts string
	var targetAgent, justification, errStr, correlationID sql.NullString
	var status string
	if err := r.Scan(&ev.ID, &ts, &ev.Type, &ev.OriginID, &targetAgent, &ev.Payload, &justification, &status, &errStr, &correlationID, &ev.RetryCount); err != nil {
		return core.Event{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return core.Event{}, fmt.Errorf("parse event ts: %w", err)
	}
	ev.Ts = parsed
	ev.TargetAgent = targetAgent.String
	ev.Justification = justification.String
	ev.Error = errStr.String
	ev.CorrelationID = correlationID.String
	ev.Status = core.EventStatus(status)
	return ev, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
