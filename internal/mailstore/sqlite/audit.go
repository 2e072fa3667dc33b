package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/coredrift/substrate/internal/core"
)

// IdempotencyOutcome reports whether registering a key was the first
// ("fresh") registration or collided with an existing one ("duplicate").
type IdempotencyOutcome string

const (
	IdempotencyFresh     IdempotencyOutcome = "fresh"
	IdempotencyDuplicate IdempotencyOutcome = "duplicate"
)

// RecordToolAudit appends one audit row and returns its id. Called for
// every gateway decision, allowed or denied.
func (s *Store) RecordToolAudit(ctx context.Context, entry core.ToolAuditEntry) (int64, error) {
	payload := entry.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_audit (ts, agent_id, action_type, working_dir, idempotency_key, allowed, reason, payload_json, result_json, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano), entry.AgentID, string(entry.ActionType), entry.WorkingDir,
		nullableString(entry.IdempotencyKey), boolToInt(entry.Allowed), entry.Reason, string(payload),
		nullableBytes(entry.Result), nullableString(entry.CorrelationID))
	if err != nil {
		return 0, fmt.Errorf("record tool audit: %w", err)
	}
	return res.LastInsertId()
}

// ListToolAudit returns audit rows with id > afterID, ordered ascending.
func (s *Store) ListToolAudit(ctx context.Context, afterID int64, limit int) ([]core.ToolAuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.logged.Query(`
		SELECT id, ts, agent_id, action_type, working_dir, idempotency_key, allowed, reason, payload_json, result_json, correlation_id
		FROM tool_audit WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tool audit: %w", err)
	}
	defer rows.Close()

	var out []core.ToolAuditEntry
	for rows.Next() {
		var entry core.ToolAuditEntry
		var ts, actionType string
		var idemKey, result, correlationID sql.NullString
		var allowed int
		if err := rows.Scan(&entry.ID, &ts, &entry.AgentID, &actionType, &entry.WorkingDir, &idemKey, &allowed, &entry.Reason, &entry.Payload, &result, &correlationID); err != nil {
			return nil, fmt.Errorf("list tool audit: scan: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit ts: %w", err)
		}
		entry.Ts = parsed
		entry.ActionType = actionType
		entry.IdempotencyKey = idemKey.String
		entry.Allowed = allowed != 0
		if result.Valid {
			entry.Result = []byte(result.String)
		}
		entry.CorrelationID = correlationID.String
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RegisterIdempotencyKey attempts to reserve key for agentID/actionType.
// A primary-key collision is reported as IdempotencyDuplicate rather than
// an error, matching the contract's "denied without side effects" wording.
func (s *Store) RegisterIdempotencyKey(ctx context.Context, key, agentID, actionType string, eventID *int64, result []byte) (IdempotencyOutcome, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, created_ts, agent_id, action_type, event_id, result_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key, now.Format(time.RFC3339Nano), agentID, actionType, eventID, nullableBytes(result))
	if err != nil {
		if isUniqueViolation(err) {
			return IdempotencyDuplicate, nil
		}
		return "", fmt.Errorf("register idempotency key: %w", err)
	}
	return IdempotencyFresh, nil
}

// GetIdempotencyRecord fetches a previously registered key, if present.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, created_ts, agent_id, action_type, event_id, result_json
		FROM idempotency_keys WHERE idempotency_key = ?`, key)
	var rec core.IdempotencyRecord
	var ts string
	var eventID sql.NullInt64
	var result sql.NullString
	if err := row.Scan(&rec.IdempotencyKey, &ts, &rec.AgentID, &rec.ActionType, &eventID, &result); err != nil {
		if err == sql.ErrNoRows {
			return core.IdempotencyRecord{}, core.ErrNotFound
		}
		return core.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return core.IdempotencyRecord{}, fmt.Errorf("parse idempotency ts: %w", err)
	}
	rec.CreatedTs = parsed
	if eventID.Valid {
		v := eventID.Int64
		rec.EventID = &v
	}
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
