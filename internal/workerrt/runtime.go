// Package workerrt implements the per-worker event handler: it dispatches
// claimed events to the tool gateway (for TOOL_REQUEST) or a generic
// pass-through result, and reports outcomes back onto the mailstore.
package workerrt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/gateway"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
)

// Runtime dispatches events claimed by one worker.
type Runtime struct {
	AgentID string
	Store   sqlite.MailStore
	Gateway *gateway.Gateway // nil disables TOOL_REQUEST handling for this worker
}

// HandledResult summarizes what a worker did with one event, mirroring the
// structured log line a worker process would emit.
type HandledResult struct {
	Status       string `json:"status"`
	EventID      int64  `json:"event_id"`
	EventType    string `json:"event_type"`
	Allowed      bool   `json:"allowed,omitempty"`
	Reason       string `json:"reason,omitempty"`
	AuditEventID int64  `json:"audit_event_id,omitempty"`
}

type toolRequestWire struct {
	ActionType      string          `json:"action_type"`
	WorkingDir      string          `json:"working_dir"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Command         []string        `json:"command"`
	Path            string          `json:"path"`
	Payload         json.RawMessage `json:"payload"`
	AuthorizedBy    string          `json:"authorized_by"`
	ChiefAuthorized bool            `json:"chief_authorized"`
}

type toolRequestEnvelope struct {
	Request      toolRequestWire `json:"request"`
	ReplyTo      string          `json:"reply_to"`
	WorkingDir   string          `json:"working_dir"`
	AuthorizedBy string          `json:"authorized_by"`
}

// HandleEvent dispatches ev according to its type. Events addressed to a
// different worker are skipped without side effects (the claim contract
// only routes matching or unrouted events, but a defensive check costs
// nothing).
func (r *Runtime) HandleEvent(ctx context.Context, ev core.Event) (HandledResult, error) {
	if ev.TargetAgent != "" && ev.TargetAgent != r.AgentID {
		return HandledResult{Status: "skipped", EventID: ev.ID, EventType: ev.Type}, nil
	}

	switch ev.Type {
	case core.EventSupervisorHeartbeat:
		return HandledResult{Status: "heartbeat_seen", EventID: ev.ID, EventType: ev.Type}, nil
	case "TOOL_REQUEST":
		return r.handleToolRequest(ctx, ev)
	default:
		return HandledResult{Status: "processed", EventID: ev.ID, EventType: ev.Type}, nil
	}
}

func (r *Runtime) handleToolRequest(ctx context.Context, ev core.Event) (HandledResult, error) {
	if r.Gateway == nil {
		return HandledResult{Status: "tool_gateway_missing", EventID: ev.ID, EventType: ev.Type}, nil
	}

	var envelope toolRequestEnvelope
	if err := json.Unmarshal(ev.Payload, &envelope); err != nil {
		return HandledResult{Status: "invalid_request_payload", EventID: ev.ID, EventType: ev.Type}, nil
	}

	workingDir := envelope.Request.WorkingDir
	if workingDir == "" {
		workingDir = envelope.WorkingDir
	}
	authorizedBy := envelope.Request.AuthorizedBy
	if authorizedBy == "" {
		authorizedBy = envelope.AuthorizedBy
	}

	req := core.ToolRequest{
		AgentID:         r.AgentID,
		ActionType:      core.ToolActionType(envelope.Request.ActionType),
		WorkingDir:      workingDir,
		IdempotencyKey:  envelope.Request.IdempotencyKey,
		Command:         envelope.Request.Command,
		Path:            envelope.Request.Path,
		Payload:         envelope.Request.Payload,
		CorrelationID:   ev.CorrelationID,
		ChiefAuthorized: envelope.Request.ChiefAuthorized || authorizedBy == "command",
	}

	decision, err := r.Gateway.Execute(ctx, req)
	if err != nil {
		return HandledResult{}, fmt.Errorf("gateway execute: %w", err)
	}

	replyTo := envelope.ReplyTo
	if replyTo == "" {
		replyTo = "command"
	}
	resultPayload, _ := json.Marshal(map[string]any{
		"source_event_id": ev.ID,
		"allowed":         decision.Allowed,
		"reason":          decision.Reason,
		"audit_event_id":  decision.AuditID,
		"idempotency_key": req.IdempotencyKey,
		"result":          json.RawMessage(nonEmptyOrNull(decision.Result)),
	})
	if _, err := r.Store.Publish(ctx, "TOOL_RESULT", r.AgentID, resultPayload, replyTo, ev.CorrelationID, ""); err != nil {
		return HandledResult{}, fmt.Errorf("publish tool result: %w", err)
	}

	return HandledResult{
		Status:       "tool_request_handled",
		EventID:      ev.ID,
		EventType:    ev.Type,
		Allowed:      decision.Allowed,
		Reason:       decision.Reason,
		AuditEventID: decision.AuditID,
	}, nil
}

func nonEmptyOrNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
