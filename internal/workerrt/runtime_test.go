package workerrt

import (
	"context"
	"testing"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/gateway"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/policy"
	"github.com/coredrift/substrate/internal/workspace"
)

func newTestRuntime(t *testing.T) (*Runtime, sqlite.MailStore, string) {
	t.Helper()
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	dir, err := ws.WorkspaceFor("recon")
	if err != nil {
		t.Fatalf("provision workspace: %v", err)
	}

	gw := gateway.New(store, policy.New(), ws)
	return &Runtime{AgentID: "recon", Store: store, Gateway: gw}, store, dir
}

func TestHandleEventSkipsMismatchedTarget(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	ev := core.Event{ID: 1, Type: "SOMETHING", TargetAgent: "forge"}

	result, err := rt.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Status != "skipped" {
		t.Fatalf("expected skipped, got %q", result.Status)
	}
}

func TestHandleEventDefaultsToProcessed(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	ev := core.Event{ID: 2, Type: "SOMETHING_ELSE", TargetAgent: "recon"}

	result, err := rt.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Status != "processed" {
		t.Fatalf("expected processed, got %q", result.Status)
	}
}

func TestHandleEventToolRequestPublishesToolResult(t *testing.T) {
	rt, store, dir := newTestRuntime(t)

	payload := []byte(`{
		"request": {
			"action_type": "READ_FILE",
			"path": "missing.txt",
			"idempotency_key": "k1"
		},
		"working_dir": "` + jsonEscape(dir) + `",
		"reply_to": "command"
	}`)
	ev := core.Event{ID: 3, Type: "TOOL_REQUEST", TargetAgent: "recon", Payload: payload, CorrelationID: "corr-1"}

	result, err := rt.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Status != "tool_request_handled" {
		t.Fatalf("expected tool_request_handled, got %q (reason=%s)", result.Status, result.Reason)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed READ_FILE, got reason %q", result.Reason)
	}

	events, err := store.ListEvents(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Type == "TOOL_RESULT" && e.TargetAgent == "command" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a TOOL_RESULT event addressed to command, got %+v", events)
	}
}

func TestHandleEventToolRequestMissingGatewayIsReported(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	rt.Gateway = nil
	ev := core.Event{ID: 4, Type: "TOOL_REQUEST", TargetAgent: "recon", Payload: []byte(`{}`)}

	result, err := rt.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Status != "tool_gateway_missing" {
		t.Fatalf("expected tool_gateway_missing, got %q", result.Status)
	}
}

// jsonEscape backslash-escapes a path for embedding in a hand-written JSON
// fixture literal; test fixture paths are temp dirs and never contain
// quotes, so only backslashes (Windows-style separators) need escaping.
func jsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			out = append(out, '\\', '\\')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
