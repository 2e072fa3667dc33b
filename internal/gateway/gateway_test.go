package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/policy"
	"github.com/coredrift/substrate/internal/workspace"
)

func newTestGateway(t *testing.T) (*Gateway, *workspace.Manager) {
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
	if _, err := ws.WorkspaceFor("recon"); err != nil {
		t.Fatalf("provision workspace: %v", err)
	}

	g := New(store, policy.New(), ws)
	return g, ws
}

func TestExecuteDeniesMissingIdempotencyKey(t *testing.T) {
	g, _ := newTestGateway(t)
	req := core.ToolRequest{AgentID: "recon", ActionType: core.ActionGitDiff, WorkingDir: "workspaces/recon"}

	dec, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected denial")
	}
	if dec.Reason != "Missing required payload.idempotency_key." {
		t.Fatalf("unexpected reason: %q", dec.Reason)
	}
	if dec.AuditID == 0 {
		t.Fatalf("expected an audit row to be recorded even on denial")
	}
}

func TestExecuteDeniesUnknownWorkspace(t *testing.T) {
	g, _ := newTestGateway(t)
	req := core.ToolRequest{AgentID: "ghost", ActionType: core.ActionGitDiff, WorkingDir: "/tmp", IdempotencyKey: "k1"}

	dec, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected denial")
	}
	if dec.Reason != "No registered workspace root for agent 'ghost'." {
		t.Fatalf("unexpected reason: %q", dec.Reason)
	}
}

func TestExecuteDeniesFilePathEscape(t *testing.T) {
	g, ws := newTestGateway(t)
	dir, err := ws.WorkspaceFor("recon")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	req := core.ToolRequest{
		AgentID:         "recon",
		ActionType:      core.ActionWriteFile,
		WorkingDir:      dir,
		Path:            "../../etc/passwd",
		IdempotencyKey:  "k1",
		ChiefAuthorized: true,
	}

	dec, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected denial")
	}
	if dec.Reason != "File path escapes worktree root." {
		t.Fatalf("unexpected reason: %q", dec.Reason)
	}
}

func TestExecuteWriteFileSucceedsAndPersists(t *testing.T) {
	g, ws := newTestGateway(t)
	dir, err := ws.WorkspaceFor("recon")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	req := core.ToolRequest{
		AgentID:         "recon",
		ActionType:      core.ActionWriteFile,
		WorkingDir:      dir,
		Path:            "notes/todo.txt",
		Payload:         []byte("remember the milk"),
		IdempotencyKey:  "k1",
		ChiefAuthorized: true,
	}

	dec, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got reason %q", dec.Reason)
	}

	written, err := os.ReadFile(filepath.Join(dir, "notes", "todo.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(written) != "remember the milk" {
		t.Fatalf("unexpected file contents: %q", written)
	}
}

func TestExecuteDeniesDuplicateIdempotencyKey(t *testing.T) {
	g, ws := newTestGateway(t)
	dir, err := ws.WorkspaceFor("recon")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	req := core.ToolRequest{
		AgentID:         "recon",
		ActionType:      core.ActionWriteFile,
		WorkingDir:      dir,
		Path:            "a.txt",
		Payload:         []byte("x"),
		IdempotencyKey:  "dup-1",
		ChiefAuthorized: true,
	}

	first, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if !first.Allowed {
		t.Fatalf("expected first call to be allowed, got reason %q", first.Reason)
	}

	second, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if second.Allowed {
		t.Fatalf("expected duplicate to be denied")
	}
	if second.Reason != "Duplicate idempotency_key blocked: dup-1" {
		t.Fatalf("unexpected reason: %q", second.Reason)
	}
}

func TestExecuteDeniesOpenPR(t *testing.T) {
	g, ws := newTestGateway(t)
	dir, err := ws.WorkspaceFor("recon")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	req := core.ToolRequest{
		AgentID:         "recon",
		ActionType:      core.ActionOpenPR,
		WorkingDir:      dir,
		IdempotencyKey:  "k1",
		ChiefAuthorized: true,
	}

	dec, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected denial")
	}
	if dec.Reason != "OPEN_PR is intentionally not implemented in this baseline." {
		t.Fatalf("unexpected reason: %q", dec.Reason)
	}
}
