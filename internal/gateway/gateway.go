// Package gateway implements the single execution point every externally
// visible tool action must pass through: idempotency admission, policy
// adjudication, subprocess/file execution, and tamper-evident audit
// recording.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/policy"
)

// WorkspaceResolver resolves a worker id to its provisioned workspace
// directory. Satisfied by *workspace.Manager and *workspace.WorktreeManager.
type WorkspaceResolver interface {
	Resolve(workerID string) (string, error)
}

// Gateway is the single adjudication-and-execution point for tool requests.
type Gateway struct {
	store          sqlite.MailStore
	policy         *policy.Policy
	workspaces     WorkspaceResolver
	commandTimeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCommandTimeout overrides the default 120s subprocess timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.commandTimeout = d }
}

// New builds a Gateway backed by store for audit/idempotency bookkeeping,
// pol for admission decisions, and workspaces for resolving agent worktree
// roots.
func New(store sqlite.MailStore, pol *policy.Policy, workspaces WorkspaceResolver, opts ...Option) *Gateway {
	g := &Gateway{store: store, policy: pol, workspaces: workspaces, commandTimeout: 120 * time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type execResult struct {
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ReturnCode int    `json:"return_code"`
	Error      string `json:"error,omitempty"`
}

// Execute adjudicates and, if admitted, carries out req, always recording
// exactly one audit row.
func (g *Gateway) Execute(ctx context.Context, req core.ToolRequest) (core.ToolDecision, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return g.deny(ctx, req, "Missing required payload.idempotency_key.", nil), nil
	}

	root, err := g.workspaces.Resolve(req.AgentID)
	if err != nil {
		return g.deny(ctx, req, fmt.Sprintf("No registered workspace root for agent '%s'.", req.AgentID), nil), nil
	}

	decision := g.policy.Validate(req, root)
	if !decision.Allowed {
		return g.deny(ctx, req, decision.Reason, nil), nil
	}

	if req.ActionType == core.ActionOpenPR {
		return g.deny(ctx, req, "OPEN_PR is intentionally not implemented in this baseline.", nil), nil
	}

	if _, err := g.store.GetIdempotencyRecord(ctx, key); err == nil {
		return g.deny(ctx, req, fmt.Sprintf("Duplicate idempotency_key blocked: %s", key), nil), nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.ToolDecision{}, fmt.Errorf("check idempotency record: %w", err)
	}

	outcome, err := g.store.RegisterIdempotencyKey(ctx, key, req.AgentID, string(req.ActionType), nil, nil)
	if err != nil {
		return core.ToolDecision{}, fmt.Errorf("register idempotency key: %w", err)
	}
	if outcome == sqlite.IdempotencyDuplicate {
		return g.deny(ctx, req, fmt.Sprintf("Duplicate idempotency_key blocked (race): %s", key), nil), nil
	}

	result, execErr := g.executeAllowed(ctx, req, decision.NormalizedPayload, root)
	resultJSON, _ := json.Marshal(result)

	auditID, auditErr := g.store.RecordToolAudit(ctx, core.ToolAuditEntry{
		AgentID:        req.AgentID,
		ActionType:     string(req.ActionType),
		WorkingDir:     req.WorkingDir,
		IdempotencyKey: key,
		Allowed:        execErr == nil,
		Reason:         reasonFor(req.ActionType, execErr),
		Payload:        req.Payload,
		Result:         resultJSON,
		CorrelationID:  req.CorrelationID,
	})
	if auditErr != nil {
		return core.ToolDecision{}, fmt.Errorf("record tool audit: %w", auditErr)
	}

	if execErr != nil {
		return core.ToolDecision{Allowed: false, Reason: result.Error, AuditID: auditID, Result: resultJSON}, nil
	}
	return core.ToolDecision{Allowed: true, Reason: reasonFor(req.ActionType, nil), AuditID: auditID, Result: resultJSON}, nil
}

func (g *Gateway) deny(ctx context.Context, req core.ToolRequest, reason string, result []byte) core.ToolDecision {
	var key string
	if strings.TrimSpace(req.IdempotencyKey) != "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	auditID, err := g.store.RecordToolAudit(ctx, core.ToolAuditEntry{
		AgentID:        req.AgentID,
		ActionType:     string(req.ActionType),
		WorkingDir:     req.WorkingDir,
		IdempotencyKey: key,
		Allowed:        false,
		Reason:         reason,
		Payload:        req.Payload,
		Result:         result,
		CorrelationID:  req.CorrelationID,
	})
	if err != nil {
		// The audit row is required by contract; surface the failure via the
		// reason rather than silently returning a denial with no record.
		return core.ToolDecision{Allowed: false, Reason: fmt.Sprintf("%s (audit write failed: %v)", reason, err)}
	}
	return core.ToolDecision{Allowed: false, Reason: reason, AuditID: auditID}
}

func (g *Gateway) executeAllowed(ctx context.Context, req core.ToolRequest, normalized map[string]any, root string) (execResult, error) {
	switch req.ActionType {
	case core.ActionRunCmd:
		return g.runCommand(ctx, req.Command, req.WorkingDir)
	case core.ActionWriteFile:
		return g.writeFile(normalized, req)
	case core.ActionReadFile:
		return g.readFile(normalized)
	case core.ActionGitCommit:
		return g.gitCommit(ctx, normalized, req.WorkingDir)
	case core.ActionGitDiff:
		return g.gitDiff(ctx, req)
	default:
		return execResult{Error: fmt.Sprintf("unsupported action type: %s", req.ActionType)}, fmt.Errorf("unsupported action type: %s", req.ActionType)
	}
}

func (g *Gateway) runCommand(ctx context.Context, argv []string, dir string) (execResult, error) {
	if len(argv) == 0 {
		return execResult{Error: "RUN_CMD requires a normalized argv"}, fmt.Errorf("run_cmd: empty argv")
	}
	ctx, cancel := context.WithTimeout(ctx, g.commandTimeout)
	defer cancel()
	return g.run(ctx, dir, argv[0], argv[1:]...)
}

func (g *Gateway) writeFile(normalized map[string]any, req core.ToolRequest) (execResult, error) {
	path, _ := normalized["path"].(string)
	if path == "" {
		path = req.Path
	}
	content := string(req.Payload)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return execResult{Error: err.Error()}, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return execResult{Error: err.Error()}, err
	}
	return execResult{Stdout: fmt.Sprintf("wrote %d bytes to %s", len(content), path), ReturnCode: 0}, nil
}

func (g *Gateway) readFile(normalized map[string]any) (execResult, error) {
	path, _ := normalized["path"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return execResult{Stderr: fmt.Sprintf("file does not exist: %s", path), ReturnCode: 1}, nil
		}
		return execResult{Error: err.Error()}, err
	}
	return execResult{Stdout: string(data), ReturnCode: 0}, nil
}

func (g *Gateway) gitCommit(ctx context.Context, normalized map[string]any, dir string) (execResult, error) {
	message, _ := normalized["message"].(string)
	paths, _ := normalized["paths"].([]string)

	ctx, cancel := context.WithTimeout(ctx, g.commandTimeout)
	defer cancel()

	addArgs := append([]string{"add", "--"}, paths...)
	addResult, addErr := g.run(ctx, dir, "git", addArgs...)
	commitResult, commitErr := g.run(ctx, dir, "git", "commit", "-m", message)

	combined := execResult{
		Stdout:     addResult.Stdout + commitResult.Stdout,
		Stderr:     addResult.Stderr + commitResult.Stderr,
		ReturnCode: commitResult.ReturnCode,
	}
	if commitErr != nil {
		return combined, commitErr
	}
	return combined, addErr
}

func (g *Gateway) gitDiff(ctx context.Context, req core.ToolRequest) (execResult, error) {
	var args struct {
		Args []string `json:"args"`
	}
	if len(req.Payload) > 0 {
		_ = json.Unmarshal(req.Payload, &args)
	}
	ctx, cancel := context.WithTimeout(ctx, g.commandTimeout)
	defer cancel()
	return g.run(ctx, req.WorkingDir, "git", append([]string{"diff"}, args.Args...)...)
}

func (g *Gateway) run(ctx context.Context, dir, name string, args ...string) (execResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	result := execResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}

func reasonFor(action core.ToolActionType, err error) string {
	if err != nil {
		return fmt.Sprintf("Execution error: %v", err)
	}
	return fmt.Sprintf("%s executed.", action)
}
