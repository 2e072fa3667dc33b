// Package policy implements the mechanical admission checks every
// externally visible tool action must pass before the gateway will execute
// it: workspace containment, Chief-authorization for mutating actions,
// shell-metacharacter rejection, command whitelisting, and endpoint
// allowlisting.
package policy

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/glob"
	"github.com/coredrift/substrate/internal/workspace"
)

var shellMetacharPattern = regexp.MustCompile("[;&|><`$]")

// Decision is the outcome of validating a single tool request.
type Decision struct {
	Allowed           bool
	Reason            string
	NormalizedPayload map[string]any
}

// Policy holds the mechanical rules applied to every tool request.
type Policy struct {
	chiefAgentID           string
	allowedCommandPrefixes [][]string
	endpointAllowlist      map[string][]string
}

// Option configures a Policy at construction time.
type Option func(*Policy)

// WithChiefAgentID overrides the default Chief agent id ("command").
func WithChiefAgentID(id string) Option {
	return func(p *Policy) { p.chiefAgentID = id }
}

// WithAllowedCommandPrefixes overrides the default RUN_CMD whitelist.
func WithAllowedCommandPrefixes(prefixes [][]string) Option {
	return func(p *Policy) { p.allowedCommandPrefixes = prefixes }
}

// WithEndpointAllowlist configures, per action kind, the set of glob
// patterns an action's payload.endpoint must match one of. Every pattern is
// complexity-validated up front (via internal/glob) so a pathological
// pattern cannot be used to stall the gateway. Patterns that overlap within
// the same action kind's list are rejected: the returned Option is nil and
// the error names the offending action kind.
func WithEndpointAllowlist(allowlist map[string][]string) (Option, error) {
	for kind, patterns := range allowlist {
		if err := glob.ValidateAllowlist(patterns); err != nil {
			return nil, fmt.Errorf("endpoint allowlist %q: %w", kind, err)
		}
	}
	return func(p *Policy) { p.endpointAllowlist = allowlist }, nil
}

// DefaultAllowedCommandPrefixes mirrors the conservative RUN_CMD whitelist:
// git inspection and local commit/patch commands (status, diff, add,
// commit, apply, format-patch, rev-parse) plus the test and build runners
// workers are expected to invoke on their own workspace.
func DefaultAllowedCommandPrefixes() [][]string {
	return [][]string{
		{"git", "status"},
		{"git", "diff"},
		{"git", "add"},
		{"git", "commit"},
		{"git", "apply"},
		{"git", "format-patch"},
		{"git", "rev-parse"},
		{"pytest"},
		{"go", "test"},
		{"go", "vet"},
		{"go", "build"},
	}
}

// New builds a Policy with the given options applied over sane defaults.
func New(opts ...Option) *Policy {
	p := &Policy{
		chiefAgentID:           "command",
		allowedCommandPrefixes: DefaultAllowedCommandPrefixes(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks req against every mechanical rule, resolving any payload
// paths against worktreeRoot.
func (p *Policy) Validate(req core.ToolRequest, worktreeRoot string) Decision {
	root, err := filepath.Abs(worktreeRoot)
	if err != nil {
		return deny("working_dir must be inside agent worktree.")
	}
	workingDir, err := filepath.Abs(req.WorkingDir)
	if err != nil || !isSubpath(root, workingDir) {
		return deny("working_dir must be inside agent worktree.")
	}

	if core.MutatingActions[req.ActionType] && !req.ChiefAuthorized && req.AgentID != p.chiefAgentID {
		return deny("Mutating external actions require Chief authorization.")
	}

	if patterns, ok := p.endpointAllowlist[string(req.ActionType)]; ok {
		if endpoint, hasEndpoint := endpointOf(req.Payload); hasEndpoint {
			if !matchesAny(patterns, endpoint) {
				return deny(fmt.Sprintf("endpoint not in allowlist: %s", endpoint))
			}
		}
	}

	switch req.ActionType {
	case core.ActionRunCmd:
		return p.validateRunCmd(req)
	case core.ActionWriteFile, core.ActionReadFile:
		return p.validateFilePath(req, root)
	case core.ActionGitCommit:
		return p.validateGitCommit(req, root)
	case core.ActionGitDiff:
		return Decision{Allowed: true, Reason: "GIT_DIFF policy checks passed."}
	case core.ActionOpenPR:
		return Decision{Allowed: true, Reason: "OPEN_PR policy checks passed."}
	default:
		return deny(fmt.Sprintf("Unsupported action type: %s", req.ActionType))
	}
}

func (p *Policy) validateRunCmd(req core.ToolRequest) Decision {
	argv := req.Command
	if len(argv) == 0 {
		return deny("RUN_CMD requires a non-empty command argv.")
	}
	for _, arg := range argv {
		if strings.TrimSpace(arg) == "" {
			return deny("RUN_CMD argv entries must be non-empty strings.")
		}
		if shellMetacharPattern.MatchString(arg) {
			return deny(fmt.Sprintf("RUN_CMD denied due to shell metacharacters in argument: %s", arg))
		}
	}
	if !p.commandWhitelisted(argv) {
		return deny(fmt.Sprintf("RUN_CMD denied: command not in whitelist (%s).", argv[0]))
	}
	return Decision{Allowed: true, Reason: "RUN_CMD command policy checks passed."}
}

func (p *Policy) commandWhitelisted(argv []string) bool {
	for _, prefix := range p.allowedCommandPrefixes {
		if len(argv) < len(prefix) {
			continue
		}
		match := true
		for i, want := range prefix {
			if argv[i] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (p *Policy) validateFilePath(req core.ToolRequest, root string) Decision {
	if strings.TrimSpace(req.Path) == "" {
		return deny("File actions require a non-empty path.")
	}
	resolved, err := workspace.ResolveWithinRoot(root, root, req.Path)
	if err != nil {
		return deny("File path escapes worktree root.")
	}
	return Decision{Allowed: true, Reason: "File path policy checks passed.", NormalizedPayload: map[string]any{"path": resolved}}
}

type gitCommitPayload struct {
	Message string   `json:"message"`
	Paths   []string `json:"paths"`
}

func (p *Policy) validateGitCommit(req core.ToolRequest, root string) Decision {
	var payload gitCommitPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return deny("GIT_COMMIT payload must be valid JSON.")
		}
	}
	if strings.TrimSpace(payload.Message) == "" {
		return deny("GIT_COMMIT requires a non-empty commit message.")
	}
	normalized := make([]string, 0, len(payload.Paths))
	for _, s := range payload.Paths {
		if strings.TrimSpace(s) == "" {
			return deny("GIT_COMMIT paths entries must be non-empty strings.")
		}
		resolved, err := workspace.ResolveWithinRoot(root, root, s)
		if err != nil {
			return deny(fmt.Sprintf("GIT_COMMIT path escapes worktree root: %s", s))
		}
		normalized = append(normalized, resolved)
	}
	return Decision{
		Allowed: true,
		Reason:  "GIT_COMMIT policy checks passed.",
		NormalizedPayload: map[string]any{
			"message": payload.Message,
			"paths":   normalized,
		},
	}
}

func isSubpath(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func matchesAny(patterns []string, endpoint string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, endpoint); ok {
			return true
		}
	}
	return false
}

func endpointOf(payload []byte) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	var decoded struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", false
	}
	return decoded.Endpoint, decoded.Endpoint != ""
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
