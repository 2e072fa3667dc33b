// Package workspace provisions and validates per-worker isolated working
// directories rooted under a shared repository root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager creates and resolves per-worker workspace directories. The plain
// mode (the default) is a simple directory-per-worker layout; WorktreeManager
// adds git-worktree-backed isolation on top of the same root-containment
// rules.
type Manager struct {
	root string
}

// New returns a Manager rooted at root. root is created if it does not
// already exist.
func New(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root symlinks: %w", err)
	}
	return &Manager{root: resolved}, nil
}

// Root returns the shared repository root all worker workspaces live under.
func (m *Manager) Root() string {
	return m.root
}

// WorkspaceFor returns the directory a worker's workspace lives in, creating
// it on first use. The id is lower-cased and must not be empty.
func (m *Manager) WorkspaceFor(workerID string) (string, error) {
	normalized := normalizeID(workerID)
	if normalized == "" {
		return "", fmt.Errorf("worker id cannot be empty")
	}
	dir := filepath.Join(m.root, normalized)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace for %q: %w", workerID, err)
	}
	resolved, err := m.resolveWithinRoot(dir)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// Resolve satisfies the gateway's workspace-resolver interface: it returns
// the (already-provisioned) workspace directory for workerID, and an error
// if WorkspaceFor has not created it yet.
func (m *Manager) Resolve(workerID string) (string, error) {
	normalized := normalizeID(workerID)
	if normalized == "" {
		return "", fmt.Errorf("worker id cannot be empty")
	}
	dir := filepath.Join(m.root, normalized)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("missing workspace for worker %q at %q: %w", workerID, dir, err)
	}
	return m.resolveWithinRoot(dir)
}

// ResolvePath resolves requested (relative or absolute) against base and
// verifies the result is a descendant of the workspace root. It returns an
// error if requested escapes the root via ".." components or symlinks.
func (m *Manager) ResolvePath(base, requested string) (string, error) {
	return ResolveWithinRoot(m.root, base, requested)
}

// resolveWithinRoot cleans and symlink-resolves candidate and verifies it
// lies beneath m.root. A missing leaf component is tolerated (the caller may
// be about to create it); every existing parent must resolve inside root.
func (m *Manager) resolveWithinRoot(candidate string) (string, error) {
	return resolveCandidateWithinRoot(m.root, candidate)
}

// ResolveWithinRoot joins requested onto base (unless requested is already
// absolute), symlink-resolves the longest existing prefix of the result, and
// verifies the resolved path is a descendant of root. It is the one
// symlink-tolerant containment check shared by every workspace backend and
// by the tool gateway's policy admission checks, so a worker can never use a
// symlink planted inside its own workspace to have a file or git action
// land outside root.
func ResolveWithinRoot(root, base, requested string) (string, error) {
	var candidate string
	if filepath.IsAbs(requested) {
		candidate = requested
	} else {
		candidate = filepath.Join(base, requested)
	}
	return resolveCandidateWithinRoot(root, candidate)
}

func resolveCandidateWithinRoot(root, candidate string) (string, error) {
	clean := filepath.Clean(candidate)
	resolved, err := evalSymlinksTolerant(clean)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !isDescendant(root, resolved) {
		return "", fmt.Errorf("path escapes workspace root")
	}
	return resolved, nil
}

// evalSymlinksTolerant resolves symlinks on the longest existing prefix of
// path, then rejoins the remaining (not-yet-created) components.
func evalSymlinksTolerant(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return filepath.EvalSymlinks(path)
	}
	parent, leaf := filepath.Split(path)
	parent = filepath.Clean(parent)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := evalSymlinksTolerant(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, leaf), nil
}

// isDescendant reports whether child is root or lies beneath it.
func isDescendant(root, child string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
