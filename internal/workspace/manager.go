// Package workspace manages isolated, branch-scoped checkouts of the shared
// repository, one per ticket, implemented as git worktrees.
//
// Paths and branch names are derived solely from the ticket ID, so the set
// of live workspaces can be reconstructed from `git worktree list` after a
// restart without extra bookkeeping.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/andthedropout/claude-dev/internal/git"
)

var (
	// ErrWorkspaceExists is returned by Create when a workspace for the
	// ticket is already present on disk.
	ErrWorkspaceExists = errors.New("workspace already exists")

	// ErrWorkspaceNotFound is returned when no workspace exists for a ticket.
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

// Workspace describes one isolated checkout bound to a ticket.
type Workspace struct {
	TicketID string `json:"ticket_id"`
	Path     string `json:"path"`
	Branch   string `json:"branch"`
	BaseRev  string `json:"base_rev,omitempty"`
	Locked   bool   `json:"locked"`
}

// Manager creates, inspects, locks, and destroys workspaces under a single
// root directory, all branched off one shared repository.
type Manager struct {
	repoPath string
	root     string
	git      git.Client
}

// NewManager returns a Manager for the shared repo at repoPath, creating
// workspaces under root.
func NewManager(repoPath, root string, gc git.Client) *Manager {
	return &Manager{repoPath: repoPath, root: root, git: gc}
}

// PathFor returns the deterministic workspace path for a ticket.
func (m *Manager) PathFor(ticketID string) string {
	return filepath.Join(m.root, strings.ToLower(ticketID))
}

// BranchFor returns the deterministic branch name for a ticket.
func BranchFor(ticketID string) string {
	return "agent/" + strings.ToLower(ticketID)
}

// ticketFromPath derives the ticket ID back out of a workspace path.
func ticketFromPath(path string) string {
	return filepath.Base(path)
}

func (m *Manager) run(dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	out, err := exec.Command("git", fullArgs...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Create allocates a new workspace for the ticket on a fresh branch based on
// the latest known remote state of baseBranch. The workspace is locked
// before Create returns. Any partially created state is removed before an
// error is surfaced.
func (m *Manager) Create(ctx context.Context, ticketID, baseBranch string) (*Workspace, error) {
	path := m.PathFor(ticketID)
	branch := BranchFor(ticketID)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceExists, ticketID)
	}

	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	// Pick up the latest remote state when a remote is configured;
	// a repo without one bases the branch on the local ref.
	baseRef := baseBranch
	if has, _ := m.git.HasRemote(m.repoPath); has {
		if _, err := m.run(m.repoPath, "fetch", "origin", baseBranch); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", baseBranch, err)
		}
		baseRef = "origin/" + baseBranch
	}

	// A branch that predates this Create may hold unmerged work; cleanup
	// must never delete it on our behalf.
	branchExisted := m.branchExists(branch)

	if _, err := m.run(m.repoPath, "worktree", "add", "-b", branch, path, baseRef); err != nil {
		m.cleanup(path, branch, branchExisted)
		return nil, fmt.Errorf("create workspace for %s: %w", ticketID, err)
	}

	baseRev, err := m.run(path, "rev-parse", "HEAD")
	if err != nil {
		m.cleanup(path, branch, branchExisted)
		return nil, fmt.Errorf("resolve base revision: %w", err)
	}

	if err := m.Lock(ctx, ticketID, "agent working"); err != nil {
		m.cleanup(path, branch, branchExisted)
		return nil, fmt.Errorf("lock workspace: %w", err)
	}

	return &Workspace{
		TicketID: ticketID,
		Path:     path,
		Branch:   branch,
		BaseRev:  baseRev,
		Locked:   true,
	}, nil
}

// branchExists reports whether the local branch ref exists.
func (m *Manager) branchExists(branch string) bool {
	_, err := m.run(m.repoPath, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// cleanup tears down whatever a failed Create left behind. The branch is
// only removed when Create made it; a pre-existing branch stays untouched.
func (m *Manager) cleanup(path, branch string, branchExisted bool) {
	_, _ = m.run(m.repoPath, "worktree", "remove", "--force", path)
	_ = os.RemoveAll(path)
	_, _ = m.run(m.repoPath, "worktree", "prune")
	if !branchExisted {
		_, _ = m.run(m.repoPath, "branch", "-D", branch)
	}
}

// Get returns the workspace for a ticket, or ErrWorkspaceNotFound.
func (m *Manager) Get(ticketID string) (*Workspace, error) {
	path := m.PathFor(ticketID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}

	ws := &Workspace{
		TicketID: ticketID,
		Path:     path,
		Branch:   BranchFor(ticketID),
	}
	worktrees, err := m.git.WorktreeList(m.repoPath)
	if err != nil {
		return ws, nil
	}
	for _, wt := range worktrees {
		if wt.Path == path {
			ws.Branch = wt.Branch
			ws.BaseRev = wt.HEAD
			ws.Locked = wt.Locked
		}
	}
	return ws, nil
}

// List enumerates all worktrees recognized as claude-dev workspaces (those
// living under the workspace root), annotated with their ticket IDs.
func (m *Manager) List() ([]*Workspace, error) {
	worktrees, err := m.git.WorktreeList(m.repoPath)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	prefix := m.root + string(filepath.Separator)
	var result []*Workspace
	for _, wt := range worktrees {
		if !strings.HasPrefix(wt.Path, prefix) {
			continue
		}
		result = append(result, &Workspace{
			TicketID: ticketFromPath(wt.Path),
			Path:     wt.Path,
			Branch:   wt.Branch,
			BaseRev:  wt.HEAD,
			Locked:   wt.Locked,
		})
	}
	return result, nil
}

// Lock protects a workspace from cleanup. Locking an already-locked
// workspace is not an error.
func (m *Manager) Lock(ctx context.Context, ticketID, reason string) error {
	path := m.PathFor(ticketID)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}
	if _, err := m.run(m.repoPath, "worktree", "lock", "--reason", reason, path); err != nil {
		if strings.Contains(err.Error(), "already locked") {
			return nil
		}
		return err
	}
	return nil
}

// Unlock releases a workspace's protective lock. Unlocking a workspace that
// is not locked is not an error.
func (m *Manager) Unlock(ctx context.Context, ticketID string) error {
	path := m.PathFor(ticketID)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}
	if _, err := m.run(m.repoPath, "worktree", "unlock", path); err != nil {
		if strings.Contains(err.Error(), "not locked") {
			return nil
		}
		return err
	}
	return nil
}

// Remove unlocks and deletes the workspace and its branch. With force set,
// uncommitted and unmerged state is discarded; without it git refuses to
// remove a dirty worktree and the error is surfaced.
func (m *Manager) Remove(ctx context.Context, ticketID string, force bool) error {
	path := m.PathFor(ticketID)
	branch := BranchFor(ticketID)

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}

	_ = m.Unlock(ctx, ticketID)

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := m.run(m.repoPath, args...); err != nil {
		if !force {
			return fmt.Errorf("remove workspace for %s: %w", ticketID, err)
		}
		// Forced removal falls back to deleting the tree by hand.
		_ = os.RemoveAll(path)
		_, _ = m.run(m.repoPath, "worktree", "prune")
	}

	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := m.run(m.repoPath, "branch", flag, branch); err != nil && force {
		return nil
	} else if err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// RunResult holds the captured output of a command run inside a workspace.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes a command with the workspace root as working directory and
// returns its full stdout/stderr after exit. The command's non-zero exit is
// reported through ExitCode, not an error.
func (m *Manager) Run(ctx context.Context, ticketID string, name string, args ...string) (*RunResult, error) {
	path := m.PathFor(ticketID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run %s in workspace %s: %w", name, ticketID, err)
	}
	return result, nil
}

// Commit stages all changes in the workspace and commits them.
func (m *Manager) Commit(ctx context.Context, ticketID, message string) error {
	path := m.PathFor(ticketID)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}
	if _, err := m.run(path, "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	if _, err := m.run(path, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push pushes the ticket's branch to origin, setting upstream tracking on
// the first push.
func (m *Manager) Push(ctx context.Context, ticketID string) error {
	path := m.PathFor(ticketID)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ticketID)
	}
	if _, err := m.run(path, "push", "-u", "origin", BranchFor(ticketID)); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}
