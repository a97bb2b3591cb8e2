package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andthedropout/claude-dev/internal/git"
)

// setupManager builds a real shared repo in a temp dir and returns a Manager
// rooted next to it.
func setupManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()
	repo := filepath.Join(base, "repo")
	require.NoError(t, os.MkdirAll(repo, 0755))

	cmds := [][]string{
		{"git", "-C", repo, "init", "-b", "main"},
		{"git", "-C", repo, "config", "user.email", "test@test.com"},
		{"git", "-C", repo, "config", "user.name", "Test"},
		{"git", "-C", repo, "commit", "--allow-empty", "-m", "init"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}

	return NewManager(repo, filepath.Join(base, "workspaces"), git.NewClient())
}

func TestCreate_And_Get(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)
	assert.Equal(t, "T1", ws.TicketID)
	assert.Equal(t, "agent/t1", ws.Branch)
	assert.True(t, ws.Locked, "workspace is locked immediately after creation")
	assert.NotEmpty(t, ws.BaseRev)
	assert.DirExists(t, ws.Path)

	got, err := m.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, ws.Path, got.Path)
	assert.True(t, got.Locked)
}

func TestCreate_Duplicate(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)

	_, err = m.Create(ctx, "T1", "main")
	assert.ErrorIs(t, err, ErrWorkspaceExists)
}

func TestCreate_FailureLeavesNoPartialState(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	// A branch collision makes worktree add fail after the root dir exists.
	_, err := m.run(m.repoPath, "branch", BranchFor("T9"))
	require.NoError(t, err)

	_, err = m.Create(ctx, "T9", "main")
	require.Error(t, err)
	assert.NoDirExists(t, m.PathFor("T9"))

	// The colliding branch was not ours to make, so it is not ours to delete.
	branches, err := m.git.BranchList(m.repoPath)
	require.NoError(t, err)
	assert.Contains(t, branches, BranchFor("T9"), "pre-existing branch survives cleanup")
}

func TestGet_NotFound(t *testing.T) {
	m := setupManager(t)
	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestList_FiltersToWorkspaceRoot(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)
	_, err = m.Create(ctx, "T2", "main")
	require.NoError(t, err)

	// A worktree outside the workspace root is not ours.
	outside := filepath.Join(t.TempDir(), "other")
	require.NoError(t, exec.Command("git", "-C", m.repoPath, "worktree", "add", "-b", "other", outside).Run())

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []string{list[0].TicketID, list[1].TicketID}
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)
}

func TestLockUnlock_Idempotent(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)

	// Created locked; locking again is fine.
	assert.NoError(t, m.Lock(ctx, "T1", "still working"))

	assert.NoError(t, m.Unlock(ctx, "T1"))
	assert.NoError(t, m.Unlock(ctx, "T1"))
}

func TestRemove(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "T1", false))
	assert.NoDirExists(t, ws.Path)

	branches, err := m.git.BranchList(m.repoPath)
	require.NoError(t, err)
	assert.NotContains(t, branches, "agent/t1")

	assert.ErrorIs(t, m.Remove(ctx, "T1", false), ErrWorkspaceNotFound)
}

func TestRemove_ForceDiscardsDirtyState(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "junk.txt"), []byte("x"), 0644))

	require.NoError(t, m.Remove(ctx, "T1", true))
	assert.NoDirExists(t, ws.Path)
}

func TestRun_CapturesOutput(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)

	result, err := m.Run(ctx, "T1", "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Zero(t, result.ExitCode)

	result, err = m.Run(ctx, "T1", "sh", "-c", "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRun_NotFound(t *testing.T) {
	m := setupManager(t)
	_, err := m.Run(context.Background(), "missing", "true")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestCommit(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "impl.go"), []byte("package impl\n"), 0644))

	require.NoError(t, m.Commit(ctx, "T1", "add impl"))

	msg, err := m.git.LastCommitMessage(ws.Path)
	require.NoError(t, err)
	assert.Equal(t, "add impl", msg)
}

func TestPush_SetsUpstreamTracking(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	origin := filepath.Join(t.TempDir(), "origin.git")
	require.NoError(t, exec.Command("git", "init", "--bare", origin).Run())
	require.NoError(t, exec.Command("git", "-C", m.repoPath, "remote", "add", "origin", origin).Run())
	require.NoError(t, exec.Command("git", "-C", m.repoPath, "push", "-u", "origin", "main").Run())

	ws, err := m.Create(ctx, "T1", "main")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "impl.go"), []byte("package impl\n"), 0644))
	require.NoError(t, m.Commit(ctx, "T1", "add impl"))

	require.NoError(t, m.Push(ctx, "T1"))

	// The branch landed on the remote and the worktree tracks it.
	rev, err := m.run(origin, "rev-parse", "--verify", "refs/heads/agent/t1")
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	upstream, err := m.run(ws.Path, "rev-parse", "--abbrev-ref", "agent/t1@{upstream}")
	require.NoError(t, err)
	assert.Equal(t, "origin/agent/t1", upstream)

	// A second push with the upstream in place is still fine.
	require.NoError(t, m.Push(ctx, "T1"))
}

func TestPush_NotFound(t *testing.T) {
	m := setupManager(t)
	assert.ErrorIs(t, m.Push(context.Background(), "missing"), ErrWorkspaceNotFound)
}
