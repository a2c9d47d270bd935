package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one commit touching
// .sudocode/issues.jsonl and README.md.
func initRepo(t *testing.T) string {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(repo, 0o750))

	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	git("init", "-b", "main")
	git("config", "user.email", "test@example.com")
	git("config", "user.name", "Test User")

	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".sudocode"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".sudocode", "issues.jsonl"),
		[]byte("{\"id\":\"ISSUE-001\"}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"),
		[]byte("hello\n"), 0o644))
	git("add", ".")
	git("commit", "-m", "initial")
	return repo
}

func commitFile(t *testing.T, repo, rel, content, msg string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(repo, rel)), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(repo, rel), []byte(content), 0o644))
	for _, args := range [][]string{{"add", rel}, {"commit", "-m", msg}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	commit, err := CurrentCommit(context.Background(), repo)
	require.NoError(t, err)
	return commit
}

func TestIsValidRepo(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	assert.True(t, IsValidRepo(ctx, repo))
	assert.False(t, IsValidRepo(ctx, t.TempDir()))
}

func TestRunErrorCarriesStderr(t *testing.T) {
	repo := initRepo(t)
	_, err := Run(context.Background(), repo, "checkout", "no-such-branch")
	require.Error(t, err)
	var ge *GitError
	require.ErrorAs(t, err, &ge)
	assert.NotEmpty(t, ge.Stderr)
	assert.Contains(t, ge.Error(), "no-such-branch")
}

func TestBranchLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	require.NoError(t, CreateBranch(ctx, repo, "feature/x", ""))
	branches, err := ListBranches(ctx, repo)
	require.NoError(t, err)
	assert.Contains(t, branches, "main")
	assert.Contains(t, branches, "feature/x")

	require.NoError(t, DeleteBranch(ctx, repo, "feature/x", false))
	branches, err = ListBranches(ctx, repo)
	require.NoError(t, err)
	assert.NotContains(t, branches, "feature/x")
}

func TestBranchContains(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	head, err := CurrentCommit(ctx, repo)
	require.NoError(t, err)

	ok, err := BranchContains(ctx, repo, "main", head)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, CreateBranch(ctx, repo, "side", ""))
	later := commitFile(t, repo, "later.txt", "x\n", "later commit")
	ok, err = BranchContains(ctx, repo, "side", later)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShowFile(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	content, found, err := ShowFile(ctx, repo, "HEAD", ".sudocode/issues.jsonl")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "{\"id\":\"ISSUE-001\"}\n", content)

	_, found, err = ShowFile(ctx, repo, "HEAD", ".sudocode/specs.jsonl")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWorktreeAddListRemove(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	m := NewWorktreeManager(repo, zerolog.Nop())
	wt := filepath.Join(t.TempDir(), "wt")

	require.NoError(t, m.Add(ctx, wt, "exec/task-1", false))
	assert.FileExists(t, filepath.Join(wt, "README.md"))

	infos, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].IsMain)
	assert.Equal(t, "main", infos[0].Branch)
	found := false
	for _, info := range infos[1:] {
		if info.Branch == "exec/task-1" {
			found = true
			assert.NotEmpty(t, info.Commit)
			assert.False(t, info.IsMain)
		}
	}
	assert.True(t, found)

	require.NoError(t, m.Remove(ctx, wt, false))
	infos, err = m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	branches, err := m.ListBranches(ctx)
	require.NoError(t, err)
	assert.Contains(t, branches, "exec/task-1")
}

func TestWorktreeAddExistingBranch(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	m := NewWorktreeManager(repo, zerolog.Nop())

	require.NoError(t, m.CreateBranch(ctx, "stream/ISSUE-001", ""))
	wt := filepath.Join(t.TempDir(), "wt")
	require.NoError(t, m.Add(ctx, wt, "stream/ISSUE-001", false))

	branch, err := CurrentBranch(ctx, wt)
	require.NoError(t, err)
	assert.Equal(t, "stream/ISSUE-001", branch)
}

func TestWorktreePruneAfterManualDelete(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	m := NewWorktreeManager(repo, zerolog.Nop())
	wt := filepath.Join(t.TempDir(), "wt")

	require.NoError(t, m.Add(ctx, wt, "exec/task-2", false))
	require.NoError(t, os.RemoveAll(wt))
	require.NoError(t, m.Prune(ctx))

	infos, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestParseWorktreeListPorcelain(t *testing.T) {
	out := "worktree /repo\n" +
		"HEAD 1111111111111111111111111111111111111111\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /repo/.sudocode/worktrees/exec-1\n" +
		"HEAD 2222222222222222222222222222222222222222\n" +
		"branch refs/heads/exec/exec-1\n" +
		"locked agent running\n" +
		"\n" +
		"worktree /repo/.sudocode/worktrees/exec-2\n" +
		"HEAD 3333333333333333333333333333333333333333\n" +
		"detached\n"

	infos := parseWorktreeList(out)
	require.Len(t, infos, 3)
	assert.True(t, infos[0].IsMain)
	assert.Equal(t, "main", infos[0].Branch)
	assert.Equal(t, "exec/exec-1", infos[1].Branch)
	assert.True(t, infos[1].IsLocked)
	assert.Equal(t, "", infos[2].Branch)
	assert.Equal(t, "3333333333333333333333333333333333333333", infos[2].Commit)
}

func TestSparseCheckout(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	m := NewWorktreeManager(repo, zerolog.Nop())
	wt := filepath.Join(t.TempDir(), "wt")

	require.NoError(t, m.Add(ctx, wt, "sync/state", false))
	require.NoError(t, m.ConfigureSparseCheckout(ctx, wt, []string{".sudocode"}))

	assert.FileExists(t, filepath.Join(wt, ".sudocode", "issues.jsonl"))
	assert.NoFileExists(t, filepath.Join(wt, "README.md"))
}

func TestExecutionWorktreePath(t *testing.T) {
	p := ExecutionWorktreePath("/proj/.sudocode", "exec-42")
	assert.Equal(t, filepath.Join("/proj/.sudocode", "worktrees", "exec-42"), p)
}
