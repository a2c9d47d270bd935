// Package gitx wraps the host git command. It deliberately shells out
// instead of binding a git library so behavior matches what a developer
// sees on the command line, including hooks, config, and credential
// helpers.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GitError is the single error kind for failed git invocations. It
// carries the captured streams so callers can classify failures
// (conflicts, missing refs) without re-running the command.
type GitError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// ExitCode returns the git process exit code, or -1 when the command
// never ran.
func (e *GitError) ExitCode() int {
	var ee *exec.ExitError
	if errors.As(e.Err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// Run executes git with the given arguments in dir and returns trimmed
// stdout. Arguments are passed directly to the process, never through a
// shell. Failures come back as *GitError.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := Output(ctx, dir, args...)
	return strings.TrimSpace(out), err
}

// Output is Run without the trailing-whitespace trim, for commands
// whose byte-exact output matters (file contents, patches).
func Output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &GitError{
			Args:   args,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// IsValidRepo reports whether dir is inside a git work tree.
func IsValidRepo(ctx context.Context, dir string) bool {
	out, err := Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// RepoRoot returns the top-level directory of the repository containing
// dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	return Run(ctx, dir, "rev-parse", "--show-toplevel")
}

// CurrentCommit returns the full hash of HEAD.
func CurrentCommit(ctx context.Context, dir string) (string, error) {
	return Run(ctx, dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the short name of the checked-out branch, or
// "HEAD" when detached.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	return Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// ListBranches returns local branch names, without the refs/heads/
// prefix.
func ListBranches(ctx context.Context, dir string) ([]string, error) {
	out, err := Run(ctx, dir, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// BranchContains reports whether branch already has commit in its
// history.
func BranchContains(ctx context.Context, dir, branch, commit string) (bool, error) {
	out, err := Run(ctx, dir, "branch", "--contains", commit, "--format=%(refname:short)")
	if err != nil {
		return false, err
	}
	for _, b := range strings.Split(out, "\n") {
		if strings.TrimSpace(b) == branch {
			return true, nil
		}
	}
	return false, nil
}

// MergeBase returns the best common ancestor of two refs.
func MergeBase(ctx context.Context, dir, a, b string) (string, error) {
	return Run(ctx, dir, "merge-base", a, b)
}

// IsAncestor reports whether anc is an ancestor of desc. git signals
// "no" with exit code 1, which is not an error here.
func IsAncestor(ctx context.Context, dir, anc, desc string) (bool, error) {
	_, err := Run(ctx, dir, "merge-base", "--is-ancestor", anc, desc)
	if err != nil {
		var ge *GitError
		if errors.As(err, &ge) && ge.ExitCode() == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DiffStats sums `git diff --numstat` between two revs. Binary files
// count toward files but not lines.
func DiffStats(ctx context.Context, dir, base, after string) (files, additions, deletions int, err error) {
	out, err := Run(ctx, dir, "diff", "--numstat", base, after)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		files++
		if a, err := strconv.Atoi(parts[0]); err == nil {
			additions += a
		}
		if d, err := strconv.Atoi(parts[1]); err == nil {
			deletions += d
		}
	}
	return files, additions, deletions, nil
}

// CreateBranch creates a branch at startPoint (HEAD when empty) without
// checking it out.
func CreateBranch(ctx context.Context, dir, name, startPoint string) error {
	args := []string{"branch", name}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := Run(ctx, dir, args...)
	return err
}

// DeleteBranch removes a local branch. Force deletes even when the
// branch is not fully merged.
func DeleteBranch(ctx context.Context, dir, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := Run(ctx, dir, "branch", flag, name)
	return err
}

// ShowFile returns the contents of path at the given rev. A path absent
// at that rev yields ("", false, nil) rather than an error.
func ShowFile(ctx context.Context, dir, rev, path string) (string, bool, error) {
	out, err := Output(ctx, dir, "show", rev+":"+path)
	if err != nil {
		var ge *GitError
		if errors.As(err, &ge) && missingPath(ge.Stderr) {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

func missingPath(stderr string) bool {
	return strings.Contains(stderr, "does not exist") ||
		strings.Contains(stderr, "exists on disk, but not in") ||
		strings.Contains(stderr, "bad object") ||
		strings.Contains(stderr, "invalid object name")
}
