// Package worktree is the Worktree Coordinator: it decides whether a
// session runs in a repository's main checkout or an isolated sibling
// checkout, drives the git CLI to create/commit/merge/remove those
// checkouts, and emits events for every transition.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// gitRun executes a git command rooted at dir with a bounded timeout,
// the way checkpoint.GitRun does for muxd's single-checkout model,
// generalized to run against an arbitrary working directory and to be
// cancellable.
func gitRun(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = out
		}
		return out, fmt.Errorf("git %s: %s: %w", args[0], errMsg, err)
	}
	return out, nil
}

// detectGitRepo returns the repository root containing dir, if any.
func detectGitRepo(ctx context.Context, dir string, timeout time.Duration) (string, bool) {
	root, err := gitRun(ctx, dir, timeout, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		return "", false
	}
	return root, true
}

func currentBranch(ctx context.Context, dir string, timeout time.Duration) (string, error) {
	return gitRun(ctx, dir, timeout, "rev-parse", "--abbrev-ref", "HEAD")
}

func currentCommit(ctx context.Context, dir string, timeout time.Duration) (string, error) {
	return gitRun(ctx, dir, timeout, "rev-parse", "HEAD")
}

func isDirty(ctx context.Context, dir string, timeout time.Duration) (bool, error) {
	out, err := gitRun(ctx, dir, timeout, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func stageAll(ctx context.Context, dir string, timeout time.Duration) error {
	_, err := gitRun(ctx, dir, timeout, "add", "-A")
	return err
}

func commit(ctx context.Context, dir, message string, timeout time.Duration) (string, error) {
	if _, err := gitRun(ctx, dir, timeout, "commit", "-m", message); err != nil {
		return "", err
	}
	return currentCommit(ctx, dir, timeout)
}

func branchExists(ctx context.Context, dir, branch string, timeout time.Duration) bool {
	_, err := gitRun(ctx, dir, timeout, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func createBranch(ctx context.Context, dir, branch, startPoint string, timeout time.Duration) error {
	if branchExists(ctx, dir, branch, timeout) {
		return nil
	}
	_, err := gitRun(ctx, dir, timeout, "branch", branch, startPoint)
	return err
}

func deleteBranch(ctx context.Context, dir, branch string, timeout time.Duration) error {
	_, err := gitRun(ctx, dir, timeout, "branch", "-D", branch)
	return err
}

func worktreeAdd(ctx context.Context, repoRoot, checkoutPath, branch string, timeout time.Duration) error {
	_, err := gitRun(ctx, repoRoot, timeout, "worktree", "add", checkoutPath, branch)
	return err
}

func worktreeRemove(ctx context.Context, repoRoot, checkoutPath string, force bool, timeout time.Duration) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, checkoutPath)
	_, err := gitRun(ctx, repoRoot, timeout, args...)
	return err
}

func worktreePrune(ctx context.Context, repoRoot string, timeout time.Duration) error {
	_, err := gitRun(ctx, repoRoot, timeout, "worktree", "prune")
	return err
}

func diffNameOnly(ctx context.Context, dir, commitHash string, timeout time.Duration) ([]string, error) {
	out, err := gitRun(ctx, dir, timeout, "diff-tree", "--no-commit-id", "--name-only", "-r", commitHash)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func showFile(ctx context.Context, dir, ref, path string, timeout time.Duration) (string, error) {
	out, err := gitRun(ctx, dir, timeout, "show", ref+":"+path)
	if err != nil {
		return "", nil // file may not exist at ref (added/removed); treat as empty
	}
	return out, nil
}
