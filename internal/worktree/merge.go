package worktree

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// merge dispatches to the requested merge strategy. On conflict or
// failure it returns a non-nil error alongside a MergeResult whose
// Conflicts lists the VCS-reported conflicting paths, falling back to
// the error text when the VCS reports none.
func (c *Coordinator) merge(ctx context.Context, st *sessionState, targetBranch, strategy string, timeout time.Duration) (MergeResult, error) {
	if strategy == "" {
		strategy = "merge"
	}
	switch strategy {
	case "squash":
		return c.mergeSquash(ctx, st, targetBranch, timeout)
	case "rebase":
		return c.mergeRebase(ctx, st, targetBranch, timeout)
	default:
		return c.mergeStandard(ctx, st, targetBranch, timeout)
	}
}

func (c *Coordinator) mergeStandard(ctx context.Context, st *sessionState, targetBranch string, timeout time.Duration) (MergeResult, error) {
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "checkout", targetBranch); err != nil {
		return failedMerge("merge", err), err
	}
	message := fmt.Sprintf("Merge session %s", sessionIDFromBranch(st))
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "merge", "--no-ff", "-m", message, st.Branch); err != nil {
		return conflictMerge(ctx, st.RepoRoot, "merge", timeout, err), err
	}
	hash, _ := currentCommit(ctx, st.RepoRoot, timeout)
	return MergeResult{Success: true, Strategy: "merge", CommitHash: hash}, nil
}

func (c *Coordinator) mergeSquash(ctx context.Context, st *sessionState, targetBranch string, timeout time.Duration) (MergeResult, error) {
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "checkout", targetBranch); err != nil {
		return failedMerge("squash", err), err
	}
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "merge", "--squash", st.Branch); err != nil {
		return conflictMerge(ctx, st.RepoRoot, "squash", timeout, err), err
	}
	message := fmt.Sprintf("Squash merge session %s", sessionIDFromBranch(st))
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "commit", "-m", message); err != nil {
		return failedMerge("squash", err), err
	}
	hash, _ := currentCommit(ctx, st.RepoRoot, timeout)
	return MergeResult{Success: true, Strategy: "squash", CommitHash: hash}, nil
}

func (c *Coordinator) mergeRebase(ctx context.Context, st *sessionState, targetBranch string, timeout time.Duration) (MergeResult, error) {
	if _, err := gitRun(ctx, st.Path, timeout, "rebase", targetBranch); err != nil {
		gitRun(ctx, st.Path, timeout, "rebase", "--abort")
		return conflictMerge(ctx, st.Path, "rebase", timeout, err), err
	}
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "checkout", targetBranch); err != nil {
		return failedMerge("rebase", err), err
	}
	if _, err := gitRun(ctx, st.RepoRoot, timeout, "merge", "--ff-only", st.Branch); err != nil {
		return failedMerge("rebase", err), err
	}
	hash, _ := currentCommit(ctx, st.RepoRoot, timeout)
	return MergeResult{Success: true, Strategy: "rebase", CommitHash: hash}, nil
}

func conflictMerge(ctx context.Context, dir, strategy string, timeout time.Duration, cause error) MergeResult {
	out, _ := gitRun(ctx, dir, timeout, "diff", "--name-only", "--diff-filter=U")
	var conflicts []string
	if out != "" {
		conflicts = strings.Split(out, "\n")
	} else {
		conflicts = []string{cause.Error()}
	}
	return MergeResult{Success: false, Strategy: strategy, Conflicts: conflicts}
}

func failedMerge(strategy string, err error) MergeResult {
	return MergeResult{Success: false, Strategy: strategy, Conflicts: []string{err.Error()}}
}

func sessionIDFromBranch(st *sessionState) string {
	return st.SessionID
}
