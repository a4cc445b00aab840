package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreagent/runtime/internal/config"
	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"
)

// eventSink is the subset of *eventstore.Store the Coordinator needs;
// event append failures are logged and swallowed per the propagation
// policy — observability is not a correctness gate here.
type eventSink interface {
	InsertEvent(ctx context.Context, parentEventID, sessionID, workspaceID string, eventType domain.EventType, payload any) (*domain.Event, error)
}

// AcquireOptions customizes Acquire's isolation decision.
type AcquireOptions struct {
	ForceIsolation  bool
	ParentSessionID string
	ParentCommit    string
	BranchName      string
	WorkspaceID     string
}

// ReleaseOptions customizes Release's commit/merge behavior.
type ReleaseOptions struct {
	CommitMessage string
	MergeTo       string
	MergeStrategy string
	Force         bool
}

// MergeResult reports the outcome of a merge strategy.
type MergeResult struct {
	Success    bool
	Strategy   string
	CommitHash string
	Conflicts  []string
}

// RecoveryStats summarizes a startup recovery scan.
type RecoveryStats struct {
	Recovered int
	Deleted   int
}

type sessionState struct {
	domain.WorkingDirectory
	RepoRoot    string
	WorkspaceID string
}

// Coordinator is the owning struct for all worktree state: no
// free-standing package-level statics, so multiple coordinators (e.g.
// in tests) never share state.
type Coordinator struct {
	mu         sync.Mutex
	prefs      config.Preferences
	logger     *config.Logger
	store      eventSink
	active     map[string]*sessionState // sessionID -> state
	mainOwner  map[string]string        // repoRoot -> sessionID owning the main checkout
}

// New creates a Coordinator backed by the given event sink.
func New(prefs config.Preferences, logger *config.Logger, store eventSink) *Coordinator {
	return &Coordinator{
		prefs:     prefs,
		logger:    logger,
		store:     store,
		active:    make(map[string]*sessionState),
		mainOwner: make(map[string]string),
	}
}

func (c *Coordinator) timeout() time.Duration {
	if c.prefs.VCSSubprocessTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.prefs.VCSSubprocessTimeout) * time.Second
}

func (c *Coordinator) emit(ctx context.Context, sessionID, workspaceID string, eventType domain.EventType, payload any) {
	if c.store == nil {
		return
	}
	if _, err := c.store.InsertEvent(ctx, "", sessionID, workspaceID, eventType, payload); err != nil {
		if c.logger != nil {
			c.logger.Warnf("worktree: emit %s for session %s failed: %v", eventType, sessionID, err)
		}
	}
}

// Acquire implements the Acquire contract of §4.2: reuse an existing
// handle, detect the repo, consult the isolation policy, and create (or
// reuse) an isolated checkout when required.
func (c *Coordinator) Acquire(ctx context.Context, sessionID, workingDir string, opts AcquireOptions) (*domain.WorkingDirectory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.active[sessionID]; ok {
		wd := st.WorkingDirectory
		return &wd, nil
	}

	timeout := c.timeout()
	repoRoot, isRepo := detectGitRepo(ctx, workingDir, timeout)
	if !isRepo {
		wd := domain.WorkingDirectory{Path: workingDir, Branch: "none", Isolated: false, SessionID: sessionID, BaseCommit: "none"}
		c.active[sessionID] = &sessionState{WorkingDirectory: wd, WorkspaceID: opts.WorkspaceID}
		c.emit(ctx, sessionID, opts.WorkspaceID, domain.EventWorktreeAcquired, domain.WorktreeAcquiredPayload{
			Path: wd.Path, Branch: wd.Branch, BaseCommit: wd.BaseCommit, Isolated: false,
		})
		return &wd, nil
	}

	isolate := c.shouldIsolate(repoRoot, sessionID, opts)

	var wd domain.WorkingDirectory
	if !isolate {
		branch, err := currentBranch(ctx, repoRoot, timeout)
		if err != nil {
			branch = "none"
		}
		base, err := currentCommit(ctx, repoRoot, timeout)
		if err != nil {
			base = "none"
		}
		wd = domain.WorkingDirectory{Path: repoRoot, Branch: branch, Isolated: false, SessionID: sessionID, BaseCommit: base}
		c.mainOwner[repoRoot] = sessionID
	} else {
		baseDir := c.prefs.WorktreeBasePath
		if baseDir == "" {
			baseDir = ".worktrees"
		}
		if !filepath.IsAbs(baseDir) {
			baseDir = filepath.Join(repoRoot, baseDir)
		}
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create worktree base dir: %w", err)
		}

		baseCommit := opts.ParentCommit
		if baseCommit == "" && opts.ParentSessionID != "" {
			if parent, ok := c.active[opts.ParentSessionID]; ok {
				if pc, err := currentCommit(ctx, parent.Path, timeout); err == nil {
					baseCommit = pc
				}
			}
		}
		if baseCommit == "" {
			hc, err := currentCommit(ctx, repoRoot, timeout)
			if err != nil {
				return nil, fmt.Errorf("resolve repo HEAD: %w", err)
			}
			baseCommit = hc
		}

		branchPrefix := c.prefs.BranchPrefix
		if branchPrefix == "" {
			branchPrefix = "session/"
		}
		branch := opts.BranchName
		if branch == "" {
			branch = branchPrefix + sessionID
		}
		if err := createBranch(ctx, repoRoot, branch, baseCommit, timeout); err != nil {
			return nil, fmt.Errorf("create session branch: %w", err)
		}

		checkoutPath := filepath.Join(baseDir, sessionID)
		if _, err := os.Stat(checkoutPath); os.IsNotExist(err) {
			if err := worktreeAdd(ctx, repoRoot, checkoutPath, branch, timeout); err != nil {
				return nil, fmt.Errorf("create worktree: %w", err)
			}
		}

		wd = domain.WorkingDirectory{Path: checkoutPath, Branch: branch, Isolated: true, SessionID: sessionID, BaseCommit: baseCommit}
	}

	c.active[sessionID] = &sessionState{WorkingDirectory: wd, RepoRoot: repoRoot, WorkspaceID: opts.WorkspaceID}
	c.emit(ctx, sessionID, opts.WorkspaceID, domain.EventWorktreeAcquired, domain.WorktreeAcquiredPayload{
		Path: wd.Path, Branch: wd.Branch, BaseCommit: wd.BaseCommit, Isolated: wd.Isolated, ForkedFrom: opts.ParentSessionID,
	})
	return &wd, nil
}

// shouldIsolate implements the isolation policy of §4.2 step 3. Caller
// must hold c.mu.
func (c *Coordinator) shouldIsolate(repoRoot, sessionID string, opts AcquireOptions) bool {
	if c.prefs.IsolationMode == config.IsolationNever {
		return false
	}
	if c.prefs.IsolationMode == config.IsolationAlways {
		return true
	}
	if opts.ForceIsolation {
		return true
	}
	if opts.ParentSessionID != "" {
		return true
	}
	if c.prefs.IsolationMode == config.IsolationLazy {
		if owner, ok := c.mainOwner[repoRoot]; ok && owner != sessionID {
			return true
		}
	}
	return false
}

// Release implements the Release contract of §4.2. Internal state is
// always dropped, even when an error is returned — releases are best
// effort from the caller's perspective.
func (c *Coordinator) Release(ctx context.Context, sessionID string, opts ReleaseOptions) error {
	c.mu.Lock()
	st, ok := c.active[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	defer func() {
		c.mu.Lock()
		delete(c.active, sessionID)
		if c.mainOwner[st.RepoRoot] == sessionID {
			delete(c.mainOwner, st.RepoRoot)
		}
		c.mu.Unlock()
	}()

	timeout := c.timeout()

	if _, err := os.Stat(st.Path); os.IsNotExist(err) {
		c.emit(ctx, sessionID, st.WorkspaceID, domain.EventWorktreeReleased, domain.WorktreeReleasedPayload{
			Path: st.Path, Branch: st.Branch, Deleted: true,
		})
		if st.RepoRoot != "" {
			_ = worktreePrune(ctx, st.RepoRoot, timeout)
		}
		return nil
	}

	dirty, err := isDirty(ctx, st.Path, timeout)
	if err != nil {
		return fmt.Errorf("check dirty: %w", err)
	}

	if dirty && (c.prefs.AutoCommitOnRelease || opts.CommitMessage != "") {
		message := opts.CommitMessage
		if message == "" {
			message = fmt.Sprintf("Session %s auto-save", sessionID)
		}
		if err := stageAll(ctx, st.Path, timeout); err != nil {
			return fmt.Errorf("stage changes: %w", err)
		}
		hash, err := commit(ctx, st.Path, message, timeout)
		if err != nil {
			return fmt.Errorf("commit changes: %w", err)
		}
		files, ins, del, statErr := commitStats(ctx, st.Path, hash, timeout)
		if statErr != nil {
			files, ins, del = nil, 0, 0
		}
		c.emit(ctx, sessionID, st.WorkspaceID, domain.EventWorktreeCommit, domain.WorktreeCommitPayload{
			Hash: hash, Message: message, FilesChanged: files, Insertions: ins, Deletions: del,
		})
	}

	if opts.MergeTo != "" && st.Isolated {
		result, mergeErr := c.merge(ctx, st, opts.MergeTo, opts.MergeStrategy, timeout)
		c.emit(ctx, sessionID, st.WorkspaceID, domain.EventWorktreeMerged, domain.WorktreeMergedPayload{
			Success: result.Success, Strategy: result.Strategy, SourceBranch: st.Branch,
			TargetBranch: opts.MergeTo, CommitHash: result.CommitHash, Conflicts: result.Conflicts,
		})
		if mergeErr != nil && !opts.Force {
			return mergeErr
		}
	}

	worktreeDeleted := false
	branchDeleted := false
	if st.Isolated && c.prefs.DeleteOnRelease {
		if err := worktreeRemove(ctx, st.RepoRoot, st.Path, true, timeout); err != nil {
			if c.logger != nil {
				c.logger.Warnf("worktree: remove %s failed: %v", st.Path, err)
			}
		} else {
			worktreeDeleted = true
		}
		if !c.prefs.PreserveBranches {
			if err := deleteBranch(ctx, st.RepoRoot, st.Branch, timeout); err == nil {
				branchDeleted = true
			}
		}
	}

	finalCommit, _ := currentCommit(ctx, st.Path, timeout)
	c.emit(ctx, sessionID, st.WorkspaceID, domain.EventWorktreeReleased, domain.WorktreeReleasedPayload{
		Path: st.Path, Branch: st.Branch, FinalCommit: finalCommit,
		WorktreeDeleted: worktreeDeleted, BranchDeleted: branchDeleted,
	})
	return nil
}

// Active reports the working directory currently acquired for a session, if any.
func (c *Coordinator) Active(sessionID string) (*domain.WorkingDirectory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.active[sessionID]
	if !ok {
		return nil, false
	}
	wd := st.WorkingDirectory
	return &wd, true
}

// Recover scans baseDir for checkouts whose session is no longer active,
// committing dirty trees with an auto-recovery message and then removing
// the checkout (preserving its branch).
func (c *Coordinator) Recover(ctx context.Context, repoRoot string) (RecoveryStats, error) {
	var stats RecoveryStats
	timeout := c.timeout()

	baseDir := c.prefs.WorktreeBasePath
	if baseDir == "" {
		baseDir = ".worktrees"
	}
	if !filepath.IsAbs(baseDir) {
		baseDir = filepath.Join(repoRoot, baseDir)
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("read worktree base dir: %w", err)
	}

	c.mu.Lock()
	activeIDs := make(map[string]bool, len(c.active))
	for id := range c.active {
		activeIDs[id] = true
	}
	c.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() || activeIDs[entry.Name()] {
			continue
		}
		checkoutPath := filepath.Join(baseDir, entry.Name())

		if dirty, err := isDirty(ctx, checkoutPath, timeout); err == nil && dirty {
			if err := stageAll(ctx, checkoutPath, timeout); err == nil {
				if _, err := commit(ctx, checkoutPath, "auto-recovery", timeout); err == nil {
					stats.Recovered++
				}
			}
		}
		if err := worktreeRemove(ctx, repoRoot, checkoutPath, true, timeout); err == nil {
			stats.Deleted++
		}
	}

	if c.logger != nil {
		c.logger.Printf("worktree: recovery complete, recovered=%d deleted=%d", stats.Recovered, stats.Deleted)
	}
	return stats, nil
}
