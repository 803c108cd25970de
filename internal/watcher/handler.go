package watcher

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitbutler/butlerd/internal/cloudsync"
	"github.com/gitbutler/butlerd/internal/logging"
	"github.com/gitbutler/butlerd/internal/metrics"
	"github.com/gitbutler/butlerd/internal/oplog"
	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/sessions"
	"github.com/gitbutler/butlerd/internal/users"
	"github.com/gitbutler/butlerd/internal/vbranch"
	"github.com/gitbutler/butlerd/internal/vcs"
)

// DefaultSnapshotInterval is the minimum time between automatic snapshots of
// one project.
const DefaultSnapshotInterval = 300 * time.Second

// Watched .git file names, compared verbatim.
const (
	fetchHeadFile = "FETCH_HEAD"
	headLogFile   = "logs/HEAD"
	headFile      = "HEAD"
)

// ProjectStore is the subset of the project registry the handler needs.
type ProjectStore interface {
	Get(id string) (*projects.Project, error)
	MarkSnapshot(id string, at time.Time) error
	MarkSynced(id string, at time.Time) error
}

// UserStore returns the logged in user, or nil.
type UserStore interface {
	GetUser() (*users.User, error)
}

// SessionRecorder records worktree edits into sessions.
type SessionRecorder interface {
	ObserveFile(ctx context.Context, project *projects.Project, relPath string) (*sessions.Observation, error)
	Commit(ctx context.Context, project *projects.Project, obs *sessions.Observation) error
	FlushDue(ctx context.Context, now time.Time) ([]*sessions.Session, error)
}

// SnapshotFunc writes a snapshot of repo to the oplog.
type SnapshotFunc func(ctx context.Context, repo vcs.Repository, details oplog.SnapshotDetails, perm *projects.WriteAccess) (string, error)

// HandlerConfig wires a Handler to its collaborators.
type HandlerConfig struct {
	Projects ProjectStore
	Users    UserStore
	Open     vcs.Opener
	Branches vbranch.Lister
	Pusher   cloudsync.Pusher
	Sender   *Sender

	// Sessions is optional. Without it worktree edits are not recorded.
	Sessions SessionRecorder

	// Snapshot defaults to oplog.CreateSnapshot.
	Snapshot SnapshotFunc

	// SnapshotInterval defaults to DefaultSnapshotInterval.
	SnapshotInterval time.Duration

	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// Handler turns InternalEvents into repository actions and outward Changes.
// One Handler is shared by every event goroutine; it holds no per-event
// state.
type Handler struct {
	projects ProjectStore
	users    UserStore
	open     vcs.Opener
	branches vbranch.Lister
	pusher   cloudsync.Pusher
	sender   *Sender
	sessions SessionRecorder
	snapshot SnapshotFunc

	snapshotInterval time.Duration

	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// NewHandler validates cfg and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	switch {
	case cfg.Projects == nil:
		return nil, fmt.Errorf("projects cannot be nil")
	case cfg.Users == nil:
		return nil, fmt.Errorf("users cannot be nil")
	case cfg.Open == nil:
		return nil, fmt.Errorf("repository opener cannot be nil")
	case cfg.Branches == nil:
		return nil, fmt.Errorf("branch lister cannot be nil")
	case cfg.Pusher == nil:
		return nil, fmt.Errorf("pusher cannot be nil")
	case cfg.Sender == nil:
		return nil, fmt.Errorf("sender cannot be nil")
	}

	h := &Handler{
		projects:         cfg.Projects,
		users:            cfg.Users,
		open:             cfg.Open,
		branches:         cfg.Branches,
		pusher:           cfg.Pusher,
		sender:           cfg.Sender,
		sessions:         cfg.Sessions,
		snapshot:         cfg.Snapshot,
		snapshotInterval: cfg.SnapshotInterval,
		metrics:          cfg.Metrics,
		log:              cfg.Logger,
		now:              time.Now,
	}
	if h.snapshot == nil {
		h.snapshot = oplog.CreateSnapshot
	}
	if h.snapshotInterval <= 0 {
		h.snapshotInterval = DefaultSnapshotInterval
	}
	if h.log == nil {
		h.log = logging.NewLogger("watcher")
	}

	return h, nil
}

// Handle processes one event. It is safe to call concurrently.
func (h *Handler) Handle(ctx context.Context, event InternalEvent) error {
	switch e := event.(type) {
	case ProjectFilesChange:
		return h.recalculateEverything(ctx, e)

	case GitFilesChange:
		if err := h.gitFilesChanged(ctx, e); err != nil {
			return fmt.Errorf("failed to handle git file change event: %w", err)
		}
		return nil

	case OplogChange:
		if err := h.oplogChanged(ctx, e.ProjectID); err != nil {
			return fmt.Errorf("failed to handle oplog change event: %w", err)
		}
		return nil

	// Posted at the end of mutating commands so clients see fresh state
	case RecalculateVirtualBranches:
		if err := h.calculateVirtualBranches(ctx, e.ProjectID); err != nil {
			return fmt.Errorf("failed to handle virtual branch event: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown event type %T", event)
	}
}

func (h *Handler) emit(ctx context.Context, change Change) error {
	if err := h.sender.Send(ctx, change); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	h.metrics.RecordChange(change.Kind())
	return nil
}

func (h *Handler) getProject(id string) (*projects.Project, error) {
	project, err := h.projects.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

func (h *Handler) openRepository(project *projects.Project) (vcs.Repository, error) {
	repo, err := h.open(project.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open project repository: %w", err)
	}
	return repo, nil
}

func (h *Handler) recalculateEverything(ctx context.Context, e ProjectFilesChange) error {
	if err := h.maybeCreateSnapshot(ctx, e.ProjectID); err != nil {
		h.log.WithError(err).WithField("project", e.ProjectID).Warn("Skipped snapshot")
	}

	registerErr := h.registerDeltas(ctx, e.ProjectID, e.Paths)

	if err := h.calculateVirtualBranches(ctx, e.ProjectID); err != nil {
		return err
	}

	return registerErr
}

func (h *Handler) calculateVirtualBranches(ctx context.Context, projectID string) error {
	project, err := h.getProject(projectID)
	if err != nil {
		return err
	}

	branches, err := h.branches.ListVirtualBranches(ctx, project)
	if err != nil {
		if vbranch.HasMarker(err, vbranch.MarkerVerificationFailure) {
			h.log.WithField("project", projectID).WithError(err).Debug("Skipped virtual branch recalculation")
			return nil
		}
		return fmt.Errorf("failed to list virtual branches: %w", err)
	}

	return h.emit(ctx, VirtualBranchesUpdated{
		ProjectID: project.ID,
		Branches:  branches,
	})
}

func (h *Handler) registerDeltas(ctx context.Context, projectID string, paths []string) error {
	if h.sessions == nil || len(paths) == 0 {
		return nil
	}

	project, err := h.getProject(projectID)
	if err != nil {
		return err
	}

	candidates := make([]string, 0, len(paths))
	for _, p := range paths {
		p = path.Clean(p)
		if p == ".git" || strings.HasPrefix(p, ".git/") {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}

	repo, err := h.openRepository(project)
	if err != nil {
		return err
	}

	ignored, err := repo.IgnoredPaths(ctx, candidates)
	if err != nil {
		return fmt.Errorf("failed to check ignored paths: %w", err)
	}

	for _, p := range candidates {
		if ignored[p] {
			continue
		}

		obs, err := h.sessions.ObserveFile(ctx, project, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if obs == nil {
			continue
		}

		if err := h.commitDelta(ctx, project, obs); err != nil {
			return fmt.Errorf("failed to register deltas for %s: %w", p, err)
		}
		h.metrics.RecordDelta()
	}

	return nil
}

// commitDelta persists one observation under the worktree guard. Reading
// and diffing happen before the guard is taken.
func (h *Handler) commitDelta(ctx context.Context, project *projects.Project, obs *sessions.Observation) error {
	guard := project.ExclusiveWorktreeAccess()
	defer guard.Release()

	return h.sessions.Commit(ctx, project, obs)
}

func (h *Handler) gitFilesChanged(ctx context.Context, e GitFilesChange) error {
	project, err := h.getProject(e.ProjectID)
	if err != nil {
		return err
	}

	var repo vcs.Repository
	for _, p := range e.Paths {
		switch p {
		case fetchHeadFile:
			if err := h.emit(ctx, GitFetchOccurred{ProjectID: project.ID}); err != nil {
				return err
			}

		case headLogFile:
			if err := h.emit(ctx, GitActivityOccurred{ProjectID: project.ID}); err != nil {
				return err
			}

		case headFile:
			if repo == nil {
				if repo, err = h.openRepository(project); err != nil {
					return err
				}
			}

			head, err := repo.Head(ctx)
			if err != nil {
				return fmt.Errorf("failed to get head: %w", err)
			}

			if head != vbranch.IntegrationRef {
				if err := h.deleteIntegrationRef(ctx, project, repo); err != nil {
					return err
				}
			}

			if head != "" {
				if err := h.emit(ctx, GitHeadChanged{ProjectID: project.ID, Head: head}); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// deleteIntegrationRef drops the integration branch once HEAD has moved off
// it. A missing branch is not an error.
func (h *Handler) deleteIntegrationRef(ctx context.Context, project *projects.Project, repo vcs.Repository) error {
	guard := project.ExclusiveWorktreeAccess()
	defer guard.Release()

	if err := repo.DeleteReference(ctx, vbranch.IntegrationRef); err != nil {
		if errors.Is(err, vcs.ErrRefNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete integration branch: %w", err)
	}

	h.log.WithField("project", project.ID).Info("Deleted stale integration branch")
	return nil
}

// oplogChanged pushes the oplog when the project syncs and a user is logged
// in. Unconfigured sync is not an error.
func (h *Handler) oplogChanged(ctx context.Context, projectID string) error {
	project, err := h.getProject(projectID)
	if err != nil {
		return err
	}

	if !project.IsSyncEnabled() {
		return nil
	}
	if !project.HasCodeURL() {
		return nil
	}

	user, err := h.users.GetUser()
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil
	}

	repo, err := h.openRepository(project)
	if err != nil {
		return err
	}

	guard := project.ExclusiveWorktreeAccess()
	defer guard.Release()

	return h.pusher.PushOplog(ctx, repo, project, user, h.projects, guard.WritePermission())
}

// FlushSessions closes idle or expired sessions and emits SessionFlushed for
// each.
func (h *Handler) FlushSessions(ctx context.Context) error {
	if h.sessions == nil {
		return nil
	}

	flushed, flushErr := h.sessions.FlushDue(ctx, h.now())
	for _, session := range flushed {
		h.metrics.RecordSessionFlush()
		if err := h.emit(ctx, SessionFlushed{ProjectID: session.ProjectID, Session: session}); err != nil {
			return err
		}
	}

	if flushErr != nil {
		return fmt.Errorf("failed to flush sessions: %w", flushErr)
	}
	return nil
}
