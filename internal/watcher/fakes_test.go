package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitbutler/butlerd/internal/cloudsync"
	"github.com/gitbutler/butlerd/internal/oplog"
	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/sessions"
	"github.com/gitbutler/butlerd/internal/users"
	"github.com/gitbutler/butlerd/internal/vbranch"
	"github.com/gitbutler/butlerd/internal/vcs"
)

type fakeProjects struct {
	mu        sync.Mutex
	projects  map[string]*projects.Project
	snapshots []string
	synced    []string
}

func newFakeProjects(ps ...*projects.Project) *fakeProjects {
	f := &fakeProjects{projects: make(map[string]*projects.Project)}
	for _, p := range ps {
		f.projects[p.ID] = p
	}
	return f
}

func (f *fakeProjects) Get(id string) (*projects.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.projects[id]
	if !ok {
		return nil, projects.ErrProjectNotFound
	}
	return p, nil
}

func (f *fakeProjects) MarkSnapshot(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.projects[id].LastSnapshotAt = at
	f.snapshots = append(f.snapshots, id)
	return nil
}

func (f *fakeProjects) MarkSynced(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.projects[id].LastSyncedAt = at
	f.synced = append(f.synced, id)
	return nil
}

type fakeUsers struct {
	user *users.User
	err  error
}

func (f *fakeUsers) GetUser() (*users.User, error) {
	return f.user, f.err
}

type fakeLister struct {
	result vbranch.VirtualBranches
	err    error
	calls  int
}

func (f *fakeLister) ListVirtualBranches(context.Context, *projects.Project) (vbranch.VirtualBranches, error) {
	f.calls++
	return f.result, f.err
}

type fakePusher struct {
	calls int
	perms []*projects.WriteAccess
	err   error
}

func (f *fakePusher) PushOplog(_ context.Context, _ vcs.Repository, _ *projects.Project, _ *users.User, _ cloudsync.SyncRecorder, perm *projects.WriteAccess) error {
	f.calls++
	f.perms = append(f.perms, perm)
	return f.err
}

type fakeSessions struct {
	mu         sync.Mutex
	registered []string
	err        error
	due        []*sessions.Session

	// observedWithGuardHeld counts observations made while the project's
	// worktree guard was taken
	observedWithGuardHeld int
}

func (f *fakeSessions) ObserveFile(_ context.Context, project *projects.Project, relPath string) (*sessions.Observation, error) {
	if !guardIsFree(project) {
		f.mu.Lock()
		f.observedWithGuardHeld++
		f.mu.Unlock()
	}
	return &sessions.Observation{Path: relPath}, nil
}

func (f *fakeSessions) Commit(_ context.Context, _ *projects.Project, obs *sessions.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.registered = append(f.registered, obs.Path)
	return nil
}

// guardIsFree reports whether the project's worktree guard can be taken
// within a second. A held guard is taken later by the leftover goroutine
// and released straight away.
func guardIsFree(project *projects.Project) bool {
	acquired := make(chan struct{})
	go func() {
		guard := project.ExclusiveWorktreeAccess()
		close(acquired)
		guard.Release()
	}()

	select {
	case <-acquired:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func (f *fakeSessions) FlushDue(context.Context, time.Time) ([]*sessions.Session, error) {
	due := f.due
	f.due = nil
	return due, nil
}

// fakeRepo implements the repository calls the handler makes. Anything else
// panics through the nil embedded interface.
type fakeRepo struct {
	vcs.Repository

	mu      sync.Mutex
	head    string
	refs    map[string]string
	deleted []string
	ignored map[string]bool
}

func (f *fakeRepo) Head(context.Context) (string, error) {
	return f.head, nil
}

func (f *fakeRepo) DeleteReference(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.refs[name]; !ok {
		return vcs.ErrRefNotFound
	}
	delete(f.refs, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRepo) IgnoredPaths(_ context.Context, paths []string) (map[string]bool, error) {
	result := make(map[string]bool)
	for _, p := range paths {
		if f.ignored[p] {
			result[p] = true
		}
	}
	return result, nil
}

type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
	perms []*projects.WriteAccess
	err   error
}

func (f *fakeSnapshots) create(_ context.Context, _ vcs.Repository, details oplog.SnapshotDetails, perm *projects.WriteAccess) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.perms = append(f.perms, perm)
	if details.Operation != oplog.FileChanges {
		panic("unexpected snapshot kind " + string(details.Operation))
	}
	if f.err != nil {
		return "", f.err
	}
	return "snapshot", nil
}

type harness struct {
	handler   *Handler
	sender    *Sender
	projects  *fakeProjects
	users     *fakeUsers
	lister    *fakeLister
	pusher    *fakePusher
	sessions  *fakeSessions
	repo      *fakeRepo
	snapshots *fakeSnapshots
	opens     int
	openErr   error
}

func newHarness(t *testing.T, project *projects.Project) *harness {
	t.Helper()

	h := &harness{
		sender:    NewSender(16),
		projects:  newFakeProjects(project),
		users:     &fakeUsers{},
		lister:    &fakeLister{},
		pusher:    &fakePusher{},
		sessions:  &fakeSessions{},
		repo:      &fakeRepo{head: "refs/heads/main", refs: map[string]string{}},
		snapshots: &fakeSnapshots{},
	}

	handler, err := NewHandler(HandlerConfig{
		Projects: h.projects,
		Users:    h.users,
		Open: func(string) (vcs.Repository, error) {
			h.opens++
			if h.openErr != nil {
				return nil, h.openErr
			}
			return h.repo, nil
		},
		Branches: h.lister,
		Pusher:   h.pusher,
		Sender:   h.sender,
		Sessions: h.sessions,
		Snapshot: h.snapshots.create,
	})
	require.NoError(t, err)
	h.handler = handler

	return h
}

// drain returns every change currently buffered in the sender.
func (h *harness) drain() []Change {
	var changes []Change
	for {
		select {
		case c := <-h.sender.Changes():
			changes = append(changes, c)
		default:
			return changes
		}
	}
}
