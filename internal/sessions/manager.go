package sessions

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/vcs"
)

// Manager hands out one Store per project, all sharing a single index.
type Manager struct {
	dataDir string
	index   *Index
	open    vcs.Opener

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager returns a manager keeping per-project session data under
// dataDir/projects/<id>. open may be nil, in which case stores diff new
// files against empty content.
func NewManager(dataDir string, index *Index, open vcs.Opener) *Manager {
	return &Manager{
		dataDir: dataDir,
		index:   index,
		open:    open,
		stores:  make(map[string]*Store),
	}
}

// Store returns the session store of project, opening it on first use.
func (m *Manager) Store(project *projects.Project) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[project.ID]; ok {
		return store, nil
	}

	opts := StoreOptions{Index: m.index}
	if m.open != nil {
		repo, err := m.open(project.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository: %w", err)
		}
		opts.Source = RepoSource{Repo: repo}
	}

	store, err := NewStore(project.ID, filepath.Join(m.dataDir, "projects", project.ID), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	m.stores[project.ID] = store
	return store, nil
}

// Register records content for relPath in project's open session.
func (m *Manager) Register(ctx context.Context, project *projects.Project, relPath, content string) error {
	store, err := m.Store(project)
	if err != nil {
		return err
	}
	return store.Register(ctx, relPath, content)
}

// ObserveFile diffs the current worktree content of relPath against the
// project's session mirror. See Store.ObserveFile.
func (m *Manager) ObserveFile(ctx context.Context, project *projects.Project, relPath string) (*Observation, error) {
	store, err := m.Store(project)
	if err != nil {
		return nil, err
	}
	return store.ObserveFile(ctx, project.Path, relPath)
}

// Commit persists an observation made by ObserveFile.
func (m *Manager) Commit(ctx context.Context, project *projects.Project, obs *Observation) error {
	store, err := m.Store(project)
	if err != nil {
		return err
	}
	return store.Commit(ctx, obs)
}

// FlushDue flushes every open store whose session is idle or too old at
// now and returns the flushed sessions. Errors from one store do not stop
// the others; the first one is returned.
func (m *Manager) FlushDue(ctx context.Context, now time.Time) ([]*Session, error) {
	m.mu.Lock()
	stores := make([]*Store, 0, len(m.stores))
	for _, store := range m.stores {
		stores = append(stores, store)
	}
	m.mu.Unlock()

	var (
		flushed  []*Session
		firstErr error
	)
	for _, store := range stores {
		if !store.ShouldFlush(now) {
			continue
		}
		session, err := store.Flush(ctx)
		if err != nil {
			if err != ErrNoActiveSession && firstErr == nil {
				firstErr = fmt.Errorf("failed to flush session of project %s: %w", store.projectID, err)
			}
			continue
		}
		flushed = append(flushed, session)
	}

	return flushed, firstErr
}

// Index returns the shared session index, which may be nil.
func (m *Manager) Index() *Index {
	return m.index
}
