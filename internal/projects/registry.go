package projects

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// FileName is the registry file inside the data directory.
const FileName = "projects.toml"

var (
	// ErrProjectNotFound is returned when no project has the requested ID.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when a path is registered twice.
	ErrProjectExists = errors.New("project already registered")
)

type registryFile struct {
	Projects []Project `toml:"project"`
}

// Registry stores projects in a TOML file. It is safe for concurrent use.
type Registry struct {
	path string

	mu    sync.Mutex
	locks map[string]*worktreeLock

	now func() time.Time
}

// Open returns the registry stored in dataDir, creating the directory if
// needed. The file itself is created on first write.
func Open(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Registry{
		path:  filepath.Join(dataDir, FileName),
		locks: make(map[string]*worktreeLock),
		now:   time.Now,
	}, nil
}

// Add registers the worktree at path.
func (r *Registry) Add(path, title string) (*Project, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if title == "" {
		title = filepath.Base(absPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, p := range file.Projects {
		if p.Path == absPath {
			return nil, fmt.Errorf("%w: %s", ErrProjectExists, absPath)
		}
	}

	project := Project{
		ID:        uuid.NewString(),
		Title:     title,
		Path:      absPath,
		CreatedAt: r.now().UTC(),
	}
	file.Projects = append(file.Projects, project)

	if err := r.save(file); err != nil {
		return nil, err
	}

	return r.attach(project), nil
}

// Get returns a copy of the project with the given ID.
func (r *Registry) Get(id string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, p := range file.Projects {
		if p.ID == id {
			return r.attach(p), nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
}

// List returns every registered project ordered by title.
func (r *Registry) List() ([]*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	projects := make([]*Project, 0, len(file.Projects))
	for _, p := range file.Projects {
		projects = append(projects, r.attach(p))
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Title < projects[j].Title
	})

	return projects, nil
}

// Remove unregisters a project. The worktree itself is left alone.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return err
	}

	kept := file.Projects[:0]
	found := false
	for _, p := range file.Projects {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	file.Projects = kept
	return r.save(file)
}

// SetSync configures oplog sync for a project.
func (r *Registry) SetSync(id string, enabled bool, codeURL string) error {
	return r.update(id, func(p *Project) {
		p.SyncEnabled = enabled
		p.CodeURL = codeURL
	})
}

// MarkSnapshot records that a snapshot was taken at the given time.
// Older timestamps never overwrite newer ones.
func (r *Registry) MarkSnapshot(id string, at time.Time) error {
	return r.update(id, func(p *Project) {
		if at.After(p.LastSnapshotAt) {
			p.LastSnapshotAt = at.UTC()
		}
	})
}

// MarkSynced records a successful oplog push.
func (r *Registry) MarkSynced(id string, at time.Time) error {
	return r.update(id, func(p *Project) {
		if at.After(p.LastSyncedAt) {
			p.LastSyncedAt = at.UTC()
		}
	})
}

func (r *Registry) update(id string, fn func(p *Project)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return err
	}

	for i := range file.Projects {
		if file.Projects[i].ID == id {
			fn(&file.Projects[i])
			return r.save(file)
		}
	}

	return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
}

// attach returns a copy of p sharing the registry-wide worktree lock.
// Must be called with r.mu held.
func (r *Registry) attach(p Project) *Project {
	lock, ok := r.locks[p.ID]
	if !ok {
		lock = &worktreeLock{}
		r.locks[p.ID] = lock
	}
	p.access = lock
	return &p
}

// load reads the registry file. Must be called with r.mu held.
func (r *Registry) load() (*registryFile, error) {
	var file registryFile
	if _, err := toml.DecodeFile(r.path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &file, nil
		}
		return nil, fmt.Errorf("failed to read project registry: %w", err)
	}
	return &file, nil
}

// save writes the registry file atomically. Must be called with r.mu held.
func (r *Registry) save(file *registryFile) error {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".projects-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := toml.NewEncoder(tmp).Encode(file); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode project registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write project registry: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("failed to replace project registry: %w", err)
	}

	return nil
}
