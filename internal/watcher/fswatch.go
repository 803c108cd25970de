package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gitbutler/butlerd/internal/oplog"
)

// FileKind tells which part of a project a FileEvent belongs to.
type FileKind int

const (
	// KindProject is a worktree file.
	KindProject FileKind = iota
	// KindGit is a file inside the .git directory.
	KindGit
	// KindOplog is the oplog reference.
	KindOplog
)

// String returns a human-readable representation of the kind.
func (k FileKind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindGit:
		return "git"
	case KindOplog:
		return "oplog"
	default:
		return "unknown"
	}
}

// FileEvent is a filesystem change attributed to a project.
type FileEvent struct {
	ProjectID string
	Kind      FileKind
	// Path is slash separated and relative to the worktree for KindProject
	// and to the .git directory otherwise.
	Path string
}

// gitWatchDirs are the only .git subdirectories watched, relative to the
// .git directory.
var gitWatchDirs = map[string]bool{
	".":              true,
	"logs":           true,
	"refs":           true,
	"refs/gitbutler": true,
}

// IgnoreFunc reports which of the given worktree-relative, slash separated
// paths are excluded by the project's ignore rules.
type IgnoreFunc func(paths []string) (map[string]bool, error)

type watchRoot struct {
	projectID string
	worktree  string
	gitDir    string
	ignore    IgnoreFunc
}

// FileWatcher watches the worktrees and .git directories of many projects.
// It uses fsnotify, adding every worktree directory individually and
// following directories created later.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	roots   []watchRoot
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
	}, nil
}

// AddProject starts watching a project's worktree and .git directory.
// Directories ignore reports are not watched; ignore may be nil. It may be
// called before or after Start.
func (fw *FileWatcher) AddProject(projectID, worktree, gitDir string, ignore IgnoreFunc) error {
	worktree, err := filepath.Abs(worktree)
	if err != nil {
		return fmt.Errorf("failed to resolve worktree: %w", err)
	}
	gitDir, err = filepath.Abs(gitDir)
	if err != nil {
		return fmt.Errorf("failed to resolve git dir: %w", err)
	}

	root := watchRoot{projectID: projectID, worktree: worktree, gitDir: gitDir, ignore: ignore}

	fw.mu.Lock()
	fw.roots = append(fw.roots, root)
	fw.mu.Unlock()

	if err := fw.addWorktreeDirs(root, worktree); err != nil {
		return fmt.Errorf("failed to watch worktree %s: %w", worktree, err)
	}

	for dir := range gitWatchDirs {
		path := filepath.Join(gitDir, filepath.FromSlash(dir))
		if err := fw.watcher.Add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	return nil
}

// Start begins delivering events.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited, then closes the
// Events and Errors channels.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits watcher errors.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			fw.followNewDirectory(event)

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// followNewDirectory adds watches for directories created after startup.
func (fw *FileWatcher) followNewDirectory(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	info, err := os.Lstat(event.Name)
	if err != nil || !info.IsDir() {
		return
	}

	root, ok := fw.rootFor(event.Name)
	if !ok {
		return
	}

	if isWithin(root.gitDir, event.Name) {
		rel, err := filepath.Rel(root.gitDir, event.Name)
		if err == nil && gitWatchDirs[filepath.ToSlash(rel)] {
			_ = fw.watcher.Add(event.Name)
		}
		return
	}

	if err := fw.addWorktreeDirs(root, event.Name); err != nil {
		select {
		case fw.errors <- err:
		default:
		}
	}
}

// convertEvent maps an fsnotify event to a FileEvent.
// Returns false for events that should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	// Chmod alone changes nothing the daemon tracks
	if event.Op == fsnotify.Chmod {
		return FileEvent{}, false
	}

	// git writes through *.lock files and renames them into place
	if strings.HasSuffix(event.Name, ".lock") {
		return FileEvent{}, false
	}

	root, ok := fw.rootFor(event.Name)
	if !ok {
		return FileEvent{}, false
	}

	if isWithin(root.gitDir, event.Name) {
		rel, err := filepath.Rel(root.gitDir, event.Name)
		if err != nil || rel == "." {
			return FileEvent{}, false
		}
		rel = filepath.ToSlash(rel)

		kind := KindGit
		if rel == oplog.Ref {
			kind = KindOplog
		}
		return FileEvent{ProjectID: root.projectID, Kind: kind, Path: rel}, true
	}

	rel, err := filepath.Rel(root.worktree, event.Name)
	if err != nil || rel == "." {
		return FileEvent{}, false
	}
	return FileEvent{ProjectID: root.projectID, Kind: KindProject, Path: filepath.ToSlash(rel)}, true
}

// rootFor returns the project whose worktree or .git directory contains
// path. With nested projects the deepest match wins.
func (fw *FileWatcher) rootFor(path string) (watchRoot, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	var (
		best    watchRoot
		bestLen = -1
	)
	for _, root := range fw.roots {
		for _, dir := range []string{root.gitDir, root.worktree} {
			if isWithin(dir, path) && len(dir) > bestLen {
				best = root
				bestLen = len(dir)
			}
		}
	}
	return best, bestLen >= 0
}

// addWorktreeDirs watches dir and every directory below it, skipping .git
// and ignored directories. Each level of the tree is checked against the
// ignore rules in one batch.
func (fw *FileWatcher) addWorktreeDirs(root watchRoot, dir string) error {
	level := []string{dir}
	if dir != root.worktree {
		level = root.withoutIgnored(level)
	}

	for len(level) > 0 {
		var next []string
		for _, current := range level {
			if err := fw.watcher.Add(current); err != nil {
				// Directories can vanish between the event and the walk
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return err
			}

			entries, err := os.ReadDir(current)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return err
			}
			for _, entry := range entries {
				if !entry.IsDir() || entry.Name() == ".git" {
					continue
				}
				child := filepath.Join(current, entry.Name())
				if child != root.gitDir {
					next = append(next, child)
				}
			}
		}
		level = root.withoutIgnored(next)
	}

	return nil
}

// withoutIgnored drops the absolute paths the project ignores. If the
// ignore check fails every path is kept.
func (r watchRoot) withoutIgnored(paths []string) []string {
	if r.ignore == nil || len(paths) == 0 {
		return paths
	}

	rels := make([]string, len(paths))
	for i, path := range paths {
		rel, err := filepath.Rel(r.worktree, path)
		if err != nil {
			return paths
		}
		rels[i] = filepath.ToSlash(rel)
	}

	ignored, err := r.ignore(rels)
	if err != nil {
		return paths
	}

	kept := paths[:0:0]
	for i, path := range paths {
		if !ignored[rels[i]] {
			kept = append(kept, path)
		}
	}
	return kept
}

// FilterIgnored returns the worktree-relative paths of projectID that its
// ignore rules do not exclude.
func (fw *FileWatcher) FilterIgnored(projectID string, paths []string) []string {
	fw.mu.Lock()
	var root *watchRoot
	for i := range fw.roots {
		if fw.roots[i].projectID == projectID {
			r := fw.roots[i]
			root = &r
			break
		}
	}
	fw.mu.Unlock()

	if root == nil || root.ignore == nil || len(paths) == 0 {
		return paths
	}

	ignored, err := root.ignore(paths)
	if err != nil {
		return paths
	}

	kept := make([]string, 0, len(paths))
	for _, path := range paths {
		if !ignored[path] {
			kept = append(kept, path)
		}
	}
	return kept
}

func isWithin(base, path string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
