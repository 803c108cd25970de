package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, roots ...watchRoot) *FileWatcher {
	t.Helper()

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Stop() })

	fw.roots = append(fw.roots, roots...)
	return fw
}

func TestConvertEvent(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "work")
	outer := watchRoot{projectID: "outer", worktree: filepath.Join(base, "outer"), gitDir: filepath.Join(base, "outer", ".git")}
	inner := watchRoot{projectID: "inner", worktree: filepath.Join(base, "outer", "vendor", "inner"), gitDir: filepath.Join(base, "outer", "vendor", "inner", ".git")}
	fw := newTestWatcher(t, outer, inner)

	tests := []struct {
		name  string
		event fsnotify.Event
		want  FileEvent
		keep  bool
	}{
		{
			name:  "worktree file",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", "src", "main.go"), Op: fsnotify.Write},
			want:  FileEvent{ProjectID: "outer", Kind: KindProject, Path: "src/main.go"},
			keep:  true,
		},
		{
			name:  "removed file",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", "old.txt"), Op: fsnotify.Remove},
			want:  FileEvent{ProjectID: "outer", Kind: KindProject, Path: "old.txt"},
			keep:  true,
		},
		{
			name:  "git file",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", ".git", "FETCH_HEAD"), Op: fsnotify.Create},
			want:  FileEvent{ProjectID: "outer", Kind: KindGit, Path: "FETCH_HEAD"},
			keep:  true,
		},
		{
			name:  "head log",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", ".git", "logs", "HEAD"), Op: fsnotify.Write},
			want:  FileEvent{ProjectID: "outer", Kind: KindGit, Path: "logs/HEAD"},
			keep:  true,
		},
		{
			name:  "oplog ref",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", ".git", "refs", "gitbutler", "oplog"), Op: fsnotify.Create},
			want:  FileEvent{ProjectID: "outer", Kind: KindOplog, Path: "refs/gitbutler/oplog"},
			keep:  true,
		},
		{
			name:  "nested project wins",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", "vendor", "inner", "lib.go"), Op: fsnotify.Write},
			want:  FileEvent{ProjectID: "inner", Kind: KindProject, Path: "lib.go"},
			keep:  true,
		},
		{
			name:  "lock file",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", ".git", "index.lock"), Op: fsnotify.Create},
		},
		{
			name:  "chmod only",
			event: fsnotify.Event{Name: filepath.Join(base, "outer", "run.sh"), Op: fsnotify.Chmod},
		},
		{
			name:  "outside every project",
			event: fsnotify.Event{Name: filepath.Join(base, "elsewhere", "a.txt"), Op: fsnotify.Write},
		},
		{
			name:  "sibling with common prefix",
			event: fsnotify.Event{Name: filepath.Join(base, "outer-two", "a.txt"), Op: fsnotify.Write},
		},
		{
			name:  "worktree root itself",
			event: fsnotify.Event{Name: filepath.Join(base, "outer"), Op: fsnotify.Write},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fw.convertEvent(tt.event)
			assert.Equal(t, tt.keep, ok)
			if tt.keep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFileKind_String(t *testing.T) {
	assert.Equal(t, "project", KindProject.String())
	assert.Equal(t, "git", KindGit.String())
	assert.Equal(t, "oplog", KindOplog.String())
	assert.Equal(t, "unknown", FileKind(42).String())
}

// waitForEvent returns the first event matching want, failing after timeout.
func waitForEvent(t *testing.T, fw *FileWatcher, want FileEvent) {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-fw.Events():
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestFileWatcher_Integration(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "gitbutler"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "logs"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	require.NoError(t, fw.AddProject("p1", dir, gitDir, nil))
	require.NoError(t, fw.Start())
	assert.True(t, fw.IsRunning())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0644))
	waitForEvent(t, fw, FileEvent{ProjectID: "p1", Kind: KindProject, Path: "src/main.go"})

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "FETCH_HEAD"), []byte("abc\n"), 0644))
	waitForEvent(t, fw, FileEvent{ProjectID: "p1", Kind: KindGit, Path: "FETCH_HEAD"})

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "refs", "gitbutler", "oplog"), []byte("abc\n"), 0644))
	waitForEvent(t, fw, FileEvent{ProjectID: "p1", Kind: KindOplog, Path: "refs/gitbutler/oplog"})

	// Directories created after startup are followed
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0755))
	waitForEvent(t, fw, FileEvent{ProjectID: "p1", Kind: KindProject, Path: "docs"})
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "docs", "guide.md"), []byte("# guide\n"), 0644)
		select {
		case got := <-fw.Events():
			return got == FileEvent{ProjectID: "p1", Kind: KindProject, Path: "docs/guide.md"}
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsRunning())

	_, ok := <-fw.Events()
	assert.False(t, ok)
}

// ignorePrefixes ignores every path at or below one of prefixes.
func ignorePrefixes(prefixes ...string) IgnoreFunc {
	return func(paths []string) (map[string]bool, error) {
		ignored := make(map[string]bool)
		for _, p := range paths {
			for _, prefix := range prefixes {
				if p == prefix || strings.HasPrefix(p, prefix+"/") {
					ignored[p] = true
				}
			}
		}
		return ignored, nil
	}
}

func TestFileWatcher_SkipsIgnoredDirectories(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "left-pad"), 0755))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Stop() })

	require.NoError(t, fw.AddProject("p1", dir, gitDir, ignorePrefixes("node_modules", "build")))

	watched := fw.watcher.WatchList()
	assert.Contains(t, watched, dir)
	assert.Contains(t, watched, filepath.Join(dir, "src"))
	assert.Contains(t, watched, filepath.Join(dir, "src", "pkg"))
	assert.NotContains(t, watched, filepath.Join(dir, "node_modules"))
	assert.NotContains(t, watched, filepath.Join(dir, "node_modules", "left-pad"))

	require.NoError(t, fw.Start())

	// An ignored directory created later is not followed either
	require.NoError(t, os.Mkdir(filepath.Join(dir, "build"), 0755))
	waitForEvent(t, fw, FileEvent{ProjectID: "p1", Kind: KindProject, Path: "build"})
	assert.False(t, slices.Contains(fw.watcher.WatchList(), filepath.Join(dir, "build")))
}

func TestFileWatcher_IgnoreFailureWatchesEverything(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0755))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Stop() })

	failing := func([]string) (map[string]bool, error) { return nil, errors.New("git not found") }
	require.NoError(t, fw.AddProject("p1", dir, filepath.Join(dir, ".git"), failing))

	assert.Contains(t, fw.watcher.WatchList(), filepath.Join(dir, "node_modules"))
}

func TestFilterIgnored(t *testing.T) {
	fw := newTestWatcher(t,
		watchRoot{projectID: "p1", worktree: "/work/p1", gitDir: "/work/p1/.git", ignore: ignorePrefixes("target")},
		watchRoot{projectID: "p2", worktree: "/work/p2", gitDir: "/work/p2/.git"},
	)

	assert.Equal(t, []string{"src/lib.rs"}, fw.FilterIgnored("p1", []string{"src/lib.rs", "target/debug/app"}))
	assert.Equal(t, []string{"target/x"}, fw.FilterIgnored("p2", []string{"target/x"}), "no ignore rules")
	assert.Equal(t, []string{"a"}, fw.FilterIgnored("unknown", []string{"a"}))
}
