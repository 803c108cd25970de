package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T, h *harness) *Daemon {
	t.Helper()

	d, err := New(h.handler, nil, &Config{DebounceInterval: 50 * time.Millisecond, FlushInterval: time.Hour})
	require.NoError(t, err)
	return d
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

func TestTakeSettled_GroupsByProject(t *testing.T) {
	h := newHarness(t, freshProject())
	d := newTestDaemon(t, h)

	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindProject, Path: "b.txt"})
	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindProject, Path: "a.txt"})
	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindProject, Path: "a.txt"})
	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindGit, Path: "HEAD"})
	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindOplog, Path: "refs/gitbutler/oplog"})

	events := d.takeSettled(time.Now().Add(time.Second))
	assert.Equal(t, []InternalEvent{
		GitFilesChange{ProjectID: "p1", Paths: []string{"HEAD"}},
		OplogChange{ProjectID: "p1"},
		ProjectFilesChange{ProjectID: "p1", Paths: []string{"a.txt", "b.txt"}},
	}, events)

	assert.Empty(t, d.takeSettled(time.Now().Add(time.Second)))
}

func TestTakeSettled_WaitsForQuiet(t *testing.T) {
	h := newHarness(t, freshProject())
	d := newTestDaemon(t, h)

	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindProject, Path: "a.txt"})

	assert.Empty(t, d.takeSettled(time.Now()))

	d.queueChange(FileEvent{ProjectID: "p2", Kind: KindGit, Path: "FETCH_HEAD"})
	events := d.takeSettled(time.Now().Add(time.Second))
	assert.Len(t, events, 2)
}

func TestDaemon_PostDispatchesEvent(t *testing.T) {
	h := newHarness(t, freshProject())
	d := newTestDaemon(t, h)

	require.NoError(t, d.Post(GitFilesChange{ProjectID: "p1", Paths: []string{"FETCH_HEAD"}}))
	d.Wait()

	assert.Equal(t, []Change{GitFetchOccurred{ProjectID: "p1"}}, h.drain())
}

func TestDaemon_FailedEventDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, freshProject())
	d := newTestDaemon(t, h)

	require.NoError(t, d.Post(RecalculateVirtualBranches{ProjectID: "missing"}))
	require.NoError(t, d.Post(GitFilesChange{ProjectID: "p1", Paths: []string{"logs/HEAD"}}))
	d.Wait()

	assert.Equal(t, []Change{GitActivityOccurred{ProjectID: "p1"}}, h.drain())
}

func TestDaemon_StartStop(t *testing.T) {
	h := newHarness(t, freshProject())
	d := newTestDaemon(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Queued changes are dispatched once the project is quiet
	d.queueChange(FileEvent{ProjectID: "p1", Kind: KindGit, Path: "FETCH_HEAD"})
	require.Eventually(t, func() bool {
		select {
		case c := <-h.sender.Changes():
			return c == GitFetchOccurred{ProjectID: "p1"}
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.NoError(t, d.Stop())
}

func TestDaemon_PostAfterStop(t *testing.T) {
	h := newHarness(t, freshProject())
	d := newTestDaemon(t, h)

	require.NoError(t, d.Stop())

	err := d.Post(GitFilesChange{ProjectID: "p1", Paths: []string{"FETCH_HEAD"}})
	assert.ErrorIs(t, err, ErrDaemonStopped)

	d.Wait()
	assert.Empty(t, h.drain())
}

func TestDaemon_DropIgnored(t *testing.T) {
	h := newHarness(t, freshProject())
	fw := newTestWatcher(t, watchRoot{projectID: "p1", worktree: "/work/p1", gitDir: "/work/p1/.git", ignore: ignorePrefixes("build")})

	d, err := New(h.handler, fw, &Config{DebounceInterval: 50 * time.Millisecond, FlushInterval: time.Hour})
	require.NoError(t, err)

	event, ok := d.dropIgnored(ProjectFilesChange{ProjectID: "p1", Paths: []string{"build/out.o", "main.c"}})
	assert.True(t, ok)
	assert.Equal(t, ProjectFilesChange{ProjectID: "p1", Paths: []string{"main.c"}}, event)

	_, ok = d.dropIgnored(ProjectFilesChange{ProjectID: "p1", Paths: []string{"build/out.o"}})
	assert.False(t, ok, "a change touching only ignored paths is dropped")

	git := GitFilesChange{ProjectID: "p1", Paths: []string{"HEAD"}}
	event, ok = d.dropIgnored(git)
	assert.True(t, ok)
	assert.Equal(t, git, event)
}
