package projects

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetList(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)

	worktree := t.TempDir()
	p, err := r.Add(worktree, "")
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Path, got.Path)
	assert.Equal(t, p.Title, got.Title)
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Second)

	_, err = r.Add(worktree, "again")
	assert.ErrorIs(t, err, ErrProjectExists)

	list, err := r.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestRegistry_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	r, err := Open(dir)
	require.NoError(t, err)
	p, err := r.Add(t.TempDir(), "demo")
	require.NoError(t, err)
	require.NoError(t, r.SetSync(p.ID, true, "https://example.com/demo.git"))

	reopened, err := Open(dir)
	require.NoError(t, err)
	got, err := reopened.Get(p.ID)
	require.NoError(t, err)

	assert.True(t, got.IsSyncEnabled())
	assert.True(t, got.HasCodeURL())
	assert.Equal(t, "demo", got.Title)
}

func TestRegistry_MarkSnapshotKeepsNewest(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	p, err := r.Add(t.TempDir(), "")
	require.NoError(t, err)

	newer := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, r.MarkSnapshot(p.ID, newer))
	require.NoError(t, r.MarkSnapshot(p.ID, newer.Add(-time.Hour)))

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSnapshotAt.Equal(newer))

	assert.ErrorIs(t, r.MarkSnapshot("missing", newer), ErrProjectNotFound)
}

func TestRegistry_Remove(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	p, err := r.Add(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, r.Remove(p.ID))
	assert.ErrorIs(t, r.Remove(p.ID), ErrProjectNotFound)
}

func TestShouldAutoSnapshot(t *testing.T) {
	now := time.Now()
	threshold := 300 * time.Second

	tests := []struct {
		name    string
		project Project
		want    bool
		wantErr bool
	}{
		{
			name:    "never snapshotted, project is new",
			project: Project{ID: "a", CreatedAt: now.Add(-time.Minute)},
			want:    false,
		},
		{
			name:    "never snapshotted, project is old",
			project: Project{ID: "a", CreatedAt: now.Add(-time.Hour)},
			want:    true,
		},
		{
			name:    "recent snapshot",
			project: Project{ID: "a", CreatedAt: now.Add(-time.Hour), LastSnapshotAt: now.Add(-time.Minute)},
			want:    false,
		},
		{
			name:    "exactly at threshold",
			project: Project{ID: "a", CreatedAt: now.Add(-time.Hour), LastSnapshotAt: now.Add(-threshold)},
			want:    true,
		},
		{
			name:    "no timestamps",
			project: Project{ID: "a"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.project.shouldAutoSnapshotAt(now, threshold)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExclusiveWorktreeAccess_SerializesCopies(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	p, err := r.Add(t.TempDir(), "")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			copyOfProject, err := r.Get(p.ID)
			if err != nil {
				t.Error(err)
				return
			}

			guard := copyOfProject.ExclusiveWorktreeAccess()
			defer guard.Release()

			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestWorktreeGuard_ReleaseTwice(t *testing.T) {
	p := &Project{ID: "x"}

	guard := p.ExclusiveWorktreeAccess()
	assert.Equal(t, "x", guard.WritePermission().ProjectID())
	guard.Release()
	guard.Release()

	// Lock is free again
	second := p.ExclusiveWorktreeAccess()
	second.Release()
}
