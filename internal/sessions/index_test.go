package sessions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := OpenIndex(filepath.Join(t.TempDir(), IndexFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_RecordAndGet(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	s := &Session{
		ID:        "s1",
		ProjectID: "p1",
		Meta:      Meta{StartTimestampMs: 1000, LastTimestampMs: 2000, Branch: "refs/heads/main", Commit: "abc"},
		Files:     []string{"a.txt"},
	}
	require.NoError(t, idx.Record(ctx, s))

	got, err := idx.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	// Recording again replaces the row
	s.Meta.LastTimestampMs = 3000
	s.Files = nil
	require.NoError(t, idx.Record(ctx, s))

	got, err = idx.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), got.Meta.LastTimestampMs)
	assert.Empty(t, got.Files)
}

func TestIndex_GetUnknown(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIndex_ListFilters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := func(id, project string, start time.Time) {
		require.NoError(t, idx.Record(ctx, &Session{
			ID:        id,
			ProjectID: project,
			Meta: Meta{
				StartTimestampMs: start.UnixMilli(),
				LastTimestampMs:  start.Add(time.Minute).UnixMilli(),
			},
		}))
	}
	record("old", "p1", base)
	record("mid", "p2", base.Add(time.Hour))
	record("new", "p1", base.Add(2*time.Hour))

	ids := func(list []*Session) []string {
		var out []string
		for _, s := range list {
			out = append(out, s.ID)
		}
		return out
	}

	all, err := idx.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(all))

	byProject, err := idx.List(ctx, Filter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids(byProject))

	since, err := idx.List(ctx, Filter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, ids(since))

	limited, err := idx.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(limited))
}
