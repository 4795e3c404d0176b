package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/mapping"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndListMeshRuns(t *testing.T) {
	s := newTestStore(t)

	exported := true
	base := time.Unix(1700000000, 0)
	runs := []*mapping.MeshRun{
		{Kind: "incremental", StartedAt: base, Duration: 12 * time.Millisecond, Blocks: 3, Vertices: 90, Published: true},
		{Kind: "full", StartedAt: base.Add(time.Second), Duration: 80 * time.Millisecond, Blocks: 10, Vertices: 600, Published: true, Exported: &exported},
	}
	for _, run := range runs {
		id, err := s.InsertMeshRun(run)
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))
	}

	got, err := s.RecentMeshRuns(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "full", got[0].Kind)
	assert.Equal(t, 600, got[0].Vertices)
	require.NotNil(t, got[0].Exported)
	assert.True(t, *got[0].Exported)
	assert.True(t, got[0].StartedAt.Equal(base.Add(time.Second)))

	assert.Equal(t, "incremental", got[1].Kind)
	assert.Nil(t, got[1].Exported)
	assert.Equal(t, 12*time.Millisecond, got[1].Duration)
}

func TestRecentMeshRunsLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.InsertMeshRun(&mapping.MeshRun{
			Kind:      "incremental",
			StartedAt: time.Unix(int64(1700000000+i), 0),
			Published: true,
		})
		require.NoError(t, err)
	}
	got, err := s.RecentMeshRuns(2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestInsertMapSnapshot(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertMapSnapshot(&mapping.MapSnapshot{
		Kind:    "save",
		Path:    "/tmp/map.tsdf",
		Blocks:  7,
		Success: true,
		At:      time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	var kind, path, strategy string
	var success int
	err = s.QueryRow(`SELECT kind, path, strategy, success FROM map_snapshots WHERE id = ?`, id).
		Scan(&kind, &path, &strategy, &success)
	require.NoError(t, err)
	assert.Equal(t, "save", kind)
	assert.Equal(t, "/tmp/map.tsdf", path)
	assert.Empty(t, strategy)
	assert.Equal(t, 1, success)
}

func TestNilRecordsAreIgnored(t *testing.T) {
	s := newTestStore(t)
	id, err := s.InsertMeshRun(nil)
	require.NoError(t, err)
	assert.Zero(t, id)
	id, err = s.InsertMapSnapshot(nil)
	require.NoError(t, err)
	assert.Zero(t, id)
}
