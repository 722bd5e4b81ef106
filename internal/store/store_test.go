package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "a", "b", "history.db"))
	require.NoError(t, err)
	defer s.Close()

	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestEmptyStore(t *testing.T) {
	s := openTestStore(t)

	id, err := s.MaxID()
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = s.Latest()
	assert.ErrorIs(t, err, ErrNotFound)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Events)
	assert.True(t, st.First.IsZero())
}

func TestInsertLatestList(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1700000000, 0)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.Insert(&CleanedEvent{
			ID:            i,
			Original:      "https://x.com/?utm_source=" + string(rune('a'+i)),
			Cleaned:       "https://x.com/",
			ParamsRemoved: 1,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.ID)
	assert.Equal(t, "https://x.com/?utm_source=d", latest.Original)
	assert.True(t, latest.CreatedAt.Equal(base.Add(3*time.Second)))

	maxID, err := s.MaxID()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), maxID)

	list, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[0].ID)
	assert.Equal(t, uint64(2), list[1].ID)

	all, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Events)
	assert.Equal(t, int64(3), st.ParamsRemoved)
}

func TestInsertDuplicateID(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert(&CleanedEvent{ID: 7, Original: "a", Cleaned: "a"}))
	assert.Error(t, s.Insert(&CleanedEvent{ID: 7, Original: "b", Cleaned: "b"}))
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, s.Insert(&CleanedEvent{ID: i, Original: "o", Cleaned: "c"}))
	}

	n, err := s.Prune(4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	list, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, uint64(7), list[3].ID)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(&CleanedEvent{ID: 42, Original: "o", Cleaned: "c"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.MaxID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestRollbackMigration(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, RollbackMigration(s.db))

	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion()-1, v)

	require.NoError(t, MigrateDB(s.db))
	v, err = SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
}
