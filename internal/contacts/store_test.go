package contacts

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)

	added, err := s.Add("u1", "Alice", "alice@example.com", "http://x/a.png", StatusPending, "me")
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	got, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "me", got.RequestedBy)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAddDuplicate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("u1", "Alice", "", "", StatusPending, "me")
	require.NoError(t, err)

	_, err = s.Add("u1", "Alice Again", "", "", StatusPending, "me")
	assert.ErrorIs(t, err, ErrExists)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWithStatusFilter(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("u1", "Alice", "", "", StatusAccepted, "me")
	require.NoError(t, err)
	_, err = s.Add("u2", "Bob", "", "", StatusPending, "u2")
	require.NoError(t, err)
	_, err = s.Add("u3", "Carol", "", "", StatusBlocked, "me")
	require.NoError(t, err)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := s.List(StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u2", pending[0].UserID)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("u1", "Alice", "", "", StatusPending, "u1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus("u1", StatusAccepted))

	got, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))

	assert.ErrorIs(t, s.UpdateStatus("nobody", StatusAccepted), ErrNotFound)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("u1", "Alice", "", "", StatusAccepted, "me")
	require.NoError(t, err)

	require.NoError(t, s.Remove("u1"))
	_, err = s.Get("u1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Remove("u1"), ErrNotFound)
}

func TestBlocked(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("u1", "Mallory", "", "", StatusBlocked, "me")
	require.NoError(t, err)

	assert.True(t, s.Blocked("u1"))
	assert.False(t, s.Blocked("unknown"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Add("u1", "Alice", "", "", StatusAccepted, "me")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
}
