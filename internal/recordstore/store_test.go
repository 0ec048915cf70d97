package recordstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "", "")
	assert.Error(t, err)
}

func TestSaveRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := orchestrator.Record{
		OwnerID:     "user-1",
		Name:        "mcp-server-20260314-092653",
		Endpoint:    "https://weather.freestyle.sh",
		Description: "weather lookups",
	}
	id, err := s.SaveRecord(ctx, rec)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec, got.Record)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second"} {
		_, err := s.SaveRecord(ctx, orchestrator.Record{OwnerID: "user-1", Name: name})
		require.NoError(t, err)
	}
	_, err := s.SaveRecord(ctx, orchestrator.Record{OwnerID: "user-2", Name: "other"})
	require.NoError(t, err)

	entries, err := s.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Record.Name)
	assert.Equal(t, "first", entries[1].Record.Name)

	none, err := s.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveRecord_Cancelled(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SaveRecord(ctx, orchestrator.Record{OwnerID: "u"})
	assert.Error(t, err)
}
