package memory_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"nexus/pkg/memory"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := memory.New(db)
	require.NoError(t, err)
	return s
}

func TestCreateFirstMemoryHasNoPredecessor(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	row, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h1", UserID: "u1", PathKey: "prefs/tone",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate, Importance: 0.5,
	})
	require.NoError(t, err)
	require.Empty(t, row.SupersedesID)
	require.Equal(t, int64(1), row.CurrentVersion)
	require.True(t, row.IsCurrent())
}

func TestCreateSupersedesPriorMemoryForSamePathKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h1", UserID: "u1", PathKey: "prefs/tone",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate, Importance: 0.5,
	})
	require.NoError(t, err)

	second, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h2", UserID: "u1", PathKey: "prefs/tone",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate, Importance: 0.6,
	})
	require.NoError(t, err)

	require.Equal(t, first.MemoryID, second.SupersedesID)
	require.Equal(t, int64(2), second.CurrentVersion)
	require.True(t, second.IsCurrent())

	reloadedFirst, err := s.Get(ctx, first.MemoryID)
	require.NoError(t, err)
	require.False(t, reloadedFirst.IsCurrent())
	require.Equal(t, second.MemoryID, reloadedFirst.SupersededByID)
	require.Empty(t, reloadedFirst.PathKey)
}

func TestCorrectionInheritsPredecessorValidAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	originalValidAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h1", UserID: "u1", PathKey: "fact/birthday",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate,
		ValidAt: &originalValidAt,
	})
	require.NoError(t, err)
	require.Equal(t, originalValidAt, *first.ValidAt)

	corrected, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h2", UserID: "u1", PathKey: "fact/birthday",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate,
		IsCorrection: true,
	})
	require.NoError(t, err)
	require.NotNil(t, corrected.ValidAt)
	require.Equal(t, originalValidAt, *corrected.ValidAt)
}

func TestDeleteIsNonDestructive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	row, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h1", UserID: "u1", PathKey: "scratch/1",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate,
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, row.MemoryID))

	reloaded, err := s.Get(ctx, row.MemoryID)
	require.NoError(t, err)
	require.Equal(t, memory.StateDeleted, reloaded.State)
	require.NotNil(t, reloaded.InvalidAt)
}

func TestDeleteNotFound(t *testing.T) {
	s := newStore(t)
	err := s.Delete(context.Background(), "nope")
	require.Error(t, err)
}

func TestAtTimePointInTimeQuery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	v1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Create(ctx, memory.CreateRequest{
		ContentHash: "h1", UserID: "u1", PathKey: "fact/x",
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate, ValidAt: &v1,
	})
	require.NoError(t, err)

	row, err := s.AtTime(ctx, "u1", "fact/x", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "h1", row.ContentHash)
}
