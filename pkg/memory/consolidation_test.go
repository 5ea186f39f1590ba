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

func createRow(t *testing.T, s *memory.Store, pathKey string, importance float64, embedding []float32, createdAt time.Time) *memory.Row {
	t.Helper()
	row, err := s.Create(context.Background(), memory.CreateRequest{
		ContentHash: "h", UserID: "u1", PathKey: pathKey,
		Scope: memory.ScopeUser, Visibility: memory.VisibilityPrivate,
		Importance: importance, Embedding: embedding,
	})
	require.NoError(t, err)
	row.CreatedAt = createdAt
	return row
}

func TestConsolidateMergesCloseMemoriesIntoOneCluster(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := memory.New(db)
	require.NoError(t, err)

	now := time.Now()
	a := createRow(t, s, "a", 0.2, []float32{1, 0, 0}, now)
	b := createRow(t, s, "b", 0.3, []float32{0.99, 0.01, 0}, now.Add(time.Second))
	c := createRow(t, s, "c", 0.1, []float32{0, 0, 1}, now.Add(100*24*time.Hour))

	cfg := memory.ConsolidationConfig{Beta: 0.9, Lambda: 1.0 / 3600, Threshold: 0.5}
	consolidated, err := s.Consolidate(context.Background(), []*memory.Row{a, b, c}, cfg)
	require.NoError(t, err)
	require.Len(t, consolidated, 1) // {a,b} merge into one row; c stays alone and produces none
	require.ElementsMatch(t, []string{a.MemoryID, b.MemoryID}, consolidated[0].ConsolidatedFrom)

	reloadedA, err := s.Get(context.Background(), a.MemoryID)
	require.NoError(t, err)
	require.True(t, reloadedA.Archived)
	require.Equal(t, 0.1, reloadedA.Importance)
	require.NotEmpty(t, reloadedA.ParentMemoryID)

	reloadedC, err := s.Get(context.Background(), c.MemoryID)
	require.NoError(t, err)
	require.False(t, reloadedC.Archived)
	require.Empty(t, reloadedC.ParentMemoryID)
}

func TestConsolidateEmptyInputReturnsNothing(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	s, err := memory.New(db)
	require.NoError(t, err)

	out, err := s.Consolidate(context.Background(), nil, memory.ConsolidationConfig{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestConsolidatedImportanceCappedAtOne(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := memory.New(db)
	require.NoError(t, err)

	now := time.Now()
	a := createRow(t, s, "a", 0.95, []float32{1, 0}, now)
	b := createRow(t, s, "b", 0.98, []float32{1, 0}, now)

	cfg := memory.ConsolidationConfig{Beta: 1.0, Lambda: 0, Threshold: 0.5}
	consolidated, err := s.Consolidate(context.Background(), []*memory.Row{a, b}, cfg)
	require.NoError(t, err)
	require.Len(t, consolidated, 1)
	require.Equal(t, 1.0, consolidated[0].Importance)
}
