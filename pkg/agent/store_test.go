package agent_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"nexus/pkg/agent"
	"nexus/pkg/errtypes"
)

func newStore(t *testing.T) *agent.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // a single :memory: connection keeps all callers on the same database
	s, err := agent.New(db)
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, agent.Record{AgentID: "a1", ZoneID: "z1", Name: "bot", Capabilities: []string{"read"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Generation)
	require.Equal(t, agent.StatusActive, created.Status)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, got.Capabilities)
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.True(t, errtypes.IsNotFound(err))
}

func TestTransitionSucceedsAndBumpsGeneration(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, agent.Record{AgentID: "a1", ZoneID: "z1", Name: "bot"})
	require.NoError(t, err)

	updated, err := s.Transition(ctx, "a1", 1, agent.StatusSuspended)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Generation)
	require.Equal(t, agent.StatusSuspended, updated.Status)
}

func TestTransitionStaleGenerationFails(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, agent.Record{AgentID: "a1", ZoneID: "z1", Name: "bot"})
	require.NoError(t, err)

	_, err = s.Transition(ctx, "a1", 1, agent.StatusSuspended)
	require.NoError(t, err)

	_, err = s.Transition(ctx, "a1", 1, agent.StatusRetired)
	require.Error(t, err)
	require.True(t, errtypes.IsConflict(err))
	var stale errtypes.StaleAgentError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, int64(1), stale.ExpectedGeneration)
	require.Equal(t, int64(2), stale.ActualGeneration)
}

func TestConcurrentTransitionsExactlyOneSucceeds(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, agent.Record{AgentID: "a1", ZoneID: "z1", Name: "bot"})
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Transition(ctx, "a1", 1, agent.StatusSuspended)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)

	final, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, int64(2), final.Generation)
}
