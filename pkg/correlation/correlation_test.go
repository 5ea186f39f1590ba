package correlation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nexus/pkg/correlation"
)

func TestBindGeneratesIDWhenEmpty(t *testing.T) {
	_, id := correlation.Bind(context.Background(), "")
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestBindAcceptsValidUUID(t *testing.T) {
	valid := "550e8400-e29b-41d4-a716-446655440000"
	_, id := correlation.Bind(context.Background(), valid)
	require.Equal(t, valid, id)
}

func TestBindRejectsInjectionAttempt(t *testing.T) {
	malicious := "fake-id\n{\"level\":\"admin\"}"
	_, id := correlation.Bind(context.Background(), malicious)
	require.NotEqual(t, malicious, id)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestBindRejectsOversizedID(t *testing.T) {
	oversized := ""
	for i := 0; i < 200; i++ {
		oversized += "a"
	}
	_, id := correlation.Bind(context.Background(), oversized)
	require.NotEqual(t, oversized, id)
}

func TestFromContextNotLeakedToParent(t *testing.T) {
	parent := context.Background()
	derived, id := correlation.Bind(parent, "")
	require.NotEmpty(t, id)

	_, ok := correlation.FromContext(parent)
	require.False(t, ok)

	got, ok := correlation.FromContext(derived)
	require.True(t, ok)
	require.Equal(t, id, got)
}
