package temporal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexus/pkg/temporal"
)

// ref is a Friday.
var ref = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func TestResolveIsDeterministic(t *testing.T) {
	a := temporal.Resolve("Call back in 3 days", ref)
	b := temporal.Resolve("Call back in 3 days", ref)
	require.Equal(t, a, b)
}

func TestResolveTodayTomorrowYesterday(t *testing.T) {
	r := temporal.Resolve("today, tomorrow, yesterday", ref)
	require.Equal(t, "on 2025-01-10, on 2025-01-11, on 2025-01-09", r.ResolvedText)
	require.Len(t, r.Replacements, 3)
}

func TestResolveInNDaysAndNDaysAgo(t *testing.T) {
	r := temporal.Resolve("deadline in 3 days", ref)
	require.Equal(t, "deadline on 2025-01-13", r.ResolvedText)

	r = temporal.Resolve("saw her 3 days ago", ref)
	require.Equal(t, "saw her on 2025-01-07", r.ResolvedText)
}

func TestResolveNextAndLastWeekday(t *testing.T) {
	// ref is Friday 2025-01-10
	r := temporal.Resolve("next Monday", ref)
	require.Equal(t, "on 2025-01-13", r.ResolvedText)

	r = temporal.Resolve("last Monday", ref)
	require.Equal(t, "on 2025-01-06", r.ResolvedText)
}

func TestResolveNextAndLastWeek(t *testing.T) {
	r := temporal.Resolve("next week", ref)
	require.Equal(t, "the week of 2025-01-13", r.ResolvedText)

	r = temporal.Resolve("last week", ref)
	require.Equal(t, "the week of 2024-12-30", r.ResolvedText)
}

func TestResolveNextAndLastMonth(t *testing.T) {
	r := temporal.Resolve("next month", ref)
	require.Equal(t, "February 2025", r.ResolvedText)

	r = temporal.Resolve("last month", ref)
	require.Equal(t, "December 2024", r.ResolvedText)

	dec := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	r = temporal.Resolve("next month", dec)
	require.Equal(t, "January 2026", r.ResolvedText)
}

func TestResolveNoTemporalExpressionsLeavesTextUnchanged(t *testing.T) {
	r := temporal.Resolve("nothing relative here", ref)
	require.Equal(t, "nothing relative here", r.ResolvedText)
	require.Empty(t, r.Replacements)
}
