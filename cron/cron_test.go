package cron_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/cron"
)

func TestNextAfter_EveryMinute(t *testing.T) {
	e := cron.NewEvaluator()
	t0 := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	next, err := e.NextAfter("* * * * *", "UTC", t0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), next)
}

func TestNextAfter_SixFieldSeconds(t *testing.T) {
	e := cron.NewEvaluator()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := e.NextAfter("*/15 * * * * *", "UTC", t0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 15, 0, time.UTC), next)
}

func TestNextAfter_InvalidCron(t *testing.T) {
	e := cron.NewEvaluator()
	_, err := e.NextAfter("not a cron", "UTC", time.Now())
	assert.ErrorIs(t, err, wc.ErrInvalidCron)
}

func TestNextAfter_InvalidTimezone(t *testing.T) {
	e := cron.NewEvaluator()
	_, err := e.NextAfter("* * * * *", "Not/A_Zone", time.Now())
	assert.ErrorIs(t, err, wc.ErrInvalidTimezone)
}

func TestBetween_BoundedByMaxWindows(t *testing.T) {
	e := cron.NewEvaluator()
	tFrom := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tTo := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	occs, err := e.Between("* * * * *", "UTC", tFrom, tTo, 5)
	require.NoError(t, err)
	require.Len(t, occs, 5)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), occs[0])
	assert.Equal(t, time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC), occs[4])
}

func TestBetween_ZeroUpperBoundIsEmpty(t *testing.T) {
	e := cron.NewEvaluator()
	tFrom := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	occs, err := e.Between("* * * * *", "UTC", tFrom, time.Time{}, 5)
	require.NoError(t, err)
	assert.Empty(t, occs)
}

func TestNextAfter_TimezoneRespected(t *testing.T) {
	e := cron.NewEvaluator()
	// 09:00 America/New_York, well clear of any DST transition.
	t0 := time.Date(2026, 7, 30, 8, 59, 0, 0, time.UTC)
	next, err := e.NextAfter("0 9 * * *", "America/New_York", t0)
	require.NoError(t, err)
	assert.Equal(t, 13, next.Hour()) // 09:00 EDT == 13:00 UTC
}

// America/New_York springs forward on 2026-03-08 (clocks jump 02:00 ->
// 03:00 EST->EDT) and falls back on 2026-11-01 (02:00 EDT -> 01:00 EST). A
// fixed local wall time that falls outside the skipped/repeated hour itself
// still has to resolve to a different UTC instant on either side of each
// transition, which only happens if the evaluator re-resolves the offset
// per-occurrence instead of holding the offset seen at tFrom fixed.
func TestBetween_CrossesSpringForwardTransition(t *testing.T) {
	e := cron.NewEvaluator()
	tFrom := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	tTo := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	occs, err := e.Between("0 9 * * *", "America/New_York", tFrom, tTo, 10)
	require.NoError(t, err)
	require.Len(t, occs, 4)

	// Fri/Sat (EST, UTC-5): 09:00 local == 14:00 UTC.
	assert.Equal(t, time.Date(2026, 3, 6, 14, 0, 0, 0, time.UTC), occs[0])
	assert.Equal(t, time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC), occs[1])
	// Sun/Mon, after the 02:00 jump to EDT (UTC-4): 09:00 local == 13:00 UTC.
	assert.Equal(t, time.Date(2026, 3, 8, 13, 0, 0, 0, time.UTC), occs[2])
	assert.Equal(t, time.Date(2026, 3, 9, 13, 0, 0, 0, time.UTC), occs[3])
}

func TestBetween_CrossesFallBackTransition(t *testing.T) {
	e := cron.NewEvaluator()
	tFrom := time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)
	tTo := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	occs, err := e.Between("0 9 * * *", "America/New_York", tFrom, tTo, 10)
	require.NoError(t, err)
	require.Len(t, occs, 4)

	// Fri/Sat (EDT, UTC-4): 09:00 local == 13:00 UTC.
	assert.Equal(t, time.Date(2026, 10, 30, 13, 0, 0, 0, time.UTC), occs[0])
	assert.Equal(t, time.Date(2026, 10, 31, 13, 0, 0, 0, time.UTC), occs[1])
	// Sun/Mon, after the 02:00 fallback to EST (UTC-5): 09:00 local == 14:00 UTC.
	assert.Equal(t, time.Date(2026, 11, 1, 14, 0, 0, 0, time.UTC), occs[2])
	assert.Equal(t, time.Date(2026, 11, 2, 14, 0, 0, 0, time.UTC), occs[3])
}
