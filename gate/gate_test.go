package gate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/gate"
	"github.com/fluxline/workflowcore/memstore"
)

// TestEvaluate_RateLimitPause is spec scenario 4: limit 5 over a 60s window,
// pause 120s. The 6th call in the same instant is denied; a call 121s later
// is allowed again.
func TestEvaluate_RateLimitPause(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewGateStore()
	limits := gate.NewStaticRateLimits([]wc.SourceRateLimit{
		{Source: "scanner", Limit: 5, IntervalMs: 60_000, PauseMs: 120_000},
	})
	g := gate.New(store, limits)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var last wc.GateDecision
	for i := 0; i < 6; i++ {
		d, err := g.Evaluate(ctx, "scanner", now)
		require.NoError(t, err)
		last = d
	}
	assert.False(t, last.Allowed)
	assert.Equal(t, "rate_limit", last.Reason)
	require.NotNil(t, last.Until)
	assert.Equal(t, now.Add(120*time.Second), *last.Until)

	// Still paused just before the window elapses.
	d, err := g.Evaluate(ctx, "scanner", now.Add(119*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// 121s later the pause has expired.
	d, err = g.Evaluate(ctx, "scanner", now.Add(121*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEvaluate_UnthrottledSourceAlwaysAllowed(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewGateStore()
	limits := gate.NewStaticRateLimits(nil)
	g := gate.New(store, limits)

	d, err := g.Evaluate(ctx, "unknown-source", time.Now())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEvaluate_SourceNameNormalized(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewGateStore()
	limits := gate.NewStaticRateLimits([]wc.SourceRateLimit{
		{Source: "unknown", Limit: 1, IntervalMs: 60_000, PauseMs: 1_000},
	})
	g := gate.New(store, limits)

	now := time.Now()
	_, err := g.Evaluate(ctx, "   ", now)
	require.NoError(t, err)
	d, err := g.Evaluate(ctx, "", now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

// TestTriggerCircuitBreaker is spec scenario 5.
func TestTriggerCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewGateStore()
	g := gate.New(store, gate.NewStaticRateLimits(nil))

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const threshold, windowMs, pauseMs = 3, int64(60_000), int64(300_000)

	r1, err := g.RegisterTriggerFailure(ctx, "trg-1", "boom", threshold, windowMs, pauseMs, t0)
	require.NoError(t, err)
	assert.False(t, r1.Paused)

	r2, err := g.RegisterTriggerFailure(ctx, "trg-1", "boom", threshold, windowMs, pauseMs, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, r2.Paused)

	r3, err := g.RegisterTriggerFailure(ctx, "trg-1", "boom", threshold, windowMs, pauseMs, t0.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, r3.Paused)
	require.NotNil(t, r3.Until)
	assert.Equal(t, t0.Add(2*time.Second).Add(300*time.Second), *r3.Until)

	paused, until, err := g.IsTriggerPaused(ctx, "trg-1", t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, paused)
	require.NotNil(t, until)

	err = g.RegisterTriggerSuccess(ctx, "trg-1")
	require.NoError(t, err)

	paused, _, err = g.IsTriggerPaused(ctx, "trg-1", t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, paused)
}

// TestEvaluate_ConcurrentCallsDoNotExceedLimit guards against the race where
// two concurrent Evaluate calls for the same source both observe
// count<=limit before either's pause lands: without g.store.WithLock
// spanning the whole read-modify-write sequence, this admits more than
// limit events for a single burst.
func TestEvaluate_ConcurrentCallsDoNotExceedLimit(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewGateStore()
	const limit = 5
	limits := gate.NewStaticRateLimits([]wc.SourceRateLimit{
		{Source: "scanner", Limit: limit, IntervalMs: 60_000, PauseMs: 120_000},
	})
	g := gate.New(store, limits)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	const callers = 30
	var allowed int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			d, err := g.Evaluate(ctx, "scanner", now)
			require.NoError(t, err)
			if d.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	// At most limit calls observe count<=limit and are admitted; the call
	// that pushes count past limit is itself denied and lands the pause.
	// Without WithLock spanning the whole sequence, concurrent callers can
	// each read a pre-increment count and over-admit past this bound.
	assert.LessOrEqual(t, allowed, int64(limit))
}

func TestTriggerCircuitBreaker_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewGateStore()
	g := gate.New(store, gate.NewStaticRateLimits(nil))

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := g.RegisterTriggerFailure(ctx, "trg-2", "boom", 3, 1_000, 5_000, t0)
	require.NoError(t, err)
	// Second failure arrives after the 1s window has elapsed; the first
	// failure should have been purged, so two total failures here (not
	// three) must not trip the threshold=3 breaker.
	r, err := g.RegisterTriggerFailure(ctx, "trg-2", "boom", 3, 1_000, 5_000, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, r.Paused)
}
