// Package gate implements the Event Gate (C5): admission logic for
// incoming external events (rate limiting) and the trigger circuit breaker
// (failure-window based pausing).
package gate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/internal/metrics"
)

// RateLimits resolves the configured SourceRateLimit for a source, if any.
// An ok=false return means the source is unthrottled (step 4 of §4.5).
type RateLimits interface {
	Lookup(source string) (wc.SourceRateLimit, bool)
}

// Gate evaluates events against per-source rate limits and per-trigger
// failure windows.
type Gate struct {
	store  wc.EventGateStore
	limits RateLimits
}

// New constructs a Gate over store, resolving per-source limits via limits.
func New(store wc.EventGateStore, limits RateLimits) *Gate {
	return &Gate{store: store, limits: limits}
}

// Evaluate implements §4.5 steps 1-7, run inside g.store.WithLock so the
// whole read-modify-write sequence for source executes atomically: two
// concurrent Evaluate calls for the same source can no longer both observe
// count <= limit before either's UpsertSourcePause lands.
func (g *Gate) Evaluate(ctx context.Context, source string, now time.Time) (wc.GateDecision, error) {
	source = wc.NormalizeSource(source)

	var decision wc.GateDecision
	err := g.store.WithLock(ctx, "source:"+source, func(ctx context.Context) error {
		d, err := g.evaluateLocked(ctx, source, now)
		decision = d
		return err
	})
	if err != nil {
		return deny(), err
	}
	return decision, nil
}

func (g *Gate) evaluateLocked(ctx context.Context, source string, now time.Time) (wc.GateDecision, error) {
	if err := g.store.DeleteExpiredSourcePauses(ctx, now); err != nil {
		return deny(), unavailable(err, "delete expired source pauses")
	}

	pause, err := g.store.GetSourcePause(ctx, source)
	if err != nil {
		return deny(), unavailable(err, "get source pause")
	}
	if pause != nil {
		until := pause.PausedUntil
		record(false, pause.Reason)
		return wc.GateDecision{Allowed: false, Reason: pause.Reason, Until: &until}, nil
	}

	limit, ok := g.limits.Lookup(source)
	if !ok {
		record(true, "")
		return wc.GateDecision{Allowed: true}, nil
	}

	cutoff := now.Add(-time.Duration(limit.IntervalMs) * time.Millisecond)
	if err := g.store.PurgeSourceEventsBefore(ctx, source, cutoff); err != nil {
		return deny(), unavailable(err, "purge source events")
	}
	if err := g.store.AppendSourceEvent(ctx, source, now); err != nil {
		return deny(), unavailable(err, "append source event")
	}
	count, err := g.store.CountSourceEvents(ctx, source)
	if err != nil {
		return deny(), unavailable(err, "count source events")
	}

	if count > limit.Limit {
		until := now.Add(time.Duration(limit.PauseMs) * time.Millisecond)
		details, _ := json.Marshal(map[string]any{
			"limit":      limit.Limit,
			"intervalMs": limit.IntervalMs,
		})
		p := wc.SourcePause{
			Source:      source,
			PausedUntil: until,
			Reason:      "rate_limit",
			Details:     details,
		}
		if err := g.store.UpsertSourcePause(ctx, p); err != nil {
			return deny(), unavailable(err, "upsert source pause")
		}
		record(false, "rate_limit")
		return wc.GateDecision{Allowed: false, Reason: "rate_limit", Until: &until}, nil
	}

	record(true, "")
	return wc.GateDecision{Allowed: true}, nil
}

// RegisterTriggerFailure implements the trigger circuit breaker, §4.5, run
// inside g.store.WithLock so the purge/append/count/upsert-pause sequence
// for triggerID executes atomically across concurrent callers.
func (g *Gate) RegisterTriggerFailure(ctx context.Context, triggerID, reason string, threshold int, windowMs, pauseMs int64, now time.Time) (wc.TriggerFailureResult, error) {
	var result wc.TriggerFailureResult
	err := g.store.WithLock(ctx, "trigger:"+triggerID, func(ctx context.Context) error {
		r, err := g.registerTriggerFailureLocked(ctx, triggerID, reason, threshold, windowMs, pauseMs, now)
		result = r
		return err
	})
	if err != nil {
		return wc.TriggerFailureResult{}, err
	}
	return result, nil
}

func (g *Gate) registerTriggerFailureLocked(ctx context.Context, triggerID, reason string, threshold int, windowMs, pauseMs int64, now time.Time) (wc.TriggerFailureResult, error) {
	cutoff := now.Add(-time.Duration(windowMs) * time.Millisecond)
	if err := g.store.PurgeTriggerFailuresBefore(ctx, triggerID, cutoff); err != nil {
		return wc.TriggerFailureResult{}, unavailable(err, "purge trigger failures")
	}
	if err := g.store.AppendTriggerFailure(ctx, wc.TriggerFailure{
		TriggerID:   triggerID,
		FailureTime: now,
		Reason:      reason,
	}); err != nil {
		return wc.TriggerFailureResult{}, unavailable(err, "append trigger failure")
	}
	count, err := g.store.CountTriggerFailures(ctx, triggerID)
	if err != nil {
		return wc.TriggerFailureResult{}, unavailable(err, "count trigger failures")
	}

	if threshold > 0 && count >= threshold {
		until := now.Add(time.Duration(pauseMs) * time.Millisecond)
		if err := g.store.UpsertTriggerPause(ctx, wc.TriggerPause{
			TriggerID:   triggerID,
			PausedUntil: until,
			Reason:      reason,
			Failures:    count,
		}); err != nil {
			return wc.TriggerFailureResult{}, unavailable(err, "upsert trigger pause")
		}
		metrics.TriggerPauses.Inc()
		return wc.TriggerFailureResult{Paused: true, Until: &until}, nil
	}

	if err := g.expirePauseLocked(ctx, triggerID, now); err != nil {
		return wc.TriggerFailureResult{}, err
	}
	return wc.TriggerFailureResult{Paused: false}, nil
}

// RegisterTriggerSuccess clears all failure rows and any pause row for the
// trigger, under the same per-trigger lock as RegisterTriggerFailure.
func (g *Gate) RegisterTriggerSuccess(ctx context.Context, triggerID string) error {
	return g.store.WithLock(ctx, "trigger:"+triggerID, func(ctx context.Context) error {
		if err := g.store.ClearTriggerFailures(ctx, triggerID); err != nil {
			return unavailable(err, "clear trigger failures")
		}
		if err := g.store.DeleteTriggerPause(ctx, triggerID); err != nil {
			return unavailable(err, "delete trigger pause")
		}
		return nil
	})
}

// IsTriggerPaused purges expired pause rows and reports current state,
// under the same per-trigger lock as RegisterTriggerFailure.
func (g *Gate) IsTriggerPaused(ctx context.Context, triggerID string, now time.Time) (bool, *time.Time, error) {
	var paused bool
	var until *time.Time
	err := g.store.WithLock(ctx, "trigger:"+triggerID, func(ctx context.Context) error {
		if err := g.expirePauseLocked(ctx, triggerID, now); err != nil {
			return err
		}
		p, err := g.store.GetTriggerPause(ctx, triggerID)
		if err != nil {
			return unavailable(err, "get trigger pause")
		}
		if p == nil {
			return nil
		}
		paused = true
		u := p.PausedUntil
		until = &u
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return paused, until, nil
}

func (g *Gate) expirePauseLocked(ctx context.Context, triggerID string, now time.Time) error {
	p, err := g.store.GetTriggerPause(ctx, triggerID)
	if err != nil {
		return unavailable(err, "get trigger pause")
	}
	if p == nil || p.PausedUntil.After(now) {
		return nil
	}
	if err := g.store.DeleteTriggerPause(ctx, triggerID); err != nil {
		return unavailable(err, "delete expired trigger pause")
	}
	return nil
}

func deny() wc.GateDecision { return wc.GateDecision{Allowed: false} }

func unavailable(err error, msg string) error {
	return errors.Wrap(wc.ErrStoreUnavailable, msg, j.MKV{"cause": err.Error()})
}

func record(allowed bool, reason string) {
	allowedLabel := "false"
	if allowed {
		allowedLabel = "true"
	}
	metrics.GateDecisions.WithLabelValues(allowedLabel, reason).Inc()
}
