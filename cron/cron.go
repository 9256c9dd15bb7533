// Package cron implements the Cron Evaluator (C1): given an expression, an
// IANA timezone, and a reference instant, enumerate scheduled occurrences
// and compute the next-after. Pure; no I/O.
package cron

import (
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	robfigcron "github.com/robfig/cron/v3"

	wc "github.com/fluxline/workflowcore"
)

// parser accepts six fields (seconds optional) per §4.1: "Cron granularity
// supports second-level fields when six fields are supplied, otherwise
// minute-level."
var parser = robfigcron.NewParser(
	robfigcron.SecondOptional | robfigcron.Minute | robfigcron.Hour |
		robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// Evaluator evaluates cron expressions against a named timezone. The zero
// value is usable; it carries no mutable state.
type Evaluator struct{}

// NewEvaluator returns a ready-to-use Evaluator.
func NewEvaluator() Evaluator { return Evaluator{} }

// NextAfter returns the next occurrence of expr (interpreted in tz) after
// t0, as a UTC instant. Fails with wc.ErrInvalidCron or
// wc.ErrInvalidTimezone.
func (Evaluator) NextAfter(expr, tz string, t0 time.Time) (time.Time, error) {
	sched, loc, err := parse(expr, tz)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(t0.In(loc))
	return next.UTC(), nil
}

// Between returns, in ascending order, every occurrence of expr (in tz) in
// (tFrom, tTo], bounded additionally by max. A zero tTo yields an empty
// result; callers that want an unbounded sequence should drive NextAfter in
// a loop instead, since this module's only consumer (the materializer)
// always bounds by maxWindows and wall-clock per §4.3 step 3.
func (Evaluator) Between(expr, tz string, tFrom, tTo time.Time, max int) ([]time.Time, error) {
	sched, loc, err := parse(expr, tz)
	if err != nil {
		return nil, err
	}

	var out []time.Time
	cur := tFrom.In(loc)
	for {
		if max > 0 && len(out) >= max {
			break
		}
		next := sched.Next(cur)
		if next.IsZero() || next.After(tTo) {
			break
		}
		out = append(out, next.UTC())
		cur = next
	}
	return out, nil
}

func parse(expr, tz string) (robfigcron.Schedule, *time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, nil, errors.Wrap(wc.ErrInvalidTimezone, "load timezone", j.MKV{"timezone": tz, "cause": err.Error()})
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, nil, errors.Wrap(wc.ErrInvalidCron, "parse cron expression", j.MKV{"expr": expr, "cause": err.Error()})
	}
	return sched, loc, nil
}
