// Package materializer implements the Schedule Materializer (C3), the
// cron-driven producer that converts (workflow, schedule) pairs into
// WorkflowRun rows. Its single-active-loop shape is adapted from the
// teacher's Workflow.run: a role-scheduled retry loop generalized here into
// a ticker-driven tick that must never overlap itself and that drains
// cooperatively on Stop.
package materializer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	wc "github.com/fluxline/workflowcore"
	flowcron "github.com/fluxline/workflowcore/cron"
	"github.com/fluxline/workflowcore/internal/logger"
	"github.com/fluxline/workflowcore/internal/metrics"
	"github.com/fluxline/workflowcore/partition"
)

// EnqueueRun hands a freshly created, still-pending run to the external job
// queue. A non-nil error means the run row is left pending and the
// schedule's cursor is not advanced past its occurrence.
type EnqueueRun func(ctx context.Context, run wc.WorkflowRun, def wc.WorkflowDefinition) error

// Materializer runs the tick loop described in §4.3.
type Materializer struct {
	schedules wc.ScheduleStore
	runs      wc.WorkflowRunStore
	enqueue   EnqueueRun
	evaluator flowcron.Evaluator
	clock     clock.Clock
	opts      Options
	log       logger.Logger

	running atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// New constructs a Materializer. clk may be nil, in which case
// clock.RealClock is used, matching the teacher's Builder default.
func New(schedules wc.ScheduleStore, runs wc.WorkflowRunStore, enqueue EnqueueRun, opts Options, clk clock.Clock) *Materializer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Materializer{
		schedules: schedules,
		runs:      runs,
		enqueue:   enqueue,
		evaluator: flowcron.NewEvaluator(),
		clock:     clk,
		opts:      opts,
		log:       logger.New(),
		done:      make(chan struct{}),
	}
}

// Run starts the tick loop; it blocks until ctx is canceled or Stop is
// called. One active instance per process is assumed (§5).
func (m *Materializer) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C():
			m.Tick(ctx)
		}
	}
}

// Stop requests cooperative shutdown: the in-flight tick (if any) finishes,
// then Run returns. Safe to call more than once.
func (m *Materializer) Stop() {
	m.once.Do(func() { close(m.done) })
}

// Tick runs a single materialization pass. It is exported so callers (and
// tests) can drive it deterministically instead of waiting on the ticker.
// A tick never overlaps with another in-flight tick on the same
// Materializer.
func (m *Materializer) Tick(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	defer m.running.Store(false)

	start := m.clock.Now()
	defer func() {
		metrics.TickDuration.Observe(m.clock.Now().Sub(start).Seconds())
	}()

	now := m.clock.Now()
	due, err := m.schedules.ListDueSchedules(ctx, now, m.opts.BatchSize)
	if err != nil {
		m.log.Error(ctx, logger.Wrap(err, "list due schedules", j.MKV{}))
		return
	}

	concurrency := m.opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, swd := range due {
		swd := swd
		g.Go(func() error {
			m.processSchedule(gctx, swd, now)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Materializer) processSchedule(ctx context.Context, swd wc.ScheduleWithDefinition, now time.Time) {
	sched := swd.Schedule
	if !sched.IsActive {
		// Race: returned by the store just as it was deactivated.
		return
	}
	if sched.NextRunAt == nil {
		return
	}

	cursorStart := *sched.NextRunAt
	if sched.CatchupCursor != nil {
		cursorStart = *sched.CatchupCursor
	}

	occurrences, err := m.occurrenceSequence(sched, cursorStart, now)
	if err != nil {
		m.log.Error(ctx, logger.Wrap(err, "compute occurrence sequence", j.MKV{"schedule_id": sched.ID}))
		return
	}
	if len(occurrences) == 0 {
		return
	}
	if !sched.CatchUp {
		occurrences = occurrences[:1]
	} else if len(occurrences) > m.opts.MaxWindows {
		occurrences = occurrences[:m.opts.MaxWindows]
	}

	var failedAt *time.Time
	for _, occ := range occurrences {
		occ := occ
		if ok := m.processOccurrence(ctx, swd, occ); !ok {
			failedAt = &occ
			break
		}
	}

	if failedAt != nil {
		m.persistPatch(ctx, sched.ID, wc.ScheduleRuntimePatch{
			NextRunAt:     failedAt,
			CatchupCursor: failedAt,
		})
		return
	}

	if !sched.CatchUp {
		next, err := m.evaluator.NextAfter(sched.Cron, sched.Timezone, now)
		if err != nil {
			m.log.Error(ctx, logger.Wrap(err, "compute next occurrence", j.MKV{"schedule_id": sched.ID}))
			return
		}
		m.persistPatch(ctx, sched.ID, wc.ScheduleRuntimePatch{
			NextRunAt:          &next,
			ClearCatchupCursor: true,
		})
		return
	}

	last := occurrences[len(occurrences)-1]
	next, err := m.evaluator.NextAfter(sched.Cron, sched.Timezone, last)
	if err != nil {
		m.log.Error(ctx, logger.Wrap(err, "compute next occurrence", j.MKV{"schedule_id": sched.ID}))
		return
	}
	window := wc.Window{Start: last, End: last}
	m.persistPatch(ctx, sched.ID, wc.ScheduleRuntimePatch{
		NextRunAt:     &next,
		CatchupCursor: &next,
		LastWindow:    &window,
	})
}

// occurrenceSequence returns the aligned occurrences starting at (and
// including) start, bounded by now and by opts.MaxWindows (at least 1).
func (m *Materializer) occurrenceSequence(sched wc.Schedule, start, now time.Time) ([]time.Time, error) {
	if start.After(now) {
		return nil, nil
	}
	out := []time.Time{start}
	cur := start
	limit := m.opts.MaxWindows
	if limit < 1 {
		limit = 1
	}
	for len(out) < limit {
		next, err := m.evaluator.NextAfter(sched.Cron, sched.Timezone, cur)
		if err != nil {
			return nil, err
		}
		if next.After(now) {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

// processOccurrence handles one occurrence per §4.3 step 4. It returns
// false only on enqueue (or run-creation) failure, signaling the caller to
// stop advancing this schedule past this occurrence.
func (m *Materializer) processOccurrence(ctx context.Context, swd wc.ScheduleWithDefinition, occ time.Time) bool {
	sched := swd.Schedule

	key, ok := partition.Classify(swd.Definition, occ)
	if !ok {
		metrics.OccurrencesSkipped.WithLabelValues(sched.ID).Inc()
		return true
	}

	params := mergeParameters(swd.Definition.DefaultParameters, sched.ParameterOverlay)
	input := wc.CreateRunInput{
		Parameters:    params,
		Trigger:       wc.NewScheduleTrigger(occ),
		PartitionKey:  &key,
		InitialStatus: wc.RunPending,

		// A retried tick for the same occurrence (§4.3 step 4c, after a
		// prior enqueue failure left the cursor unadvanced) must not create
		// a second run row for it.
		IdempotencyKey: sched.ID + "@" + occ.UTC().Format(time.RFC3339Nano),
	}

	run, err := m.runs.CreateRun(ctx, swd.Definition.ID, input)
	if errors.Is(err, wc.ErrConflictingRunKey) {
		// A prior tick already committed the run row for this occurrence
		// (§4.3 step 4c: a run is committed even when its enqueue failed).
		// Treat the occurrence as processed rather than creating a
		// duplicate; the existing row is retried out-of-band by whatever
		// owns the enqueue-failure backlog.
		metrics.OccurrencesSkipped.WithLabelValues(sched.ID).Inc()
		return true
	}
	if err != nil {
		m.log.Error(ctx, logger.Wrap(err, "create run", j.MKV{"schedule_id": sched.ID, "occurrence": occ.String()}))
		return false
	}

	if err := m.enqueue(ctx, run, swd.Definition); err != nil {
		metrics.EnqueueFailures.WithLabelValues(sched.ID).Inc()
		m.log.Error(ctx, logger.Wrap(err, "enqueue run", j.MKV{"schedule_id": sched.ID, "run_id": run.ID}))
		return false
	}

	metrics.RunsCreated.WithLabelValues(sched.ID).Inc()
	return true
}

func (m *Materializer) persistPatch(ctx context.Context, scheduleID string, patch wc.ScheduleRuntimePatch) {
	if err := m.schedules.UpdateScheduleRuntimeMetadata(ctx, scheduleID, patch); err != nil {
		m.log.Error(ctx, logger.Wrap(err, "update schedule runtime metadata", j.MKV{"schedule_id": scheduleID}))
	}
}

// mergeParameters merges overlay over base (overlay wins on conflicting
// keys), both opaque JSON objects. A nil/empty side is treated as {}.
func mergeParameters(base, overlay json.RawMessage) json.RawMessage {
	merged := map[string]any{}
	_ = json.Unmarshal(base, &merged)
	var ov map[string]any
	if err := json.Unmarshal(overlay, &ov); err == nil {
		for k, v := range ov {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return out
}
