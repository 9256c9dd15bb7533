package workflowcore

import (
	"context"
	"encoding/json"
	"time"
)

// WorkflowRunStore is the transactional API over the run table (C4). It is
// the exclusive owner of workflow_runs; the core never writes to that table
// through any other seam.
type WorkflowRunStore interface {
	// CreateRun creates a new run row and, on success, emits
	// workflow.run.pending on the bus. Returns ErrUnknownWorkflow if defID
	// does not name a known WorkflowDefinition, ErrConflictingRunKey if an
	// idempotency conflict is detected.
	CreateRun(ctx context.Context, defID string, input CreateRunInput) (WorkflowRun, error)

	// Transition moves a run to next, applying patch. Emits
	// workflow.run.<next> then workflow.run.updated, in that order, on
	// success. Returns ErrUnknownRun or ErrIllegalTransition.
	Transition(ctx context.Context, runID string, next RunStatus, patch TransitionPatch) (WorkflowRun, error)

	GetRun(ctx context.Context, runID string) (WorkflowRun, error)

	ListRunsByDefinition(ctx context.Context, defID string, status RunStatus, since time.Time, limit int) ([]WorkflowRun, error)

	// CountFailures returns the count of runs of defID with status=failed
	// whose CompletedAt falls within the last windowMinutes.
	CountFailures(ctx context.Context, defID string, windowMinutes int) (int, error)
}

// CreateRunInput is the set of caller-supplied fields for CreateRun.
type CreateRunInput struct {
	Parameters    json.RawMessage
	Trigger       TriggerDescriptor
	PartitionKey  *string
	InitialStatus RunStatus

	// IdempotencyKey, when non-empty, must be unique across all runs. A
	// second CreateRun with a key already in use returns
	// ErrConflictingRunKey instead of creating a duplicate row — the
	// materializer sets this to scheduleID+occurrence so a retried tick
	// after an enqueue failure (§4.3 step 4c) can't double-create the run
	// for the same occurrence.
	IdempotencyKey string
}

// TransitionPatch carries the optional fields a transition may set.
type TransitionPatch struct {
	ErrorMessage *string
	Retry        *RetrySummary
	StartedAt    *time.Time
	CompletedAt  *time.Time
	EnqueueError *string
}

// ScheduleStore is the runtime-metadata seam over the schedule table (C4).
// Schedule rows are otherwise created/updated by upstream definition syncs;
// this is the only mutation path the materializer is allowed to use.
type ScheduleStore interface {
	// ListDueSchedules returns up to limit schedules with is_active=true and
	// next_run_at<=now, joined with their workflow definitions.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]ScheduleWithDefinition, error)

	// UpdateScheduleRuntimeMetadata applies patch to schedule id. Returns
	// ErrUnknownSchedule if id does not exist.
	UpdateScheduleRuntimeMetadata(ctx context.Context, id string, patch ScheduleRuntimePatch) error
}

// GateDecision is the result of an admission check (C5).
type GateDecision struct {
	Allowed bool
	Reason  string
	Until   *time.Time
}

// TriggerFailureResult is the result of registering a trigger failure (C5).
type TriggerFailureResult struct {
	Paused bool
	Until  *time.Time
}

// EventGateStore is the persistence seam for the four pause/failure tables
// (C6). It exclusively owns them; cross-reads from other components are
// read-only.
type EventGateStore interface {
	UpsertSourcePause(ctx context.Context, p SourcePause) error
	DeleteExpiredSourcePauses(ctx context.Context, now time.Time) error
	GetSourcePause(ctx context.Context, source string) (*SourcePause, error)

	AppendSourceEvent(ctx context.Context, source string, at time.Time) error
	PurgeSourceEventsBefore(ctx context.Context, source string, before time.Time) error
	CountSourceEvents(ctx context.Context, source string) (int, error)

	AppendTriggerFailure(ctx context.Context, f TriggerFailure) error
	PurgeTriggerFailuresBefore(ctx context.Context, triggerID string, before time.Time) error
	CountTriggerFailures(ctx context.Context, triggerID string) (int, error)
	ClearTriggerFailures(ctx context.Context, triggerID string) error

	UpsertTriggerPause(ctx context.Context, p TriggerPause) error
	DeleteTriggerPause(ctx context.Context, triggerID string) error
	GetTriggerPause(ctx context.Context, triggerID string) (*TriggerPause, error)

	// ListActiveSourcePauses/ListActiveTriggerPauses/history queries are
	// capped at 500 rows.
	ListActiveSourcePauses(ctx context.Context, now time.Time) ([]SourcePause, error)
	ListActiveTriggerPauses(ctx context.Context, now time.Time) ([]TriggerPause, error)
	ListTriggerFailureHistory(ctx context.Context, triggerIDs []string, from, to time.Time, limit int) ([]TriggerFailure, error)

	// TruncateAll is test-only: it clears all four tables.
	TruncateAll(ctx context.Context) error

	// WithLock runs fn with exclusive access to everything keyed by key
	// (a source name or trigger id), so the read-modify-write sequences in
	// gate.Gate.Evaluate/RegisterTriggerFailure execute as a single unit per
	// §4.5's "inside a single transaction for atomicity" requirement.
	// Implementations must serialize concurrent WithLock calls that share a
	// key; calls with different keys must not block each other.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Event is an opaque, bus-forwarded notification. Type identifies the shape
// per §4.7's event catalogue; Data is left to the producer/consumer. The
// concrete pub/sub implementation lives in package bus (bus.Bus there is
// the one this module wires everywhere — kept out of this file only
// because its Subscription handle needs a concrete queue type alongside
// it).
type Event struct {
	Type      string
	Data      any
	EmittedAt time.Time
}

// EventFilter decides whether a subscription accepts an event. A nil filter
// accepts everything.
type EventFilter func(Event) bool

// EventPublisher is the narrow seam components that only need to publish
// (never subscribe) depend on, satisfied by *bus.Bus.
type EventPublisher interface {
	Publish(e Event)
}
