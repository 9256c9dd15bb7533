// Package workflowcore implements the control plane described in the
// specification: a schedule materializer, an event admission gate, and an
// in-process event bus, plus the shared persistent state those three loops
// read and write.
package workflowcore

import (
	"encoding/json"
	"strings"
	"time"
)

// StepKind identifies what a workflow step invokes.
type StepKind string

const (
	StepKindJob     StepKind = "job"
	StepKindService StepKind = "service"
	StepKindFanout  StepKind = "fanout"
)

// PartitioningKind identifies how a step's produced asset is partitioned.
type PartitioningKind string

const (
	PartitioningNone       PartitioningKind = ""
	PartitioningStatic     PartitioningKind = "static"
	PartitioningTimeWindow PartitioningKind = "timeWindow"
)

// Granularity is the bucket size of a timeWindow-partitioned asset.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// AssetDeclaration describes an asset a step produces or consumes.
type AssetDeclaration struct {
	Name         string           `json:"name"`
	Partitioning PartitioningKind `json:"partitioning,omitempty"`
	Granularity  Granularity      `json:"granularity,omitempty"`
	Format       string           `json:"format,omitempty"`
}

// StepDeclaration is one node of a WorkflowDefinition's step DAG.
type StepDeclaration struct {
	ID           string             `json:"id"`
	Kind         StepKind           `json:"kind"`
	DependsOn    []string           `json:"dependsOn,omitempty"`
	Produces     []AssetDeclaration `json:"produces,omitempty"`
	Consumes     []AssetDeclaration `json:"consumes,omitempty"`
}

// WorkflowDefinition is the immutable shape of a workflow: its steps, their
// dependency DAG, and the assets they declare.
type WorkflowDefinition struct {
	ID      string             `json:"id"`
	Slug    string             `json:"slug"`
	Version int                `json:"version"`
	Steps   []StepDeclaration  `json:"steps"`

	// Roots and TopoOrder are recomputed deterministically whenever the
	// definition is stored; never set them directly.
	Roots     []string `json:"roots,omitempty"`
	TopoOrder []string `json:"topoOrder,omitempty"`

	DefaultParameters json.RawMessage `json:"defaultParameters,omitempty"`
}

// RunStatus is a WorkflowRun's lifecycle state.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether status is one from which no further transition
// is permitted.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// RetryStrategy is the shape of the table-driven retry policy referenced by
// a WorkflowRun's retry summary. The core never retries on its own behalf;
// this is bookkeeping consumed by the external job runner.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy is table-driven: {maxAttempts, strategy, initialDelayMs}.
type RetryPolicy struct {
	MaxAttempts    int           `json:"maxAttempts"`
	Strategy       RetryStrategy `json:"strategy"`
	InitialDelayMs int64         `json:"initialDelayMs"`
}

// RetrySummary records observed retry progress against a RetryPolicy.
type RetrySummary struct {
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	Strategy      RetryStrategy `json:"strategy,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
}

// TriggerKind identifies what caused a WorkflowRun to be created.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerSchedule TriggerKind = "schedule"
	TriggerEvent    TriggerKind = "event"
)

// ScheduleTriggerPayload is the typed view of trigger.schedule.* fields the
// materializer writes and reads. Everything else in the opaque trigger blob
// is left alone by the core.
type ScheduleTriggerPayload struct {
	Kind       TriggerKind `json:"kind"`
	Occurrence time.Time   `json:"occurrence"`
	Window     Window      `json:"window"`
}

// Window is the {start, end} pair associated with a materialized occurrence.
// Currently start == end == occurrence, per the glossary.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TriggerDescriptor is the opaque trigger payload stored on a WorkflowRun,
// with a narrow typed accessor for the schedule fields the materializer
// cares about. Other trigger shapes (manual, event) pass through verbatim.
type TriggerDescriptor json.RawMessage

// ScheduleView extracts the schedule trigger fields if this descriptor
// encodes one. Dynamic JSON blobs are kept opaque at the core boundary;
// this is the one narrow view the core needs.
func (t TriggerDescriptor) ScheduleView() (ScheduleTriggerPayload, bool) {
	var p ScheduleTriggerPayload
	if len(t) == 0 {
		return p, false
	}
	if err := json.Unmarshal(t, &p); err != nil {
		return p, false
	}
	return p, p.Kind == TriggerSchedule
}

// NewScheduleTrigger builds a TriggerDescriptor for a materialized
// occurrence.
func NewScheduleTrigger(occurrence time.Time) TriggerDescriptor {
	w := Window{Start: occurrence, End: occurrence}
	b, _ := json.Marshal(ScheduleTriggerPayload{
		Kind:       TriggerSchedule,
		Occurrence: occurrence,
		Window:     w,
	})
	return TriggerDescriptor(b)
}

// WorkflowRun is one execution of a WorkflowDefinition.
type WorkflowRun struct {
	ID                   string          `json:"id"`
	WorkflowDefinitionID string          `json:"workflowDefinitionId"`
	Status               RunStatus       `json:"status"`
	PartitionKey         *string         `json:"partitionKey,omitempty"`
	Parameters           json.RawMessage `json:"parameters,omitempty"`
	Trigger              TriggerDescriptor `json:"trigger,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  *int64     `json:"durationMs,omitempty"`

	ErrorMessage *string      `json:"errorMessage,omitempty"`
	Retry        RetrySummary `json:"retry,omitempty"`

	// EnqueueError holds the value of TransitionPatch.EnqueueError from the
	// last transition that set it; memstore.RunStore stores it, runstore/pg
	// does not persist it. The materializer does not set it when its
	// EnqueueRun callback fails: such a run stays pending with this field
	// empty, and the failure is counted only in metrics.EnqueueFailures.
	EnqueueError string `json:"enqueueError,omitempty"`

	// IdempotencyKey mirrors CreateRunInput.IdempotencyKey, if one was set.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Schedule binds a WorkflowDefinition to a cron expression and the runtime
// cursor fields the materializer owns.
type Schedule struct {
	ID                 string          `json:"id"`
	WorkflowDefinitionID string        `json:"workflowDefinitionId"`
	Cron               string          `json:"cron"`
	Timezone           string          `json:"timezone"`
	ParameterOverlay   json.RawMessage `json:"parameterOverlay,omitempty"`
	CatchUp            bool            `json:"catchUp"`
	IsActive           bool            `json:"isActive"`

	NextRunAt           *time.Time `json:"nextRunAt,omitempty"`
	CatchupCursor       *time.Time `json:"catchupCursor,omitempty"`
	LastMaterializedWindow *Window `json:"lastMaterializedWindow,omitempty"`
}

// ScheduleWithDefinition is what ScheduleStore.ListDueSchedules returns:
// schedules joined with their workflow definitions per §4.4.
type ScheduleWithDefinition struct {
	Schedule   Schedule
	Definition WorkflowDefinition
}

// ScheduleRuntimePatch is the only mutation the materializer is allowed to
// make to a Schedule row.
type ScheduleRuntimePatch struct {
	NextRunAt     *time.Time
	CatchupCursor *time.Time
	// ClearCatchupCursor distinguishes "set catchup_cursor := null" from
	// "leave catchup_cursor untouched" when NextRunAt is set without a
	// CatchupCursor.
	ClearCatchupCursor bool
	LastWindow         *Window
}

// SourceRateLimit is the configured limit for one event source.
type SourceRateLimit struct {
	Source     string `json:"source"`
	Limit      int    `json:"limit"`
	IntervalMs int64  `json:"intervalMs"`
	PauseMs    int64  `json:"pauseMs"`
}

// SourcePause is a persisted, time-bounded rejection for a source.
type SourcePause struct {
	Source     string          `json:"source"`
	PausedUntil time.Time      `json:"pausedUntil"`
	Reason     string          `json:"reason"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// TriggerFailure is one recorded failure for a trigger, retained only over
// the configured failure window.
type TriggerFailure struct {
	ID          string    `json:"id"`
	TriggerID   string    `json:"triggerId"`
	FailureTime time.Time `json:"failureTime"`
	Reason      string    `json:"reason"`
}

// TriggerPause is a persisted, time-bounded rejection for a trigger.
type TriggerPause struct {
	TriggerID   string    `json:"triggerId"`
	PausedUntil time.Time `json:"pausedUntil"`
	Reason      string    `json:"reason"`
	Failures    int       `json:"failures"`
}

// NormalizeSource trims a source name, defaulting to "unknown" per §4.5.
func NormalizeSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
