// Package memstore is an in-memory reference implementation of every store
// port the core defines (WorkflowRunStore, ScheduleStore, EventGateStore),
// grounded on the pack's test-double conventions (kubernaut/zjrosen-perles
// both keep a mutex-guarded in-memory fake alongside their real adapters).
// It exists for tests and for standalone/single-process deployments that
// don't need Postgres or Redis.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/runstore"
)

// RunStore is an in-memory wc.WorkflowRunStore.
type RunStore struct {
	mu          sync.Mutex
	runs        map[string]wc.WorkflowRun
	defExists   map[string]bool
	idempotency map[string]string // IdempotencyKey -> run ID
	publisher   wc.EventPublisher
	onFailed    func(context.Context, wc.WorkflowRun)
	clock       func() time.Time
}

// NewRunStore builds a RunStore. knownDefinitionIDs seeds the set of
// workflow definition ids CreateRun will accept; callers register more via
// RegisterDefinition as definitions are created.
func NewRunStore(publisher wc.EventPublisher, onFailed func(context.Context, wc.WorkflowRun), knownDefinitionIDs ...string) *RunStore {
	s := &RunStore{
		runs:        make(map[string]wc.WorkflowRun),
		defExists:   make(map[string]bool),
		idempotency: make(map[string]string),
		publisher:   publisher,
		onFailed:    onFailed,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, id := range knownDefinitionIDs {
		s.defExists[id] = true
	}
	return s
}

// RegisterDefinition marks defID as a valid CreateRun target.
func (s *RunStore) RegisterDefinition(defID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defExists[defID] = true
}

func (s *RunStore) CreateRun(ctx context.Context, defID string, input wc.CreateRunInput) (wc.WorkflowRun, error) {
	s.mu.Lock()
	if !s.defExists[defID] {
		s.mu.Unlock()
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrUnknownWorkflow, "create run", j.MKV{"workflow_definition_id": defID})
	}
	if input.IdempotencyKey != "" {
		if _, conflict := s.idempotency[input.IdempotencyKey]; conflict {
			s.mu.Unlock()
			return wc.WorkflowRun{}, errors.Wrap(wc.ErrConflictingRunKey, "create run", j.MKV{"idempotency_key": input.IdempotencyKey})
		}
	}

	run := wc.WorkflowRun{
		ID:                   uuid.NewString(),
		WorkflowDefinitionID: defID,
		Status:               input.InitialStatus,
		PartitionKey:         input.PartitionKey,
		Parameters:           input.Parameters,
		Trigger:              input.Trigger,
		CreatedAt:            s.clock(),
		IdempotencyKey:       input.IdempotencyKey,
	}
	if run.Status == "" {
		run.Status = wc.RunPending
	}
	s.runs[run.ID] = run
	if input.IdempotencyKey != "" {
		s.idempotency[input.IdempotencyKey] = run.ID
	}
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.Publish(wc.Event{Type: "workflow.run.pending", Data: run, EmittedAt: s.clock()})
	}
	return run, nil
}

func (s *RunStore) Transition(ctx context.Context, runID string, next wc.RunStatus, patch wc.TransitionPatch) (wc.WorkflowRun, error) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrUnknownRun, "transition", j.MKV{"run_id": runID})
	}
	if !runstore.CanTransition(run.Status, next) {
		s.mu.Unlock()
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrIllegalTransition, "transition", j.MKV{
			"run_id": runID, "from": string(run.Status), "to": string(next),
		})
	}

	now := s.clock()
	run.Status = next
	if patch.StartedAt != nil {
		run.StartedAt = patch.StartedAt
	} else if next == wc.RunRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if patch.CompletedAt != nil {
		run.CompletedAt = patch.CompletedAt
	} else if next.Terminal() && run.CompletedAt == nil {
		run.CompletedAt = &now
	}
	if patch.ErrorMessage != nil {
		run.ErrorMessage = patch.ErrorMessage
	}
	if patch.Retry != nil {
		run.Retry = *patch.Retry
	}
	if patch.EnqueueError != nil {
		run.EnqueueError = *patch.EnqueueError
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		d := run.CompletedAt.Sub(*run.StartedAt).Milliseconds()
		run.DurationMs = &d
	}
	s.runs[runID] = run
	s.mu.Unlock()

	if s.publisher != nil {
		emittedAt := s.clock()
		s.publisher.Publish(wc.Event{Type: eventForStatus(next), Data: run, EmittedAt: emittedAt})
		s.publisher.Publish(wc.Event{Type: "workflow.run.updated", Data: run, EmittedAt: emittedAt})
	}
	if next == wc.RunFailed && s.onFailed != nil {
		go s.onFailed(context.WithoutCancel(ctx), run)
	}
	return run, nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (wc.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrUnknownRun, "get run", j.MKV{"run_id": runID})
	}
	return run, nil
}

func (s *RunStore) ListRunsByDefinition(ctx context.Context, defID string, status wc.RunStatus, since time.Time, limit int) ([]wc.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wc.WorkflowRun
	for _, run := range s.runs {
		if run.WorkflowDefinitionID != defID {
			continue
		}
		if status != "" && run.Status != status {
			continue
		}
		if run.CreatedAt.Before(since) {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *RunStore) CountFailures(ctx context.Context, defID string, windowMinutes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	since := s.clock().Add(-time.Duration(windowMinutes) * time.Minute)
	count := 0
	for _, run := range s.runs {
		if run.WorkflowDefinitionID != defID || run.Status != wc.RunFailed {
			continue
		}
		if run.CompletedAt != nil && run.CompletedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func eventForStatus(status wc.RunStatus) string {
	switch status {
	case wc.RunRunning:
		return "workflow.run.running"
	case wc.RunSucceeded:
		return "workflow.run.succeeded"
	case wc.RunFailed:
		return "workflow.run.failed"
	case wc.RunCanceled:
		return "workflow.run.canceled"
	default:
		return "workflow.run.updated"
	}
}

var _ wc.WorkflowRunStore = (*RunStore)(nil)
