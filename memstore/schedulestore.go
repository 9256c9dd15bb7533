package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	wc "github.com/fluxline/workflowcore"
)

// ScheduleStore is an in-memory wc.ScheduleStore.
type ScheduleStore struct {
	mu          sync.Mutex
	schedules   map[string]wc.Schedule
	definitions map[string]wc.WorkflowDefinition
}

// NewScheduleStore builds an empty ScheduleStore.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{
		schedules:   make(map[string]wc.Schedule),
		definitions: make(map[string]wc.WorkflowDefinition),
	}
}

// Put registers (or replaces) a schedule and the definition it belongs to.
// Definitions are normalized (DAG validated, Roots/TopoOrder recomputed)
// before being stored, per §3.
func (s *ScheduleStore) Put(sched wc.Schedule, def wc.WorkflowDefinition) error {
	normalized, err := wc.NormalizeDefinition(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[normalized.ID] = normalized
	s.schedules[sched.ID] = sched
	return nil
}

func (s *ScheduleStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]wc.ScheduleWithDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []wc.ScheduleWithDefinition
	for _, sched := range s.schedules {
		if !sched.IsActive {
			continue
		}
		if sched.NextRunAt == nil || sched.NextRunAt.After(now) {
			continue
		}
		def, ok := s.definitions[sched.WorkflowDefinitionID]
		if !ok {
			continue
		}
		due = append(due, wc.ScheduleWithDefinition{Schedule: sched, Definition: def})
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Schedule.NextRunAt.Before(*due[j].Schedule.NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *ScheduleStore) UpdateScheduleRuntimeMetadata(ctx context.Context, id string, patch wc.ScheduleRuntimePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return errors.Wrap(wc.ErrUnknownSchedule, "update schedule runtime metadata", j.MKV{"schedule_id": id})
	}
	if patch.NextRunAt != nil {
		sched.NextRunAt = patch.NextRunAt
	}
	if patch.ClearCatchupCursor {
		sched.CatchupCursor = nil
	} else if patch.CatchupCursor != nil {
		sched.CatchupCursor = patch.CatchupCursor
	}
	if patch.LastWindow != nil {
		sched.LastMaterializedWindow = patch.LastWindow
	}
	s.schedules[id] = sched
	return nil
}

var _ wc.ScheduleStore = (*ScheduleStore)(nil)
