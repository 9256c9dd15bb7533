package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/memstore"
)

func TestScheduleStore_PutRejectsCyclicDefinition(t *testing.T) {
	store := memstore.NewScheduleStore()
	def := wc.WorkflowDefinition{
		ID: "def-cyclic", Slug: "cyclic", Version: 1,
		Steps: []wc.StepDeclaration{
			{ID: "a", Kind: wc.StepKindJob, DependsOn: []string{"b"}},
			{ID: "b", Kind: wc.StepKindJob, DependsOn: []string{"a"}},
		},
	}
	err := store.Put(wc.Schedule{ID: "sched-1", WorkflowDefinitionID: def.ID}, def)
	require.Error(t, err)
	assert.ErrorIs(t, err, wc.ErrInvalidDefinition)
}

func TestScheduleStore_PutNormalizesRootsAndTopoOrder(t *testing.T) {
	store := memstore.NewScheduleStore()
	def := wc.WorkflowDefinition{
		ID: "def-1", Slug: "chain", Version: 1,
		Steps: []wc.StepDeclaration{
			{ID: "a", Kind: wc.StepKindJob},
			{ID: "b", Kind: wc.StepKindJob, DependsOn: []string{"a"}},
		},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	require.NoError(t, store.Put(wc.Schedule{
		ID: "sched-1", WorkflowDefinitionID: def.ID, IsActive: true, NextRunAt: &past,
	}, def))

	due, err := store.ListDueSchedules(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []string{"a", "b"}, due[0].Definition.TopoOrder)
	assert.Equal(t, []string{"a"}, due[0].Definition.Roots)
}

func TestScheduleStore_ListDueSchedules_OrdersByNextRunAt(t *testing.T) {
	store := memstore.NewScheduleStore()
	def := wc.WorkflowDefinition{ID: "def-1", Slug: "x", Version: 1, Steps: []wc.StepDeclaration{{ID: "a", Kind: wc.StepKindJob}}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := now.Add(-2 * time.Minute)
	later := now.Add(-1 * time.Minute)

	require.NoError(t, store.Put(wc.Schedule{ID: "sched-later", WorkflowDefinitionID: def.ID, IsActive: true, NextRunAt: &later}, def))
	require.NoError(t, store.Put(wc.Schedule{ID: "sched-earlier", WorkflowDefinitionID: def.ID, IsActive: true, NextRunAt: &earlier}, def))

	due, err := store.ListDueSchedules(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "sched-earlier", due[0].Schedule.ID)
	assert.Equal(t, "sched-later", due[1].Schedule.ID)
}

func TestScheduleStore_UpdateScheduleRuntimeMetadata_UnknownID(t *testing.T) {
	store := memstore.NewScheduleStore()
	err := store.UpdateScheduleRuntimeMetadata(context.Background(), "missing", wc.ScheduleRuntimePatch{})
	require.Error(t, err)
	assert.ErrorIs(t, err, wc.ErrUnknownSchedule)
}

func TestScheduleStore_UpdateScheduleRuntimeMetadata_ClearsCursor(t *testing.T) {
	store := memstore.NewScheduleStore()
	def := wc.WorkflowDefinition{ID: "def-1", Slug: "x", Version: 1, Steps: []wc.StepDeclaration{{ID: "a", Kind: wc.StepKindJob}}}
	cursor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(wc.Schedule{
		ID: "sched-1", WorkflowDefinitionID: def.ID, IsActive: true, NextRunAt: &cursor, CatchupCursor: &cursor,
	}, def))

	next := cursor.Add(time.Minute)
	require.NoError(t, store.UpdateScheduleRuntimeMetadata(context.Background(), "sched-1", wc.ScheduleRuntimePatch{
		NextRunAt: &next, ClearCatchupCursor: true,
	}))

	due, err := store.ListDueSchedules(context.Background(), next.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Nil(t, due[0].Schedule.CatchupCursor)
	assert.Equal(t, next, *due[0].Schedule.NextRunAt)
}
