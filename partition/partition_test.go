package partition_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/partition"
)

func TestClassify_NoPartitioning(t *testing.T) {
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob},
	}}
	_, ok := partition.Classify(def, time.Now())
	assert.False(t, ok)
}

func TestClassify_StaticPartitioningIsSkipped(t *testing.T) {
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob, Produces: []wc.AssetDeclaration{
			{Name: "x", Partitioning: wc.PartitioningStatic},
		}},
	}}
	_, ok := partition.Classify(def, time.Now())
	assert.False(t, ok)
}

func TestClassify_TimeWindowDay(t *testing.T) {
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob, Produces: []wc.AssetDeclaration{
			{Name: "x", Partitioning: wc.PartitioningTimeWindow, Granularity: wc.GranularityDay},
		}},
	}}
	occ := time.Date(2026, 3, 5, 13, 45, 0, 0, time.UTC)
	key, ok := partition.Classify(def, occ)
	assert.True(t, ok)
	assert.Equal(t, "2026-03-05", key)
}

func TestClassify_TimeWindowHour(t *testing.T) {
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob, Produces: []wc.AssetDeclaration{
			{Name: "x", Partitioning: wc.PartitioningTimeWindow, Granularity: wc.GranularityHour},
		}},
	}}
	occ := time.Date(2026, 3, 5, 13, 45, 0, 0, time.UTC)
	key, ok := partition.Classify(def, occ)
	assert.True(t, ok)
	assert.Equal(t, "2026-03-05T13Z", key)
}

func TestClassify_ExplicitFormatWins(t *testing.T) {
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob, Produces: []wc.AssetDeclaration{
			{Name: "x", Partitioning: wc.PartitioningTimeWindow, Format: "2006/01/02"},
		}},
	}}
	occ := time.Date(2026, 3, 5, 13, 45, 0, 0, time.UTC)
	key, ok := partition.Classify(def, occ)
	assert.True(t, ok)
	assert.Equal(t, "2026/03/05", key)
}

func TestClassify_NonUTCOccurrenceNormalized(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob, Produces: []wc.AssetDeclaration{
			{Name: "x", Partitioning: wc.PartitioningTimeWindow, Granularity: wc.GranularityDay},
		}},
	}}
	occ := time.Date(2026, 3, 5, 23, 0, 0, 0, loc) // 2026-03-06T04:00:00Z
	key, ok := partition.Classify(def, occ)
	assert.True(t, ok)
	assert.Equal(t, "2026-03-06", key)
}

func TestClassify_FirstMatchingStepWins(t *testing.T) {
	def := wc.WorkflowDefinition{Steps: []wc.StepDeclaration{
		{ID: "a", Kind: wc.StepKindJob},
		{ID: "b", Kind: wc.StepKindJob, Produces: []wc.AssetDeclaration{
			{Name: "x", Partitioning: wc.PartitioningTimeWindow, Granularity: wc.GranularityMinute},
		}},
	}}
	occ := time.Date(2026, 3, 5, 13, 45, 30, 0, time.UTC)
	key, ok := partition.Classify(def, occ)
	assert.True(t, ok)
	assert.Equal(t, "2026-03-05T13:45Z", key)
}
