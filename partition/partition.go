// Package partition implements the Partition Classifier (C2): pure,
// no I/O.
package partition

import (
	"time"

	wc "github.com/fluxline/workflowcore"
)

// layoutForGranularity returns the strftime-ish Go reference layout used
// when the declaration doesn't supply an explicit Format.
var layoutForGranularity = map[wc.Granularity]string{
	wc.GranularityMinute: "2006-01-02T15:04Z",
	wc.GranularityHour:   "2006-01-02T15Z",
	wc.GranularityDay:    "2006-01-02",
}

// Classify implements §4.2: if any step's produced asset declares
// partitioning=timeWindow, the partition key is the occurrence formatted
// per that declaration's format (or a granularity default) in UTC.
// Otherwise it returns ok=false and the materializer must skip creating a
// run for this occurrence.
func Classify(def wc.WorkflowDefinition, occurrence time.Time) (string, bool) {
	for _, step := range def.Steps {
		for _, asset := range step.Produces {
			if asset.Partitioning != wc.PartitioningTimeWindow {
				continue
			}
			layout := asset.Format
			if layout == "" {
				layout = layoutForGranularity[asset.Granularity]
			}
			if layout == "" {
				layout = time.RFC3339
			}
			return occurrence.UTC().Format(layout), true
		}
	}
	return "", false
}
