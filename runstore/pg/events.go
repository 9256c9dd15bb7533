package pg

import wc "github.com/fluxline/workflowcore"

// Event type constants mirror package bus's catalogue. Duplicated (as plain
// strings, not an import of bus) to avoid runstore/pg depending on bus for
// six constants; bus.RunEventType documents the same mapping as the
// canonical source of truth for consumers that import bus directly.
const (
	runEventPending   = "workflow.run.pending"
	runEventRunning   = "workflow.run.running"
	runEventSucceeded = "workflow.run.succeeded"
	runEventFailed    = "workflow.run.failed"
	runEventCanceled  = "workflow.run.canceled"
	runEventUpdated   = "workflow.run.updated"
)

func runEventForStatus(status wc.RunStatus) string {
	switch status {
	case wc.RunRunning:
		return runEventRunning
	case wc.RunSucceeded:
		return runEventSucceeded
	case wc.RunFailed:
		return runEventFailed
	case wc.RunCanceled:
		return runEventCanceled
	default:
		return runEventUpdated
	}
}
