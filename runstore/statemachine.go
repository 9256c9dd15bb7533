// Package runstore holds the state-machine rules shared by every
// WorkflowRunStore implementation (C4), so Postgres-backed, Redis-backed,
// or in-memory stores all enforce the same transition legality.
package runstore

import wc "github.com/fluxline/workflowcore"

// legalNext enumerates, per §4.4, the statuses reachable from each status.
// pending -> running -> (succeeded | failed | canceled), and pending may also
// go straight to failed or canceled (but not succeeded); terminal statuses
// have no legal next.
var legalNext = map[wc.RunStatus]map[wc.RunStatus]bool{
	wc.RunPending: {
		wc.RunRunning:  true,
		wc.RunFailed:   true,
		wc.RunCanceled: true,
	},
	wc.RunRunning: {
		wc.RunSucceeded: true,
		wc.RunFailed:    true,
		wc.RunCanceled:  true,
	},
}

// CanTransition reports whether from->to is legal. Terminal statuses never
// transition further; any attempt to regress is illegal.
func CanTransition(from, to wc.RunStatus) bool {
	if from.Terminal() {
		return false
	}
	return legalNext[from][to]
}
