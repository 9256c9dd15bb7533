package workflowcore

import (
	"github.com/luno/jettison/errors"
)

// Error taxonomy per §7. Pure-component errors (InvalidCron, InvalidTimezone)
// surface synchronously to the caller; store/enqueue/webhook errors are
// handled per the propagation policy documented alongside each component.
var (
	ErrInvalidCron       = errors.New("invalid cron expression")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrUnknownWorkflow   = errors.New("unknown workflow")
	ErrUnknownRun        = errors.New("unknown run")
	ErrUnknownSchedule   = errors.New("unknown schedule")
	ErrIllegalTransition = errors.New("illegal run transition")
	ErrConflictingRunKey = errors.New("conflicting run key")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrEnqueueFailed     = errors.New("enqueue failed")
	ErrWebhookFailed     = errors.New("webhook failed")
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)
