package bus

import (
	"encoding/json"
	"time"

	wc "github.com/fluxline/workflowcore"
)

// Event type catalogue, per §4.7. These are opaque to the bus itself — it
// forwards Event values verbatim — but are the fixed vocabulary every
// producer in this module uses.
const (
	EventRepositoryUpdated         = "repository.updated"
	EventRepositoryIngestionEvent  = "repository.ingestion-event"
	EventBuildUpdated              = "build.updated"
	EventLaunchUpdated             = "launch.updated"
	EventServiceUpdated            = "service.updated"
	EventWorkflowDefinitionUpdated = "workflow.definition.updated"

	EventWorkflowRunPending   = "workflow.run.pending"
	EventWorkflowRunRunning   = "workflow.run.running"
	EventWorkflowRunSucceeded = "workflow.run.succeeded"
	EventWorkflowRunFailed    = "workflow.run.failed"
	EventWorkflowRunCanceled  = "workflow.run.canceled"
	EventWorkflowRunUpdated   = "workflow.run.updated"
)

// RunEventType maps a RunStatus to its status-specific event type.
//
// NOTE on the double-emission pitfall documented in §9: every successful
// transition publishes both this status-specific event AND
// EventWorkflowRunUpdated. A subscriber that listens to both will see each
// transition twice; that is intentional per spec, not a bug, but it means
// consumers should pick one or explicitly de-duplicate by run ID + status.
func RunEventType(status wc.RunStatus) string {
	switch status {
	case wc.RunPending:
		return EventWorkflowRunPending
	case wc.RunRunning:
		return EventWorkflowRunRunning
	case wc.RunSucceeded:
		return EventWorkflowRunSucceeded
	case wc.RunFailed:
		return EventWorkflowRunFailed
	case wc.RunCanceled:
		return EventWorkflowRunCanceled
	default:
		return EventWorkflowRunUpdated
	}
}

// Envelope is the JSON shape an outbound websocket adapter (an external
// collaborator — see §1/§6) renders each Event as. It is documented here,
// not implemented here, because wire compatibility matters even though the
// socket itself is out of this module's scope.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	EmittedAt time.Time `json:"emittedAt"`
}

// ConnectionAck is the greeting an adapter sends on subscribe.
type ConnectionAck struct {
	Type string       `json:"type"`
	Data ConnAckData `json:"data"`
}

type ConnAckData struct {
	Now time.Time `json:"now"`
}

// NewConnectionAck builds the {"type":"connection.ack",...} greeting.
func NewConnectionAck(now time.Time) ConnectionAck {
	return ConnectionAck{Type: "connection.ack", Data: ConnAckData{Now: now}}
}

// Pong is the reply an adapter sends to a client's "ping" string payload.
type Pong struct {
	Type string      `json:"type"`
	Data ConnAckData `json:"data"`
}

// NewPong builds the {"type":"pong",...} reply.
func NewPong(now time.Time) Pong {
	return Pong{Type: "pong", Data: ConnAckData{Now: now}}
}

// ToEnvelope renders e in the wire shape documented in §6.
func ToEnvelope(e wc.Event) Envelope {
	return Envelope{Type: e.Type, Data: e.Data, EmittedAt: e.EmittedAt}
}

// MarshalEnvelope is a convenience wrapper for adapters that just need
// bytes.
func MarshalEnvelope(e wc.Event) ([]byte, error) {
	return json.Marshal(ToEnvelope(e))
}
