package dispatch

import (
	"context"
	"time"
)

// Event types published on the lifecycle hub.
const (
	EventRegistered   = "subscription.registered"
	EventUnregistered = "subscription.unregistered"
	EventInvoked      = "condition.invoked"
	EventFailed       = "condition.failed"
	EventResetDefer   = "reset.deferred"
	EventResetApplied = "reset.applied"
)

// EventTypes lists every event type the dispatcher publishes.
func EventTypes() []string {
	return []string{EventRegistered, EventUnregistered, EventInvoked, EventFailed, EventResetDefer, EventResetApplied}
}

// Publisher receives lifecycle events. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/intertalk/internal/dispatch Recorder

// Recorder persists one record per completed invocation.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv Invocation) error
}

// Invocation describes one finished Invoke call.
type Invocation struct {
	ID         string
	Depth      int
	Condition  string
	Mode       Mode
	Dispatched int
	StartedAt  time.Time
	Duration   time.Duration
	Err        error
}

type subscriptionEvent struct {
	Depth     int    `json:"depth"`
	Condition string `json:"condition"`
	ID        int    `json:"id"`
}

type invocationEvent struct {
	InvocationID string `json:"invocation_id"`
	Depth        int    `json:"depth"`
	Condition    string `json:"condition"`
	Mode         string `json:"mode"`
	Dispatched   int    `json:"dispatched"`
	DurationUS   int64  `json:"duration_us"`
	Error        string `json:"error,omitempty"`
}

type resetEvent struct {
	Scope     string `json:"scope"`
	Depth     int    `json:"depth,omitempty"`
	Condition string `json:"condition,omitempty"`
}
