package events

import (
	"time"

	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

// Inbound is implemented by the events the orchestrator accepts at its boundary.
// Subscribing to Inbound keeps mutations and refresh signals in arrival order.
type Inbound interface {
	inbound()
}

// MutationReceived carries one content mutation request.
type MutationReceived struct {
	Request    mutation.Request
	Source     string // http, nats, watch, ...
	ReceivedAt time.Time
}

// RefreshRequested is an external refresh signal (webhook, config change, schedule).
type RefreshRequested struct {
	Body        []byte
	Source      string
	RequestedAt time.Time
}

func (MutationReceived) inbound() {}
func (RefreshRequested) inbound() {}

// Observation is implemented by the events the orchestrator emits about itself.
type Observation interface {
	Session() string
}

// StateEntered is emitted after every transition, including self-loops into idle.
type StateEntered struct {
	SessionID string
	From      string
	To        string
	At        time.Time
}

// PhaseFinished reports the outcome of one phase invocation.
type PhaseFinished struct {
	SessionID string
	State     string
	Duration  time.Duration
	Err       error
	Fatal     bool
}

// MutationDeferred reports a mutation appended to the pending batch.
type MutationDeferred struct {
	SessionID string
	State     string
	Kind      string
	Pending   int
}

// MutationApplied reports a mutation dispatched without deferral.
type MutationApplied struct {
	SessionID string
	State     string
	Kind      string
	Err       error
}

// MutationDropped reports a mutation discarded at admission, either for an
// unknown kind or for a payload that failed validation.
type MutationDropped struct {
	SessionID string
	State     string
	Kind      string
	Source    string
	Reason    string // unknown or invalid
	Err       error
}

// BatchCommitted reports the end of a commit cycle.
type BatchCommitted struct {
	SessionID string
	BatchID   string
	Size      int
	Requests  []mutation.Request
	Cause     string // size or window
	Duration  time.Duration
	Err       error
}

// RecursionLimitReached reports that query-time mutations exceeded the re-run budget.
type RecursionLimitReached struct {
	SessionID string
	Count     int
	Limit     int
}

func (e StateEntered) Session() string          { return e.SessionID }
func (e PhaseFinished) Session() string         { return e.SessionID }
func (e MutationDeferred) Session() string      { return e.SessionID }
func (e MutationApplied) Session() string       { return e.SessionID }
func (e MutationDropped) Session() string       { return e.SessionID }
func (e BatchCommitted) Session() string        { return e.SessionID }
func (e RecursionLimitReached) Session() string { return e.SessionID }
