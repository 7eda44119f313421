package eventstore

import (
	"encoding/json"
	"time"
)

// Event type names written by the session recorder.
const (
	TypeSessionStarted        = "SessionStarted"
	TypeStateEntered          = "StateEntered"
	TypePhaseFinished         = "PhaseFinished"
	TypeMutationDeferred      = "MutationDeferred"
	TypeMutationApplied       = "MutationApplied"
	TypeMutationDropped       = "MutationDropped"
	TypeBatchCommitted        = "BatchCommitted"
	TypeRecursionLimitReached = "RecursionLimitReached"
)

type SessionStartedPayload struct {
	Root        string        `json:"root"`
	BatchSize   int           `json:"batch_size"`
	BatchWindow time.Duration `json:"batch_window_ns"`
}

type StateEnteredPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type PhaseFinishedPayload struct {
	Phase      string `json:"phase"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Fatal      bool   `json:"fatal,omitempty"`
}

type MutationPayload struct {
	State   string `json:"state"`
	Kind    string `json:"kind"`
	Pending int    `json:"pending,omitempty"`
	Source  string `json:"source,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type BatchCommittedPayload struct {
	BatchID    string   `json:"batch_id"`
	Size       int      `json:"size"`
	Kinds      []string `json:"kinds,omitempty"`
	Cause      string   `json:"cause"`
	DurationMS int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

type RecursionLimitPayload struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// Marshal encodes a payload for Append.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, wrap(ErrMarshalPayloadFailed, err)
	}
	return b, nil
}
