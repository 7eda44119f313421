// Package eventstore keeps a durable log of develop sessions in SQLite and
// projects it into per-session summaries.
package eventstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// SessionSummary is a read model of one develop session.
type SessionSummary struct {
	SessionID          string    `json:"session_id"`
	StartedAt          time.Time `json:"started_at"`
	LastEventAt        time.Time `json:"last_event_at"`
	State              string    `json:"state"`
	Transitions        int       `json:"transitions"`
	Builds             int       `json:"builds"`
	FirstRunCompleted  bool      `json:"first_run_completed"`
	PhaseFailures      int       `json:"phase_failures"`
	FailedPhase        string    `json:"failed_phase,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	Applied            int       `json:"applied"`
	Deferred           int       `json:"deferred"`
	Dropped            int       `json:"dropped"`
	Commits            int       `json:"commits"`
	CommittedMutations int       `json:"committed_mutations"`
	RecursionLimits    int       `json:"recursion_limits"`
}

// Failed reports whether the session ended in the failed state.
func (s SessionSummary) Failed() bool { return s.State == "failed" }

// SessionHistoryProjection rebuilds session summaries from the event log.
type SessionHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	sessions map[string]*SessionSummary
	lastSync time.Time
}

func NewSessionHistoryProjection(store Store) *SessionHistoryProjection {
	return &SessionHistoryProjection{store: store, sessions: map[string]*SessionSummary{}}
}

// Rebuild replays every stored event.
func (p *SessionHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = map[string]*SessionSummary{}
	for _, e := range events {
		p.applyLocked(e)
	}
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event.
func (p *SessionHistoryProjection) Apply(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(e)
}

func (p *SessionHistoryProjection) applyLocked(e Event) {
	id := e.SessionID()
	if id == "" {
		return
	}
	s, ok := p.sessions[id]
	if !ok {
		s = &SessionSummary{SessionID: id, StartedAt: e.Timestamp()}
		p.sessions[id] = s
	}
	s.LastEventAt = e.Timestamp()

	switch e.Type() {
	case TypeSessionStarted:
		s.StartedAt = e.Timestamp()

	case TypeStateEntered:
		var pl StateEnteredPayload
		if json.Unmarshal(e.Payload(), &pl) != nil {
			return
		}
		s.Transitions++
		s.State = pl.To
		switch pl.To {
		case "customizingSchema":
			s.Builds++
		case "idle":
			if pl.From == "runningWebpack" {
				s.FirstRunCompleted = true
			}
		}

	case TypePhaseFinished:
		var pl PhaseFinishedPayload
		if json.Unmarshal(e.Payload(), &pl) != nil || pl.Error == "" {
			return
		}
		s.PhaseFailures++
		s.FailedPhase = pl.Phase
		s.ErrorMessage = pl.Error

	case TypeMutationApplied:
		s.Applied++

	case TypeMutationDeferred:
		s.Deferred++

	case TypeMutationDropped:
		s.Dropped++

	case TypeBatchCommitted:
		var pl BatchCommittedPayload
		if json.Unmarshal(e.Payload(), &pl) != nil {
			return
		}
		if pl.Error != "" {
			s.ErrorMessage = pl.Error
			return
		}
		s.Commits++
		s.CommittedMutations += pl.Size

	case TypeRecursionLimitReached:
		s.RecursionLimits++
	}
}

// Get returns a copy of one session summary.
func (p *SessionHistoryProjection) Get(sessionID string) (SessionSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return SessionSummary{}, false
	}
	return *s, true
}

// List returns all sessions, newest first.
func (p *SessionHistoryProjection) List() []SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]SessionSummary, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b SessionSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}

// LastSyncTime returns when Rebuild last completed.
func (p *SessionHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
