package metrics

import "time"

// ResultLabel enumerates phase outcomes for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultError   ResultLabel = "error"
	ResultFatal   ResultLabel = "fatal"
)

// Disposition says what happened to a received mutation.
type Disposition string

const (
	DispositionApplied  Disposition = "applied"
	DispositionDeferred Disposition = "deferred"
	DispositionFailed   Disposition = "failed"
	DispositionUnknown  Disposition = "unknown"
	DispositionInvalid  Disposition = "invalid"
)

// Recorder defines the metrics hooks of a develop session.
type Recorder interface {
	IncTransition(to string)
	ObservePhaseDuration(phase string, d time.Duration)
	IncPhaseResult(phase string, result ResultLabel)
	IncMutation(kind string, d Disposition)
	ObserveBatch(size int, cause string, d time.Duration, success bool)
	SetPendingMutations(n int)
	IncRecursionLimit()
	SetLiveClients(n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncTransition(string)                          {}
func (NoopRecorder) ObservePhaseDuration(string, time.Duration)    {}
func (NoopRecorder) IncPhaseResult(string, ResultLabel)            {}
func (NoopRecorder) IncMutation(string, Disposition)               {}
func (NoopRecorder) ObserveBatch(int, string, time.Duration, bool) {}
func (NoopRecorder) SetPendingMutations(int)                       {}
func (NoopRecorder) IncRecursionLimit()                            {}
func (NoopRecorder) SetLiveClients(int)                            {}
