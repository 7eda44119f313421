package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field names shared by the orchestrator and its collaborators.
const (
	KeyState        = "state"
	KeyFromState    = "from_state"
	KeyToState      = "to_state"
	KeyPhase        = "phase"
	KeyMutationKind = "mutation_kind"
	KeyBatchID      = "batch_id"
	KeyBatchSize    = "batch_size"
	KeySessionID    = "session_id"
	KeyQueryID      = "query_id"
	KeySource       = "source"
	KeyReason       = "reason"
	KeyPath         = "path"
	KeyDurationMS   = "duration_ms"
	KeyError        = "error"

	// HTTP
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyRemoteAddr = "remote_addr"
	KeyAddr       = "addr"
)

func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func FromState(s string) slog.Attr    { return slog.String(KeyFromState, s) }
func ToState(s string) slog.Attr      { return slog.String(KeyToState, s) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func MutationKind(k string) slog.Attr { return slog.String(KeyMutationKind, k) }
func BatchID(id string) slog.Attr     { return slog.String(KeyBatchID, id) }
func BatchSize(n int) slog.Attr       { return slog.Int(KeyBatchSize, n) }
func SessionID(id string) slog.Attr   { return slog.String(KeySessionID, id) }
func QueryID(id string) slog.Attr     { return slog.String(KeyQueryID, id) }
func Source(s string) slog.Attr       { return slog.String(KeySource, s) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func Addr(a string) slog.Attr         { return slog.String(KeyAddr, a) }

// Duration reports d in fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Nanoseconds())/1e6)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
