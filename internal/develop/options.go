package develop

import (
	"log/slog"
	"time"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// Options tunes batching and the recursion guard.
type Options struct {
	SessionID string

	// BatchSize deferred mutations force an immediate commit.
	BatchSize int
	// BatchWindow starts when batchingNodeMutations is entered and is not
	// extended by later mutations.
	BatchWindow time.Duration
	// MaxRecursion bounds pipeline re-runs triggered by nodes mutated
	// during page creation.
	MaxRecursion int
	// CommitConcurrency limits parallel mutation execution during a commit.
	// Zero or less means unbounded.
	CommitConcurrency int

	// Store, when set, is available before initializing finishes so
	// mutations received during initializing can be applied.
	Store *nodestore.Store

	InboundBuffer int
	Logger        *slog.Logger
}

// DefaultOptions returns the stock batching policy: 5 mutations or 1s.
func DefaultOptions() Options {
	return Options{
		BatchSize:         5,
		BatchWindow:       time.Second,
		MaxRecursion:      2,
		CommitConcurrency: 1,
		InboundBuffer:     256,
	}
}

func (o Options) validate() error {
	if o.BatchSize < 1 {
		return ferrors.ValidationError("batch size must be >= 1").WithContext("value", o.BatchSize).Build()
	}
	if o.BatchWindow <= 0 {
		return ferrors.ValidationError("batch window must be > 0").WithContext("value", o.BatchWindow.String()).Build()
	}
	if o.MaxRecursion < 0 {
		return ferrors.ValidationError("max recursion must be >= 0").WithContext("value", o.MaxRecursion).Build()
	}
	return nil
}
