package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/sitedev/internal/config"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// Policy encapsulates backoff settings for transient failures. It is immutable.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first failed attempt
}

// DefaultPolicy is exponential, 250ms initial, 5s cap, 5 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 250 * time.Millisecond, Max: 5 * time.Second, MaxRetries: 5}
}

// FromConfig builds a policy; zero or unknown fields fall back to defaults.
func FromConfig(rc config.RetryConfig) Policy {
	p := DefaultPolicy()
	if m := config.NormalizeRetryBackoff(string(rc.Mode)); m != "" {
		p.Mode = m
	}
	if rc.Initial > 0 {
		p.Initial = rc.Initial
	}
	if rc.Max > 0 {
		p.Max = rc.Max
	}
	if rc.MaxRetries > 0 {
		p.MaxRetries = rc.MaxRetries
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		if retryCount > 30 {
			return p.Max
		}
		d = p.Initial * (1 << (retryCount - 1))
	default:
		d = time.Duration(retryCount) * p.Initial
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Do runs fn until it succeeds, retries are exhausted, or ctx ends.
// Errors classified as non-retryable stop immediately.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "retry canceled").
					WithContext("attempts", attempt).Build()
			case <-t.C:
			}
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if c, ok := ferrors.AsClassified(err); ok && !c.CanRetry() {
			return err
		}
	}
	return err
}
