// Package errors provides the classified error primitives used across sitedev.
//
// A ClassifiedError carries a category (config, phase, mutation, store, ...), a
// severity and a retry hint, plus a structured context map. The orchestrator uses
// severity to distinguish fatal phase failures from recoverable ones, and the CLI
// and HTTP adapters use category to pick exit codes and status codes.
//
// Example usage:
//
//	err := errors.PhaseError("phase failed").
//		Fatal().
//		WithContext("phase", "initializing").
//		WithCause(originalErr).
//		Build()
package errors
