package eventstore

import (
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = ferrors.EventStoreError("could not open event store database").Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = ferrors.EventStoreError("failed to initialize event store schema").Build()

	ErrEventAppendFailed = ferrors.EventStoreError("failed to append event to store").Build()
	ErrEventQueryFailed  = ferrors.EventStoreError("failed to query events from store").Build()
	ErrEventScanFailed   = ferrors.EventStoreError("failed to scan event rows").Build()

	// ErrMarshalPayloadFailed indicates JSON marshaling of an event payload failed.
	ErrMarshalPayloadFailed = ferrors.EventStoreError("failed to marshal event payload").Build()
)

// wrap attaches cause to a sentinel while keeping errors.Is(err, sentinel) true.
func wrap(sentinel *ferrors.ClassifiedError, cause error) error {
	return ferrors.WrapError(cause, sentinel.Category(), sentinel.Message()).Build()
}
