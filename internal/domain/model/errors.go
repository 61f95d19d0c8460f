package model

import "errors"

// Error kinds (§7). These are sentinel values, not a type hierarchy — the
// source system modeled errors as tagged unions of "kind", so callers
// compare with errors.Is instead of type-asserting a class.
var (
	// ErrNonAtomicCapture is returned when the originating transaction's
	// scope does not include pending_ops (and, for deletes, tombstones).
	// Fatal to that write; the caller must roll back.
	ErrNonAtomicCapture = errors.New("sync: capture transaction did not include pending_ops/tombstones store")

	// ErrPushPermanentFailure marks an op that will never succeed:
	// validation, oversize, or unauthorized.
	ErrPushPermanentFailure = errors.New("sync: push failed permanently")

	// ErrPushTransientFailure marks a retryable push failure.
	ErrPushTransientFailure = errors.New("sync: push failed transiently")

	// ErrSessionInvalid is raised on HTTP 401/403 from a provider.
	ErrSessionInvalid = errors.New("sync: session invalid")

	// ErrCursorExpired signals isPotentiallyExpired(); recovery is rescan().
	ErrCursorExpired = errors.New("sync: cursor potentially expired")

	// ErrInfiniteLoopDetected fires when pull returns hasMore with a
	// non-advancing cursor.
	ErrInfiniteLoopDetected = errors.New("sync: pull loop did not advance cursor")

	// ErrPayloadTooLarge is the client-side payload size guard (§9 open
	// question, resolved: enforce a 65536 byte ceiling before capture).
	ErrPayloadTooLarge = errors.New("sync: payload exceeds 65536 bytes")

	// ErrUnknownProvider is returned by the registry when activating or
	// looking up an id that was never registered.
	ErrUnknownProvider = errors.New("sync: unknown provider id")
)

const MaxPayloadBytes = 65536
