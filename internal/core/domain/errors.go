package domain

import "errors"

// Store-level sentinel errors. Repositories return these wrapped; the
// engine matches with errors.Is and maps them to API errors.
var (
	// ErrVersionConflict signals an optimistic-concurrency conflict: the
	// wallet row changed between read and update. The engine retries the
	// whole unit of work a bounded number of times.
	ErrVersionConflict = errors.New("wallet modified concurrently")

	// ErrNotFound signals that a directly referenced record is absent.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateIdempotencyKey signals that another request finished
	// first under the same idempotency key. The engine replays the
	// stored response instead of surfacing the write failure.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")
)
