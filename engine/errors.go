package engine

import "errors"

// Error kinds surfaced by the engine. Storage and index errors wrap
// these or pass through with context; encoder failures are only
// reported after the retry budget is exhausted.
var (
	// ErrNotInitialized is returned by operations before Initialize.
	ErrNotInitialized = errors.New("engine: not initialized")

	// ErrClosed is returned by operations after Shutdown.
	ErrClosed = errors.New("engine: shut down")

	// ErrDimensionMismatch is returned when an embedding does not match
	// the configured dimension.
	ErrDimensionMismatch = errors.New("engine: embedding dimension mismatch")

	// ErrEncoderFailure wraps an embedding or generation failure that
	// survived the retry budget.
	ErrEncoderFailure = errors.New("engine: encoder failure")

	// ErrLockTimeout is returned when the search lock cannot be
	// acquired within the bound.
	ErrLockTimeout = errors.New("engine: lock timeout")

	// ErrInvalidInput is returned for empty text or malformed options.
	ErrInvalidInput = errors.New("engine: invalid input")
)
