package signal

import "errors"

var (
	// ErrInvalidObservation rejects malformed input: non-positive price
	// or zero timestamp. Nothing is written.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrStaleWindowConflict means the per-asset lock could not be
	// acquired within the retry budget. Callers retry after backoff.
	ErrStaleWindowConflict = errors.New("stale window conflict")

	// ErrInconsistentBackfill means a recompute checkpoint exists for
	// the asset: its signal history must not be served until the
	// recompute-forward completes.
	ErrInconsistentBackfill = errors.New("inconsistent backfill in progress")
)
