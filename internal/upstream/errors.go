package upstream

import "errors"

// Sentinel kinds for upstream failures.
var (
	// ErrUnauthorized signals an invalid or expired credential. It is the
	// only failure the token-refresh retry wrapper acts on.
	ErrUnauthorized = errors.New("upstream credential rejected")

	// ErrNotFound signals the requested activity no longer exists upstream.
	ErrNotFound = errors.New("upstream activity not found")
)
