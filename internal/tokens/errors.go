package tokens

import "errors"

// Sentinel kinds for token provider errors.
var (
	// ErrNotConnected means the athlete never completed the provider
	// authorization, or revoked it.
	ErrNotConnected = errors.New("athlete not connected")

	// ErrRefreshRejected means the provider refused the refresh token.
	ErrRefreshRejected = errors.New("token refresh rejected")
)
