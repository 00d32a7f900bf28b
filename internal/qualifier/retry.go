package qualifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/velora/criterium/internal/tokens"
	"github.com/velora/criterium/internal/upstream"
	"github.com/velora/criterium/pkg/metrics"
)

// ErrAuthFailed is terminal for an athlete within a run: the credential was
// rejected even after one forced refresh.
var ErrAuthFailed = errors.New("authorization failed after token refresh")

// callWithAuthRetry invokes fn with the athlete's current credential. On an
// upstream unauthorized response it requests exactly one forced refresh and
// retries exactly once; a second rejection is terminal. Non-auth failures
// (timeouts, rate limits, not-found) pass through without any retry.
func callWithAuthRetry[T any](ctx context.Context, provider tokens.Provider, athleteID int64, fn func(ctx context.Context, credential string) (T, error)) (T, error) {
	var zero T

	cred, err := provider.Credential(ctx, athleteID, false)
	if err != nil {
		return zero, fmt.Errorf("credential for athlete %d: %w", athleteID, err)
	}

	out, err := fn(ctx, cred)
	if err == nil || !errors.Is(err, upstream.ErrUnauthorized) {
		return out, err
	}

	cred, err = provider.Credential(ctx, athleteID, true)
	if err != nil {
		metrics.RecordAuthFailure()
		return zero, fmt.Errorf("forced refresh for athlete %d: %w: %w", athleteID, ErrAuthFailed, err)
	}

	out, err = fn(ctx, cred)
	if err != nil && errors.Is(err, upstream.ErrUnauthorized) {
		metrics.RecordAuthFailure()
		return zero, fmt.Errorf("athlete %d: %w", athleteID, ErrAuthFailed)
	}
	return out, err
}
