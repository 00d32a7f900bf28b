// Package upstream talks to the external fitness-tracking provider that
// records ride activities. The engine only ever reads from it.
package upstream

import (
	"context"

	"github.com/velora/criterium/internal/domain/model"
)

// ActivitySummary is one row of an athlete's activity list.
type ActivitySummary struct {
	ID      int64
	StartAt int64 // unix seconds
}

// ActivityDetail carries the segment efforts of a single activity in the
// order they were recorded.
type ActivityDetail struct {
	ID      int64
	StartAt int64
	Efforts []model.Effort
}

// Client fetches activity data from the provider. Implementations must treat
// every call as a suspension point: honor ctx and carry a bounded timeout.
type Client interface {
	// ListActivities returns the athlete's activities with a start time in
	// (after, before), newest constraint applied upstream.
	ListActivities(ctx context.Context, credential string, after, before int64) ([]ActivitySummary, error)

	// GetActivityDetail returns one activity with all segment efforts.
	GetActivityDetail(ctx context.Context, credential string, activityID int64) (ActivityDetail, error)
}
