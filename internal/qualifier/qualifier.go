// Package qualifier finds the single best qualifying activity for one
// athlete in one week. It is read-only against the upstream provider and
// pure with respect to local storage; persistence is the caller's job.
package qualifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/window"
	"github.com/velora/criterium/internal/tokens"
	"github.com/velora/criterium/internal/upstream"
	"github.com/velora/criterium/pkg/logger"
)

// defaultFetchPadding widens the upstream list query around the week window
// so activities started just outside clock skew are still listed; the window
// validator does the authoritative filtering.
const defaultFetchPadding = 6 * time.Hour

// Human-readable non-qualification reasons surfaced to batch callers.
const (
	ReasonNoActivities     = "No activities found near the week window"
	ReasonOutsideWindow    = "Activity outside the week window"
	ReasonSegmentAbsent    = "Segment not ridden in any activity"
	ReasonInsufficientLaps = "Not enough segment repeats"
	ReasonActivityGone     = "Activity no longer exists upstream"
)

// Qualification is the winning activity for one athlete and week.
type Qualification struct {
	ActivityID   int64
	StartAt      int64
	TotalSeconds int64
	StartIndex   int // chronological index of the first winning effort
	Efforts      []model.Effort
	PRAchieved   bool
}

// Outcome is either a qualification or a reason why none exists.
// Non-qualification is a normal result, not an error.
type Outcome struct {
	Found  bool
	Best   Qualification
	Reason string
}

func noQualify(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Qualifier drives the upstream client, token provider and window selector.
type Qualifier struct {
	client       upstream.Client
	tokens       tokens.Provider
	fetchPadding time.Duration
	log          logger.Logger
}

// Option applies a configuration option to the Qualifier.
type Option func(*Qualifier)

// WithFetchPadding overrides the listing padding around the week window.
func WithFetchPadding(d time.Duration) Option {
	return func(q *Qualifier) {
		if d > 0 {
			q.fetchPadding = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(q *Qualifier) {
		if log != nil {
			q.log = log
		}
	}
}

// New creates a Qualifier.
func New(client upstream.Client, tokenProvider tokens.Provider, opts ...Option) *Qualifier {
	q := &Qualifier{
		client:       client,
		tokens:       tokenProvider,
		fetchPadding: defaultFetchPadding,
		log:          logger.Named("qualifier"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// BestForWeek finds the fastest qualifying activity among everything the
// athlete rode around the week window. Ties on total time go to the activity
// seen first in list order.
func (q *Qualifier) BestForWeek(ctx context.Context, athleteID int64, week model.Week) (Outcome, error) {
	pad := int64(q.fetchPadding.Seconds())
	summaries, err := callWithAuthRetry(ctx, q.tokens, athleteID, func(ctx context.Context, cred string) ([]upstream.ActivitySummary, error) {
		return q.client.ListActivities(ctx, cred, week.StartAt-pad, week.EndAt+pad)
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(summaries) == 0 {
		return noQualify(ReasonNoActivities), nil
	}

	var inWindow []upstream.ActivitySummary
	for _, s := range summaries {
		if window.InWindow(s.StartAt, week.StartAt, week.EndAt) {
			inWindow = append(inWindow, s)
		}
	}
	if len(inWindow) == 0 {
		return noQualify(ReasonOutsideWindow), nil
	}

	var best *Qualification
	segmentSeen := false
	for _, s := range inWindow {
		detail, err := callWithAuthRetry(ctx, q.tokens, athleteID, func(ctx context.Context, cred string) (upstream.ActivityDetail, error) {
			return q.client.GetActivityDetail(ctx, cred, s.ID)
		})
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				// Listed but deleted in between; skip it.
				q.log.Debug(ctx, "activity vanished between list and detail",
					logger.Int64("activity", s.ID))
				continue
			}
			return Outcome{}, fmt.Errorf("activity %d detail: %w", s.ID, err)
		}

		out := qualify(detail, week)
		if !out.Found {
			segmentSeen = segmentSeen || out.Reason == ReasonInsufficientLaps
			continue
		}
		segmentSeen = true
		// Strict < keeps the first-seen activity on equal totals.
		if best == nil || out.Best.TotalSeconds < best.TotalSeconds {
			c := out.Best
			best = &c
		}
	}

	if best == nil {
		if segmentSeen {
			return noQualify(ReasonInsufficientLaps), nil
		}
		return noQualify(ReasonSegmentAbsent), nil
	}
	return Outcome{Found: true, Best: *best}, nil
}

// QualifySingle evaluates one known activity id against a week. Used by the
// webhook updater, which learns about activities one at a time.
func (q *Qualifier) QualifySingle(ctx context.Context, athleteID int64, week model.Week, activityID int64) (Outcome, error) {
	detail, err := callWithAuthRetry(ctx, q.tokens, athleteID, func(ctx context.Context, cred string) (upstream.ActivityDetail, error) {
		return q.client.GetActivityDetail(ctx, cred, activityID)
	})
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return noQualify(ReasonActivityGone), nil
		}
		return Outcome{}, err
	}

	if !window.InWindow(detail.StartAt, week.StartAt, week.EndAt) {
		return noQualify(ReasonOutsideWindow), nil
	}
	return qualify(detail, week), nil
}

// qualify runs the segment filter and best-window selection for one activity.
// The detail's start time must already be validated against the week window.
func qualify(detail upstream.ActivityDetail, week model.Week) Outcome {
	var onSegment []model.Effort
	for _, e := range detail.Efforts {
		if e.SegmentID == week.SegmentID {
			onSegment = append(onSegment, e)
		}
	}
	if len(onSegment) == 0 {
		return noQualify(ReasonSegmentAbsent)
	}

	win, ok := window.Best(onSegment, week.RequiredLaps)
	if !ok {
		return noQualify(ReasonInsufficientLaps)
	}

	return Outcome{
		Found: true,
		Best: Qualification{
			ActivityID:   detail.ID,
			StartAt:      detail.StartAt,
			TotalSeconds: win.TotalSeconds,
			StartIndex:   win.StartIndex,
			Efforts:      win.Efforts,
			PRAchieved:   win.PRAchieved(),
		},
	}
}
