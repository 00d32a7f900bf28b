// Package webhook applies single-activity change notifications to the
// persisted result state. Events arrive at least once and may be replayed;
// every path here converges by upserting keyed on (week, athlete) and ending
// with the full scoring recompute.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/velora/criterium/internal/adapters/repository"
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/scoring"
	"github.com/velora/criterium/internal/qualifier"
	"github.com/velora/criterium/pkg/logger"
	"github.com/velora/criterium/pkg/metrics"
)

// defaultCandidatePadding bounds how far back a freshly notified activity may
// start and still be matched to a week. Uploads lag rides by hours, rarely by
// weeks.
const defaultCandidatePadding = 30 * 24 * time.Hour

// SingleQualifier is the slice of the qualifier the updater needs.
type SingleQualifier interface {
	QualifySingle(ctx context.Context, athleteID int64, week model.Week, activityID int64) (qualifier.Outcome, error)
}

// Updater processes webhook events one at a time.
type Updater struct {
	store            repository.Store
	finder           SingleQualifier
	candidatePadding time.Duration
	now              func() time.Time
	log              logger.Logger
}

// Option applies a configuration option to the Updater.
type Option func(*Updater)

// WithCandidatePadding overrides how far back candidate weeks are searched.
func WithCandidatePadding(d time.Duration) Option {
	return func(u *Updater) {
		if d > 0 {
			u.candidatePadding = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		if now != nil {
			u.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(u *Updater) {
		if log != nil {
			u.log = log
		}
	}
}

// NewUpdater creates an Updater.
func NewUpdater(store repository.Store, finder SingleQualifier, opts ...Option) *Updater {
	u := &Updater{
		store:            store,
		finder:           finder,
		candidatePadding: defaultCandidatePadding,
		now:              time.Now,
		log:              logger.Named("webhook"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Process applies one event. Replaying the identical event any number of
// times converges to the same result state.
func (u *Updater) Process(ctx context.Context, ev model.WebhookEvent) error {
	switch ev.Kind {
	case model.EventDeleted:
		return u.processDelete(ctx, ev.ActivityID)
	case model.EventCreated, model.EventUpdated:
		return u.processUpsert(ctx, ev)
	default:
		return fmt.Errorf("webhook: unknown event kind %q", ev.Kind)
	}
}

// processDelete removes everything derived from the activity and rescores
// the weeks that lost a result. Absent rows make it a no-op.
func (u *Updater) processDelete(ctx context.Context, activityID int64) error {
	weekIDs, err := u.store.DeleteByUpstreamActivity(ctx, activityID)
	if err != nil {
		return fmt.Errorf("webhook delete %d: %w", activityID, err)
	}
	for _, weekID := range weekIDs {
		if err := u.rescore(ctx, weekID); err != nil {
			return err
		}
	}
	if len(weekIDs) > 0 {
		u.log.Info(ctx, "activity deleted, weeks rescored",
			logger.Int64("activity", activityID),
			logger.Int("weeks", len(weekIDs)),
		)
	}
	return nil
}

func (u *Updater) processUpsert(ctx context.Context, ev model.WebhookEvent) error {
	now := u.now().Unix()
	weeks, err := u.store.WeeksOverlapping(ctx, now-int64(u.candidatePadding.Seconds()), now)
	if err != nil {
		return fmt.Errorf("webhook: candidate weeks: %w", err)
	}

	for _, week := range weeks {
		outcome, err := u.finder.QualifySingle(ctx, ev.OwnerAthleteID, week, ev.ActivityID)
		if err != nil {
			return fmt.Errorf("webhook: qualify activity %d for week %s: %w", ev.ActivityID, week.ID, err)
		}

		if outcome.Reason == qualifier.ReasonActivityGone {
			// The notification outlived the activity; fold into a delete.
			return u.processDelete(ctx, ev.ActivityID)
		}

		if !outcome.Found {
			// An updated activity that backed a result but stopped
			// qualifying takes the result with it.
			if existing, err := u.store.ResultFor(ctx, week.ID, ev.OwnerAthleteID); err == nil && existing.ActivityID == ev.ActivityID {
				if err := u.processDelete(ctx, ev.ActivityID); err != nil {
					return err
				}
			}
			continue
		}

		if err := u.applyQualification(ctx, week, ev.OwnerAthleteID, outcome.Best); err != nil {
			return err
		}
	}
	return nil
}

// applyQualification upserts when the activity beats, re-backs, or fills the
// (week, athlete) slot, then rescores.
func (u *Updater) applyQualification(ctx context.Context, week model.Week, athleteID int64, best qualifier.Qualification) error {
	existing, err := u.store.ResultFor(ctx, week.ID, athleteID)
	if err == nil {
		sameActivity := existing.ActivityID == best.ActivityID
		if !sameActivity && best.TotalSeconds >= existing.TotalSeconds {
			// A different, not-faster activity changes nothing.
			return nil
		}
		if sameActivity && best.TotalSeconds == existing.TotalSeconds && best.PRAchieved == existing.PRAchieved {
			// Replay of a converged state; the upsert below would be a
			// no-op, but skipping it also skips a pointless rescore.
			return nil
		}
	}

	activity := model.Activity{
		WeekID:     week.ID,
		AthleteID:  athleteID,
		UpstreamID: best.ActivityID,
		StartAt:    best.StartAt,
		Status:     model.ActivityStatusValid,
	}
	efforts := make([]model.SegmentEffort, len(best.Efforts))
	for i, e := range best.Efforts {
		efforts[i] = model.SegmentEffort{
			UpstreamActivityID: best.ActivityID,
			EffortIndex:        best.StartIndex + i,
			ElapsedSeconds:     e.ElapsedSeconds,
			PR:                 e.PR,
		}
	}
	result := model.Result{
		WeekID:       week.ID,
		AthleteID:    athleteID,
		ActivityID:   best.ActivityID,
		TotalSeconds: best.TotalSeconds,
		PRAchieved:   best.PRAchieved,
	}
	if err := u.store.UpsertOutcome(ctx, activity, efforts, result); err != nil {
		return fmt.Errorf("webhook: upsert outcome: %w", err)
	}
	u.log.Info(ctx, "webhook result upserted",
		logger.String("week", week.ID),
		logger.Int64("athlete", athleteID),
		logger.Int64("activity", best.ActivityID),
		logger.Int64("total_seconds", best.TotalSeconds),
	)
	return u.rescore(ctx, week.ID)
}

func (u *Updater) rescore(ctx context.Context, weekID string) error {
	week, err := u.store.Week(ctx, weekID)
	if err != nil {
		return fmt.Errorf("webhook: load week %s: %w", weekID, err)
	}
	results, err := u.store.ResultsForWeek(ctx, weekID)
	if err != nil {
		return fmt.Errorf("webhook: load results %s: %w", weekID, err)
	}
	if err := u.store.SaveScores(ctx, weekID, scoring.Recompute(week, results)); err != nil {
		return fmt.Errorf("webhook: save scores %s: %w", weekID, err)
	}
	metrics.RecordScoringRecompute()
	return nil
}
