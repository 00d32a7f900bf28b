// Package orchestrator drives the activity qualifier across all connected
// athletes for one week, persists the outcomes and triggers rescoring.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/velora/criterium/internal/adapters/repository"
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/scoring"
	"github.com/velora/criterium/internal/qualifier"
	"github.com/velora/criterium/internal/tokens"
	"github.com/velora/criterium/pkg/logger"
	"github.com/velora/criterium/pkg/metrics"
)

// reasonAuthFailed is the exact per-athlete reason recorded when the
// credential is rejected even after a forced refresh.
const reasonAuthFailed = "Authorization failed"

// BestFinder is the slice of the qualifier the orchestrator needs.
type BestFinder interface {
	BestForWeek(ctx context.Context, athleteID int64, week model.Week) (qualifier.Outcome, error)
}

// Orchestrator runs week-wide batch fetches.
type Orchestrator struct {
	store  repository.Store
	finder BestFinder
	log    logger.Logger
}

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// New creates an Orchestrator.
func New(store repository.Store, finder BestFinder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		finder: finder,
		log:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts a batch fetch for the week and returns its progress stream.
// An unknown week id fails synchronously before any athlete is touched.
//
// Athletes are processed strictly sequentially to respect upstream rate
// limits; that trade-off against latency is deliberate. The stream is fully
// buffered, so a caller that stops reading never stalls in-flight writes, and
// the run context is detached from the caller's.
func (o *Orchestrator) Run(ctx context.Context, weekID string) (<-chan Event, error) {
	week, err := o.store.Week(ctx, weekID)
	if err != nil {
		return nil, fmt.Errorf("batch fetch: %w", err)
	}

	participants, err := o.store.ParticipantsWithCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch fetch: list participants: %w", err)
	}

	metrics.RecordBatchRunStarted()
	// Room for every progress event plus the terminal one.
	events := make(chan Event, len(participants)+1)

	// Dispatched work survives the caller hanging up.
	runCtx := context.WithoutCancel(ctx)
	go o.run(runCtx, week, participants, events)
	return events, nil
}

func (o *Orchestrator) run(ctx context.Context, week model.Week, participants []model.Participant, events chan<- Event) {
	defer close(events)

	summary := &Summary{
		RunID:  uuid.NewString(),
		WeekID: week.ID,
	}
	o.log.Info(ctx, "batch fetch started",
		logger.String("week", week.ID),
		logger.String("run", summary.RunID),
		logger.Int("participants", len(participants)),
	)

	for _, p := range participants {
		entry := o.processAthlete(ctx, week, p)
		summary.Processed++
		if entry.Found {
			summary.Found++
			metrics.RecordBatchAthleteOutcome("found")
		} else if entry.Reason == reasonAuthFailed || entry.failed {
			summary.Failed++
			metrics.RecordBatchAthleteOutcome("failed")
		} else {
			metrics.RecordBatchAthleteOutcome("no_result")
		}
		summary.Athletes = append(summary.Athletes, entry.AthleteSummary)

		events <- Event{
			Kind:    KindProgress,
			Athlete: entry.Athlete,
			Found:   entry.Found,
			Reason:  entry.Reason,
		}
	}

	if err := o.rescore(ctx, week); err != nil {
		o.log.Error(ctx, "week rescore failed", logger.String("week", week.ID), logger.Error(err))
		metrics.RecordBatchRunFailed()
		events <- Event{Kind: KindError, Message: "failed to rescore week"}
		return
	}

	metrics.RecordBatchRunCompleted()
	o.log.Info(ctx, "batch fetch complete",
		logger.String("week", week.ID),
		logger.Int("found", summary.Found),
		logger.Int("failed", summary.Failed),
	)
	events <- Event{Kind: KindComplete, Summary: summary}
}

type athleteEntry struct {
	AthleteSummary
	failed bool
}

// processAthlete qualifies and persists one athlete. Failures never escalate
// past this athlete; they are folded into a reason string.
func (o *Orchestrator) processAthlete(ctx context.Context, week model.Week, p model.Participant) athleteEntry {
	outcome, err := o.finder.BestForWeek(ctx, p.AthleteID, week)
	if err != nil {
		return athleteEntry{
			AthleteSummary: AthleteSummary{Athlete: p.AthleteID, Reason: failureReason(err)},
			failed:         true,
		}
	}

	if !outcome.Found {
		return athleteEntry{
			AthleteSummary: AthleteSummary{Athlete: p.AthleteID, Reason: outcome.Reason},
		}
	}

	if err := o.persist(ctx, week, p.AthleteID, outcome.Best); err != nil {
		o.log.Error(ctx, "persist outcome failed",
			logger.String("week", week.ID),
			logger.Int64("athlete", p.AthleteID),
			logger.Error(err),
		)
		return athleteEntry{
			AthleteSummary: AthleteSummary{Athlete: p.AthleteID, Reason: "Failed to store result"},
			failed:         true,
		}
	}

	return athleteEntry{
		AthleteSummary: AthleteSummary{Athlete: p.AthleteID, Found: true},
	}
}

// persist writes the winning activity, its window efforts and the raw result.
func (o *Orchestrator) persist(ctx context.Context, week model.Week, athleteID int64, best qualifier.Qualification) error {
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
	return o.store.UpsertOutcome(ctx, activity, efforts, result)
}

// rescore runs the full idempotent recomputation for the week.
func (o *Orchestrator) rescore(ctx context.Context, week model.Week) error {
	results, err := o.store.ResultsForWeek(ctx, week.ID)
	if err != nil {
		return err
	}
	scored := scoring.Recompute(week, results)
	if err := o.store.SaveScores(ctx, week.ID, scored); err != nil {
		return err
	}
	metrics.RecordScoringRecompute()
	return nil
}

// failureReason maps an error to the per-athlete reason string surfaced in
// summaries. Never a stack trace.
func failureReason(err error) string {
	switch {
	case errors.Is(err, qualifier.ErrAuthFailed):
		return reasonAuthFailed
	case errors.Is(err, tokens.ErrNotConnected):
		return "Not connected"
	case errors.Is(err, context.DeadlineExceeded):
		return "Upstream timeout"
	default:
		return "Upstream error"
	}
}
