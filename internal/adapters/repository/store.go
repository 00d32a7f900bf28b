// Package repository defines the persisted-state store and its backends.
package repository

import (
	"context"

	"github.com/velora/criterium/internal/domain/model"
)

// Store provides access to the persisted competition state. All writes that
// touch a (week, athlete) pair must be atomic for that pair; concurrent
// writers for different athletes never conflict.
type Store interface {
	// Participants
	Participant(ctx context.Context, athleteID int64) (model.Participant, error)
	ParticipantsWithCredentials(ctx context.Context) ([]model.Participant, error)
	UpsertParticipant(ctx context.Context, p model.Participant) error
	SaveCredentials(ctx context.Context, athleteID int64, access, refresh string, expiresAt int64) error

	// Season / segment / week reads
	Season(ctx context.Context, id string) (model.Season, error)
	Segment(ctx context.Context, id int64) (model.Segment, error)
	Week(ctx context.Context, id string) (model.Week, error)
	WeeksForSeason(ctx context.Context, seasonID string) ([]model.Week, error)
	// WeeksOverlapping returns weeks whose [start, end] window intersects
	// [from, to]. Used to resolve candidate weeks for a webhook activity.
	WeeksOverlapping(ctx context.Context, from, to int64) ([]model.Week, error)

	// Seeding (admin CRUD proper is an external collaborator; these exist
	// for fixtures and first-authentication flows)
	InsertSeason(ctx context.Context, s model.Season) error
	InsertSegment(ctx context.Context, s model.Segment) error
	InsertWeek(ctx context.Context, w model.Week) error

	// Outcome writes
	//
	// UpsertOutcome atomically replaces the activity, its winning efforts and
	// the result row for (activity.WeekID, activity.AthleteID). Rank and
	// points on the result are left for the scoring recompute.
	UpsertOutcome(ctx context.Context, activity model.Activity, efforts []model.SegmentEffort, result model.Result) error

	// DeleteByUpstreamActivity removes every activity, effort and result row
	// tied to the upstream activity id. Idempotent: absent rows are a no-op.
	// Returns the ids of weeks that lost a result.
	DeleteByUpstreamActivity(ctx context.Context, upstreamActivityID int64) ([]string, error)

	// Results
	ResultFor(ctx context.Context, weekID string, athleteID int64) (model.Result, error)
	ResultsForWeek(ctx context.Context, weekID string) ([]model.Result, error)
	ResultsForSeason(ctx context.Context, seasonID string) ([]model.Result, error)
	// SaveScores writes rank and point fields back after a recompute.
	SaveScores(ctx context.Context, weekID string, results []model.Result) error
	CountResults(ctx context.Context) (int, error)
}
