package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/velora/criterium/internal/adapters/repository"
	"github.com/velora/criterium/internal/domain/model"

	. "github.com/smartystreets/goconvey/convey"
)

func seeded() (*repository.MemoryStore, context.Context) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	_ = store.InsertSeason(ctx, model.Season{ID: "season-1", Name: "Season", StartAt: 1, EndAt: 100_000})
	_ = store.InsertSegment(ctx, model.Segment{ID: 42, Name: "Hill"})
	_ = store.InsertWeek(ctx, model.Week{
		ID: "week-1", SeasonID: "season-1", SegmentID: 42,
		RequiredLaps: 2, StartAt: 10_000, EndAt: 20_000,
	})
	_ = store.InsertWeek(ctx, model.Week{
		ID: "week-2", SeasonID: "season-1", SegmentID: 42,
		RequiredLaps: 2, StartAt: 30_000, EndAt: 40_000,
	})
	return store, ctx
}

func outcomeFor(weekID string, athleteID, activityID, total int64) (model.Activity, []model.SegmentEffort, model.Result) {
	activity := model.Activity{
		WeekID: weekID, AthleteID: athleteID, UpstreamID: activityID,
		StartAt: 11_000, Status: model.ActivityStatusValid,
	}
	efforts := []model.SegmentEffort{
		{UpstreamActivityID: activityID, EffortIndex: 0, ElapsedSeconds: total / 2},
		{UpstreamActivityID: activityID, EffortIndex: 1, ElapsedSeconds: total - total/2},
	}
	result := model.Result{
		WeekID: weekID, AthleteID: athleteID, ActivityID: activityID, TotalSeconds: total,
	}
	return activity, efforts, result
}

func TestMemoryStore_Participants(t *testing.T) {
	Convey("Given a store with mixed participants", t, func() {
		store, ctx := seeded()
		So(store.UpsertParticipant(ctx, model.Participant{AthleteID: 101, Name: "Ada", AccessToken: "t"}), ShouldBeNil)
		So(store.UpsertParticipant(ctx, model.Participant{AthleteID: 102, Name: "Brin"}), ShouldBeNil)

		Convey("Only credentialed participants are listed for batch runs", func() {
			ps, err := store.ParticipantsWithCredentials(ctx)
			So(err, ShouldBeNil)
			So(len(ps), ShouldEqual, 1)
			So(ps[0].AthleteID, ShouldEqual, 101)
		})

		Convey("SaveCredentials rotates the stored pair", func() {
			So(store.SaveCredentials(ctx, 102, "acc", "ref", 99_999), ShouldBeNil)
			p, err := store.Participant(ctx, 102)
			So(err, ShouldBeNil)
			So(p.AccessToken, ShouldEqual, "acc")
			So(p.RefreshToken, ShouldEqual, "ref")
			So(p.HasCredentials(), ShouldBeTrue)
		})

		Convey("SaveCredentials for an unknown athlete fails", func() {
			err := store.SaveCredentials(ctx, 999, "a", "r", 1)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestMemoryStore_Weeks(t *testing.T) {
	Convey("Given two weeks in one season", t, func() {
		store, ctx := seeded()

		Convey("WeeksForSeason orders by start time", func() {
			ws, err := store.WeeksForSeason(ctx, "season-1")
			So(err, ShouldBeNil)
			So(len(ws), ShouldEqual, 2)
			So(ws[0].ID, ShouldEqual, "week-1")
			So(ws[1].ID, ShouldEqual, "week-2")
		})

		Convey("WeeksOverlapping matches inclusive window intersection", func() {
			ws, err := store.WeeksOverlapping(ctx, 20_000, 30_000)
			So(err, ShouldBeNil)
			So(len(ws), ShouldEqual, 2)

			ws, err = store.WeeksOverlapping(ctx, 20_001, 29_999)
			So(err, ShouldBeNil)
			So(ws, ShouldBeEmpty)
		})

		Convey("An invalid week is rejected at insert", func() {
			err := store.InsertWeek(ctx, model.Week{ID: "bad", RequiredLaps: 0, StartAt: 2, EndAt: 1})
			So(err, ShouldNotBeNil)
		})

		Convey("An unknown week lookup reports not-found", func() {
			_, err := store.Week(ctx, "week-nope")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestMemoryStore_Outcomes(t *testing.T) {
	Convey("Given an upserted outcome", t, func() {
		store, ctx := seeded()
		a, e, r := outcomeFor("week-1", 101, 555, 200)
		So(store.UpsertOutcome(ctx, a, e, r), ShouldBeNil)

		Convey("The result is readable per pair and per week", func() {
			got, err := store.ResultFor(ctx, "week-1", 101)
			So(err, ShouldBeNil)
			So(got.ActivityID, ShouldEqual, 555)

			rs, err := store.ResultsForWeek(ctx, "week-1")
			So(err, ShouldBeNil)
			So(len(rs), ShouldEqual, 1)
		})

		Convey("Scores survive a same-pair upsert until the next recompute", func() {
			scored := r
			scored.Rank = 1
			scored.Points = 2
			So(store.SaveScores(ctx, "week-1", []model.Result{scored}), ShouldBeNil)

			a2, e2, r2 := outcomeFor("week-1", 101, 556, 150)
			So(store.UpsertOutcome(ctx, a2, e2, r2), ShouldBeNil)

			got, _ := store.ResultFor(ctx, "week-1", 101)
			So(got.ActivityID, ShouldEqual, 556)
			So(got.Rank, ShouldEqual, 1)
			So(got.Points, ShouldEqual, 2)
		})

		Convey("Replaying the identical upsert keeps a single row", func() {
			So(store.UpsertOutcome(ctx, a, e, r), ShouldBeNil)
			n, err := store.CountResults(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("DeleteByUpstreamActivity removes the pair and reports the week", func() {
			weeks, err := store.DeleteByUpstreamActivity(ctx, 555)
			So(err, ShouldBeNil)
			So(weeks, ShouldResemble, []string{"week-1"})

			_, err = store.ResultFor(ctx, "week-1", 101)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			Convey("And a replay is a silent no-op", func() {
				weeks, err := store.DeleteByUpstreamActivity(ctx, 555)
				So(err, ShouldBeNil)
				So(weeks, ShouldBeEmpty)
			})
		})

		Convey("ResultsForSeason folds all week rows", func() {
			a2, e2, r2 := outcomeFor("week-2", 101, 777, 300)
			So(store.UpsertOutcome(ctx, a2, e2, r2), ShouldBeNil)

			rs, err := store.ResultsForSeason(ctx, "season-1")
			So(err, ShouldBeNil)
			So(len(rs), ShouldEqual, 2)
		})
	})
}
