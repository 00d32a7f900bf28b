package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velora/criterium/internal/adapters/repository"
	"github.com/velora/criterium/internal/app"
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/orchestrator"
	"github.com/velora/criterium/internal/upstream"

	. "github.com/smartystreets/goconvey/convey"
)

// stubClient serves one qualifying activity for every athlete.
type stubClient struct{}

func (stubClient) ListActivities(_ context.Context, _ string, _, _ int64) ([]upstream.ActivitySummary, error) {
	return []upstream.ActivitySummary{{ID: 555, StartAt: 11_000}}, nil
}

func (stubClient) GetActivityDetail(_ context.Context, _ string, id int64) (upstream.ActivityDetail, error) {
	return upstream.ActivityDetail{
		ID:      id,
		StartAt: 11_000,
		Efforts: []model.Effort{
			{SegmentID: 42, ElapsedSeconds: 120},
			{SegmentID: 42, ElapsedSeconds: 110, PR: true},
		},
	}, nil
}

// stubTokens always hands out the same credential.
type stubTokens struct{}

func (stubTokens) Credential(_ context.Context, _ int64, _ bool) (string, error) {
	return "tok", nil
}

func seededStore() *repository.MemoryStore {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	_ = store.InsertSeason(ctx, model.Season{ID: "season-1", Name: "Spring", StartAt: 1, EndAt: 100_000})
	_ = store.InsertSegment(ctx, model.Segment{ID: 42, Name: "Hill"})
	_ = store.InsertWeek(ctx, model.Week{
		ID: "week-1", SeasonID: "season-1", SegmentID: 42,
		RequiredLaps: 2, StartAt: 10_000, EndAt: 20_000,
	})
	_ = store.UpsertParticipant(ctx, model.Participant{AthleteID: 101, Name: "Ada", AccessToken: "t"})
	return store
}

func startedService(store *repository.MemoryStore) *app.Service {
	svc := app.New(
		app.WithStore(store),
		app.WithUpstreamClient(stubClient{}),
		app.WithTokenProvider(stubTokens{}),
		app.WithWorkerCount(1),
		app.WithQueueSize(16),
		// Pin "now" just past the seeded week so webhook events match it.
		app.WithClock(func() time.Time { return time.Unix(21_000, 0) }),
	)
	return svc
}

func TestServiceBatchFetch(t *testing.T) {
	Convey("Given a started service with one connected athlete", t, func() {
		store := seededStore()
		svc := startedService(store)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("A batch fetch produces a scored leaderboard", func() {
			events, err := svc.RunBatchFetch(ctx, "week-1")
			So(err, ShouldBeNil)

			var last orchestrator.Event
			for ev := range events {
				last = ev
			}
			So(last.Kind, ShouldEqual, orchestrator.KindComplete)

			lb, err := svc.WeekLeaderboard(ctx, "week-1")
			So(err, ShouldBeNil)
			So(len(lb.Entries), ShouldEqual, 1)
			So(lb.Entries[0].AthleteID, ShouldEqual, 101)
			So(lb.Entries[0].Name, ShouldEqual, "Ada")
			So(lb.Entries[0].TotalSeconds, ShouldEqual, 230)
			So(lb.Entries[0].PRAchieved, ShouldBeTrue)
			So(lb.Entries[0].Points, ShouldEqual, 2)

			season, err := svc.SeasonLeaderboard(ctx, "season-1")
			So(err, ShouldBeNil)
			So(len(season.Entries), ShouldEqual, 1)
			So(season.Entries[0].Points, ShouldEqual, 2)
			So(season.Entries[0].WeeksCompleted, ShouldEqual, 1)
		})

		Convey("An unknown week maps to the unknown-id sentinel", func() {
			_, err := svc.RunBatchFetch(ctx, "week-nope")
			So(errors.Is(err, app.ErrUnknownID), ShouldBeTrue)

			_, err = svc.WeekLeaderboard(ctx, "week-nope")
			So(errors.Is(err, app.ErrUnknownID), ShouldBeTrue)

			_, err = svc.SeasonLeaderboard(ctx, "season-nope")
			So(errors.Is(err, app.ErrUnknownID), ShouldBeTrue)
		})
	})
}

func TestServiceWebhookFlow(t *testing.T) {
	Convey("Given a started service", t, func() {
		store := seededStore()
		svc := startedService(store)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		ev := model.WebhookEvent{OwnerAthleteID: 101, ActivityID: 555, Kind: model.EventCreated}

		Convey("Dedupe absorbs a repeated fingerprint", func() {
			So(svc.SeenAndRecord(ctx, ev.Fingerprint()), ShouldBeFalse)
			So(svc.SeenAndRecord(ctx, ev.Fingerprint()), ShouldBeTrue)

			svc.Unrecord(ctx, ev.Fingerprint())
			So(svc.SeenAndRecord(ctx, ev.Fingerprint()), ShouldBeFalse)
		})

		Convey("An enqueued event eventually lands in the leaderboard", func() {
			So(svc.EnqueueWebhook(ctx, ev), ShouldBeTrue)

			deadline := time.Now().Add(2 * time.Second)
			var entries int
			for time.Now().Before(deadline) {
				lb, err := svc.WeekLeaderboard(ctx, "week-1")
				So(err, ShouldBeNil)
				entries = len(lb.Entries)
				if entries == 1 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			So(entries, ShouldEqual, 1)
		})

		Convey("Stats reports the running components", func() {
			stats := svc.Stats(ctx)
			So(stats["started"], ShouldEqual, true)
			So(stats, ShouldContainKey, "queue_length")
			So(stats, ShouldContainKey, "dedupe_size")
		})
	})
}
