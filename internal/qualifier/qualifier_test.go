package qualifier_test

import (
	"context"
	"errors"
	"testing"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/qualifier"
	"github.com/velora/criterium/internal/upstream"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeProvider counts credential fetches and hands out a fresh credential
// after a forced refresh. The refreshed credential persists, as the real
// provider stores rotated tokens.
type fakeProvider struct {
	fetches       int
	forcedFetches int
	failOnRefresh bool
	staleCred     string
	freshCred     string
}

func (p *fakeProvider) Credential(_ context.Context, _ int64, forceRefresh bool) (string, error) {
	p.fetches++
	if forceRefresh {
		p.forcedFetches++
		if p.failOnRefresh {
			return "", errors.New("refresh rejected")
		}
		p.staleCred = p.freshCred
		return p.freshCred, nil
	}
	return p.staleCred, nil
}

// fakeClient serves canned summaries and details, optionally rejecting a
// specific credential as unauthorized.
type fakeClient struct {
	listCalls   int
	detailCalls int
	badCred     string
	summaries   []upstream.ActivitySummary
	details     map[int64]upstream.ActivityDetail
	missing     map[int64]bool
}

func (c *fakeClient) ListActivities(_ context.Context, cred string, _, _ int64) ([]upstream.ActivitySummary, error) {
	c.listCalls++
	if cred == c.badCred {
		return nil, upstream.ErrUnauthorized
	}
	return c.summaries, nil
}

func (c *fakeClient) GetActivityDetail(_ context.Context, cred string, id int64) (upstream.ActivityDetail, error) {
	c.detailCalls++
	if cred == c.badCred {
		return upstream.ActivityDetail{}, upstream.ErrUnauthorized
	}
	if c.missing[id] {
		return upstream.ActivityDetail{}, upstream.ErrNotFound
	}
	d, ok := c.details[id]
	if !ok {
		return upstream.ActivityDetail{}, upstream.ErrNotFound
	}
	return d, nil
}

func testWeek() model.Week {
	return model.Week{
		ID:           "week-1",
		SeasonID:     "season-1",
		SegmentID:    42,
		RequiredLaps: 2,
		StartAt:      10_000,
		EndAt:        20_000,
	}
}

func effortsOn(segmentID int64, times ...int64) []model.Effort {
	out := make([]model.Effort, len(times))
	for i, t := range times {
		out[i] = model.Effort{SegmentID: segmentID, ElapsedSeconds: t}
	}
	return out
}

func TestBestForWeek(t *testing.T) {
	Convey("Given an athlete with activities around the week", t, func() {
		provider := &fakeProvider{staleCred: "good", freshCred: "good"}
		week := testWeek()

		Convey("The fastest qualifying activity wins", func() {
			client := &fakeClient{
				summaries: []upstream.ActivitySummary{
					{ID: 1, StartAt: 11_000},
					{ID: 2, StartAt: 12_000},
				},
				details: map[int64]upstream.ActivityDetail{
					1: {ID: 1, StartAt: 11_000, Efforts: effortsOn(42, 100, 100)},
					2: {ID: 2, StartAt: 12_000, Efforts: effortsOn(42, 80, 90)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeTrue)
			So(out.Best.ActivityID, ShouldEqual, 2)
			So(out.Best.TotalSeconds, ShouldEqual, 170)
		})

		Convey("Equal totals keep the first-listed activity", func() {
			client := &fakeClient{
				summaries: []upstream.ActivitySummary{
					{ID: 1, StartAt: 11_000},
					{ID: 2, StartAt: 12_000},
				},
				details: map[int64]upstream.ActivityDetail{
					1: {ID: 1, StartAt: 11_000, Efforts: effortsOn(42, 100, 100)},
					2: {ID: 2, StartAt: 12_000, Efforts: effortsOn(42, 100, 100)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Best.ActivityID, ShouldEqual, 1)
		})

		Convey("No activities at all reports the no-activities reason", func() {
			q := qualifier.New(&fakeClient{}, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeFalse)
			So(out.Reason, ShouldEqual, qualifier.ReasonNoActivities)
		})

		Convey("Activities only outside the window are rejected by start time", func() {
			client := &fakeClient{
				summaries: []upstream.ActivitySummary{{ID: 1, StartAt: 9_999}},
				details: map[int64]upstream.ActivityDetail{
					1: {ID: 1, StartAt: 9_999, Efforts: effortsOn(42, 100, 100)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeFalse)
			So(out.Reason, ShouldEqual, qualifier.ReasonOutsideWindow)
		})

		Convey("Rides without the segment report segment-absent", func() {
			client := &fakeClient{
				summaries: []upstream.ActivitySummary{{ID: 1, StartAt: 11_000}},
				details: map[int64]upstream.ActivityDetail{
					1: {ID: 1, StartAt: 11_000, Efforts: effortsOn(7, 100, 100)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Reason, ShouldEqual, qualifier.ReasonSegmentAbsent)
		})

		Convey("Too few repeats report insufficient laps", func() {
			client := &fakeClient{
				summaries: []upstream.ActivitySummary{{ID: 1, StartAt: 11_000}},
				details: map[int64]upstream.ActivityDetail{
					1: {ID: 1, StartAt: 11_000, Efforts: effortsOn(42, 100)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Reason, ShouldEqual, qualifier.ReasonInsufficientLaps)
		})

		Convey("An activity deleted between list and detail is skipped", func() {
			client := &fakeClient{
				summaries: []upstream.ActivitySummary{
					{ID: 1, StartAt: 11_000},
					{ID: 2, StartAt: 12_000},
				},
				details: map[int64]upstream.ActivityDetail{
					2: {ID: 2, StartAt: 12_000, Efforts: effortsOn(42, 80, 90)},
				},
				missing: map[int64]bool{1: true},
			}
			q := qualifier.New(client, provider)

			out, err := q.BestForWeek(context.Background(), 101, week)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeTrue)
			So(out.Best.ActivityID, ShouldEqual, 2)
		})
	})
}

func TestQualifySingle(t *testing.T) {
	Convey("Given one known activity id", t, func() {
		provider := &fakeProvider{staleCred: "good", freshCred: "good"}
		week := testWeek()

		Convey("A qualifying activity is found", func() {
			client := &fakeClient{
				details: map[int64]upstream.ActivityDetail{
					5: {ID: 5, StartAt: 11_000, Efforts: effortsOn(42, 90, 85, 80)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.QualifySingle(context.Background(), 101, week, 5)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeTrue)
			So(out.Best.TotalSeconds, ShouldEqual, 165)
			So(out.Best.StartIndex, ShouldEqual, 1)
		})

		Convey("A vanished activity reports activity-gone", func() {
			q := qualifier.New(&fakeClient{missing: map[int64]bool{5: true}}, provider)

			out, err := q.QualifySingle(context.Background(), 101, week, 5)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeFalse)
			So(out.Reason, ShouldEqual, qualifier.ReasonActivityGone)
		})

		Convey("An activity outside the window is rejected", func() {
			client := &fakeClient{
				details: map[int64]upstream.ActivityDetail{
					5: {ID: 5, StartAt: 25_000, Efforts: effortsOn(42, 90, 85)},
				},
			}
			q := qualifier.New(client, provider)

			out, err := q.QualifySingle(context.Background(), 101, week, 5)
			So(err, ShouldBeNil)
			So(out.Reason, ShouldEqual, qualifier.ReasonOutsideWindow)
		})
	})
}
