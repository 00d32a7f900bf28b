package window_test

import (
	"testing"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/window"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInWindow(t *testing.T) {
	Convey("Given a week window in unix seconds", t, func() {
		start := int64(1_700_000_000)
		end := int64(1_700_604_800)

		Convey("Both boundaries are inclusive", func() {
			So(window.InWindow(start, start, end), ShouldBeTrue)
			So(window.InWindow(end, start, end), ShouldBeTrue)
		})

		Convey("One second outside either boundary is excluded", func() {
			So(window.InWindow(start-1, start, end), ShouldBeFalse)
			So(window.InWindow(end+1, start, end), ShouldBeFalse)
		})

		Convey("Times strictly inside are included", func() {
			So(window.InWindow(start+1, start, end), ShouldBeTrue)
			So(window.InWindow((start+end)/2, start, end), ShouldBeTrue)
		})
	})
}

func efforts(times ...int64) []model.Effort {
	out := make([]model.Effort, len(times))
	for i, t := range times {
		out[i] = model.Effort{SegmentID: 1, ElapsedSeconds: t}
	}
	return out
}

func TestBest(t *testing.T) {
	Convey("Given chronologically ordered efforts", t, func() {
		Convey("It picks the minimum-sum contiguous window", func() {
			// Windows of 3: [10,9,8]=27, [9,8,7]=24, [8,7,12]=27.
			w, ok := window.Best(efforts(10, 9, 8, 7, 12), 3)
			So(ok, ShouldBeTrue)
			So(w.TotalSeconds, ShouldEqual, 24)
			So(w.StartIndex, ShouldEqual, 1)
			So(len(w.Efforts), ShouldEqual, 3)
		})

		Convey("It never cherry-picks non-adjacent efforts", func() {
			// The three fastest efforts (5, 6, 7) are not adjacent; the best
			// contiguous run is [6,20,7]=33, not 5+6+7=18.
			w, ok := window.Best(efforts(5, 30, 6, 20, 7), 3)
			So(ok, ShouldBeTrue)
			So(w.TotalSeconds, ShouldEqual, 33)
			So(w.StartIndex, ShouldEqual, 2)
		})

		Convey("Ties go to the earliest window", func() {
			w, ok := window.Best(efforts(10, 10, 10, 10), 2)
			So(ok, ShouldBeTrue)
			So(w.TotalSeconds, ShouldEqual, 20)
			So(w.StartIndex, ShouldEqual, 0)
		})

		Convey("Exactly laps efforts yields the whole list", func() {
			w, ok := window.Best(efforts(10, 20), 2)
			So(ok, ShouldBeTrue)
			So(w.TotalSeconds, ShouldEqual, 30)
			So(w.StartIndex, ShouldEqual, 0)
		})

		Convey("Fewer efforts than laps yields no window", func() {
			_, ok := window.Best(efforts(10, 20), 3)
			So(ok, ShouldBeFalse)
		})

		Convey("A non-positive laps count yields no window", func() {
			_, ok := window.Best(efforts(10, 20), 0)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestWindowPRAchieved(t *testing.T) {
	Convey("Given a chosen window", t, func() {
		Convey("Any PR effort inside it marks the window", func() {
			w := window.Window{Efforts: []model.Effort{
				{ElapsedSeconds: 10},
				{ElapsedSeconds: 11, PR: true},
			}}
			So(w.PRAchieved(), ShouldBeTrue)
		})

		Convey("No PR efforts leaves it unmarked", func() {
			w := window.Window{Efforts: []model.Effort{{ElapsedSeconds: 10}}}
			So(w.PRAchieved(), ShouldBeFalse)
		})
	})
}
