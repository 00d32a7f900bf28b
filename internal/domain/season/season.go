// Package season aggregates per-athlete points across a season's weeks.
package season

import (
	"sort"

	"github.com/velora/criterium/internal/domain/model"
)

// Standing is one athlete's season total.
type Standing struct {
	AthleteID      int64
	Points         int
	WeeksCompleted int
}

// Aggregate sums points per athlete across all result rows of a season.
// Athletes without a single qualifying week are omitted entirely rather than
// shown with zero. Output is ordered by descending points, ties by ascending
// athlete id. Pure read-side computation.
func Aggregate(results []model.Result) []Standing {
	totals := make(map[int64]*Standing)
	for _, r := range results {
		s, ok := totals[r.AthleteID]
		if !ok {
			s = &Standing{AthleteID: r.AthleteID}
			totals[r.AthleteID] = s
		}
		s.Points += r.Points
		s.WeeksCompleted++
	}

	standings := make([]Standing, 0, len(totals))
	for _, s := range totals {
		standings = append(standings, *s)
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Points != standings[j].Points {
			return standings[i].Points > standings[j].Points
		}
		return standings[i].AthleteID < standings[j].AthleteID
	})
	return standings
}
