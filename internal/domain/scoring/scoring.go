// Package scoring computes rank and points for a week's full result set.
package scoring

import (
	"sort"

	"github.com/velora/criterium/internal/domain/model"
)

// participationBonus is granted to every ranked result.
const participationBonus = 1

// Recompute derives rank and points for every result of one week from
// scratch. It is a full re-derivation, never an incremental adjustment:
// calling it twice on the same inputs yields identical output, and calling it
// after any insert, replace or delete is always correct.
//
// Results sort by ascending total time; equal totals are ordered by ascending
// athlete id, which keeps ranks deterministic regardless of storage order.
func Recompute(week model.Week, results []model.Result) []model.Result {
	scored := make([]model.Result, len(results))
	copy(scored, results)

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].TotalSeconds != scored[j].TotalSeconds {
			return scored[i].TotalSeconds < scored[j].TotalSeconds
		}
		return scored[i].AthleteID < scored[j].AthleteID
	})

	n := len(scored)
	multiplier := week.EffectiveMultiplier()
	for i := range scored {
		rank := i + 1
		base := n - rank
		pr := 0
		if scored[i].PRAchieved {
			// Capped at 1 no matter how many efforts in the window are PRs.
			pr = 1
		}
		scored[i].Rank = rank
		scored[i].BasePoints = base
		scored[i].PRBonus = pr
		scored[i].Points = (base + participationBonus + pr) * multiplier
	}
	return scored
}
