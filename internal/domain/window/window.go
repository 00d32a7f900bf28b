// Package window holds the pure matching primitives: the week time-window
// validator and the best contiguous effort-window selector.
package window

import "github.com/velora/criterium/internal/domain/model"

// InWindow reports whether t falls inside [startAt, endAt], inclusive on both
// ends. All comparisons happen in absolute unix seconds; local time never
// enters the picture.
func InWindow(t, startAt, endAt int64) bool {
	return t >= startAt && t <= endAt
}

// Window is the chosen contiguous run of efforts and its summed duration.
type Window struct {
	TotalSeconds int64
	StartIndex   int
	Efforts      []model.Effort
}

// PRAchieved reports whether any effort in the window carries a PR marker.
func (w Window) PRAchieved() bool {
	for _, e := range w.Efforts {
		if e.PR {
			return true
		}
	}
	return false
}

// Best finds the minimum-sum contiguous window of laps efforts over the
// chronologically ordered list. Ties go to the lowest starting index. Returns
// false when fewer than laps efforts exist.
//
// The contract is strictly "fastest contiguous run in recorded order"; picking
// the laps fastest efforts regardless of adjacency is wrong and rejected by
// the tests.
func Best(efforts []model.Effort, laps int) (Window, bool) {
	if laps < 1 || len(efforts) < laps {
		return Window{}, false
	}

	var sum int64
	for i := 0; i < laps; i++ {
		sum += efforts[i].ElapsedSeconds
	}
	best := sum
	bestStart := 0

	// Sliding sum over all remaining windows; strict < keeps the earliest
	// window on ties.
	for i := laps; i < len(efforts); i++ {
		sum += efforts[i].ElapsedSeconds - efforts[i-laps].ElapsedSeconds
		if sum < best {
			best = sum
			bestStart = i - laps + 1
		}
	}

	chosen := make([]model.Effort, laps)
	copy(chosen, efforts[bestStart:bestStart+laps])
	return Window{
		TotalSeconds: best,
		StartIndex:   bestStart,
		Efforts:      chosen,
	}, true
}
