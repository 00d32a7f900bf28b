// Package types contains read-side projections shared between the service
// and the HTTP API.
package types

// WeekEntry is one leaderboard row for a week, derived from a Result.
type WeekEntry struct {
	Rank         int    `json:"rank"`
	AthleteID    int64  `json:"athlete_id"`
	Name         string `json:"name,omitempty"`
	ActivityID   int64  `json:"activity_id"`
	TotalSeconds int64  `json:"total_seconds"`
	PRAchieved   bool   `json:"pr_achieved"`
	Points       int    `json:"points"`
}

// WeekLeaderboard is the ordered result set of one week. It is derived on
// read and never stored.
type WeekLeaderboard struct {
	WeekID       string      `json:"week_id"`
	SeasonID     string      `json:"season_id"`
	SegmentID    int64       `json:"segment_id"`
	SegmentName  string      `json:"segment_name,omitempty"`
	RequiredLaps int         `json:"required_laps"`
	Multiplier   int         `json:"multiplier"`
	Entries      []WeekEntry `json:"entries"`
}

// SeasonEntry is one athlete's season total.
type SeasonEntry struct {
	AthleteID      int64  `json:"athlete_id"`
	Name           string `json:"name,omitempty"`
	Points         int    `json:"points"`
	WeeksCompleted int    `json:"weeks_completed"`
}

// SeasonLeaderboard is the ordered season standing.
type SeasonLeaderboard struct {
	SeasonID   string        `json:"season_id"`
	SeasonName string        `json:"season_name,omitempty"`
	Entries    []SeasonEntry `json:"entries"`
}
