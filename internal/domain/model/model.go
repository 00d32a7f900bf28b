// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
)

// Activity validation statuses.
const (
	ActivityStatusValid = "valid"
)

// Season groups a set of competition weeks.
type Season struct {
	ID      string
	Name    string
	StartAt int64 // unix seconds
	EndAt   int64 // unix seconds
}

// Segment is a fixed course section defined by the upstream provider.
type Segment struct {
	ID   int64 // upstream segment id
	Name string
}

// Week is one scored competition instance: a segment, a repeat count and a
// time window within a season.
type Week struct {
	ID           string
	SeasonID     string
	SegmentID    int64
	RequiredLaps int
	StartAt      int64 // unix seconds, inclusive
	EndAt        int64 // unix seconds, inclusive
	Multiplier   int   // 0 means unset; effective value is at least 1
}

// Validate checks the week invariants.
func (w Week) Validate() error {
	if w.RequiredLaps < 1 {
		return fmt.Errorf("week %s: required laps must be >= 1", w.ID)
	}
	if w.EndAt <= w.StartAt {
		return fmt.Errorf("week %s: end must be after start", w.ID)
	}
	if w.Multiplier < 0 {
		return fmt.Errorf("week %s: multiplier must be >= 1", w.ID)
	}
	return nil
}

// EffectiveMultiplier returns the points multiplier, defaulting to 1.
func (w Week) EffectiveMultiplier() int {
	if w.Multiplier < 1 {
		return 1
	}
	return w.Multiplier
}

// Participant is an athlete connected through the upstream provider.
// The credential pair is owned by the token provider and opaque to the engine.
type Participant struct {
	AthleteID      int64
	Name           string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt int64
}

// HasCredentials reports whether the participant can be fetched for.
func (p Participant) HasCredentials() bool {
	return p.RefreshToken != "" || p.AccessToken != ""
}

// Effort is one timed traversal of a segment within an activity, in the
// order it was recorded.
type Effort struct {
	SegmentID      int64
	ElapsedSeconds int64
	PR             bool
}

// Activity records the qualifying upstream activity for one (week, athlete)
// pair. A faster qualifying activity supersedes it, never duplicates it.
type Activity struct {
	WeekID     string
	AthleteID  int64
	UpstreamID int64
	StartAt    int64 // unix seconds
	Status     string
}

// SegmentEffort is an ordered child of an Activity; only efforts inside the
// winning window are authoritative for scoring.
type SegmentEffort struct {
	UpstreamActivityID int64
	EffortIndex        int
	ElapsedSeconds     int64
	PR                 bool
}

// Result is the scored outcome of one athlete in one week. At most one Result
// exists per (week, athlete); deleting the backing Activity deletes it.
type Result struct {
	WeekID       string
	AthleteID    int64
	ActivityID   int64 // upstream activity id the result derives from
	TotalSeconds int64
	PRAchieved   bool
	Rank         int
	BasePoints   int
	PRBonus      int
	Points       int
	CreatedAt    int64
}

// EventKind enumerates webhook event kinds.
type EventKind string

// Webhook event kinds as sent by the upstream provider.
const (
	EventCreated EventKind = "create"
	EventUpdated EventKind = "update"
	EventDeleted EventKind = "delete"
)

// ParseEventKind validates a wire-level aspect type.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case EventCreated, EventUpdated, EventDeleted:
		return EventKind(s), nil
	}
	return "", errors.New("unknown event kind: " + s)
}

// WebhookEvent is an at-least-once, possibly replayed notification about an
// activity change.
type WebhookEvent struct {
	OwnerAthleteID int64
	ActivityID     int64
	Kind           EventKind
}

// Fingerprint returns a stable identity for replay absorption.
func (e WebhookEvent) Fingerprint() string {
	return fmt.Sprintf("%d:%d:%s", e.OwnerAthleteID, e.ActivityID, e.Kind)
}
