package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/velora/criterium/internal/domain/model"
)

// MemoryStore implements Store in memory. It backs the test suites and is a
// drop-in for environments without a database file.
type MemoryStore struct {
	mu           sync.Mutex
	participants map[int64]model.Participant
	seasons      map[string]model.Season
	segments     map[int64]model.Segment
	weeks        map[string]model.Week
	activities   map[string]model.Activity        // key: weekID/athleteID
	efforts      map[int64][]model.SegmentEffort  // key: upstream activity id
	results      map[string]model.Result          // key: weekID/athleteID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[int64]model.Participant),
		seasons:      make(map[string]model.Season),
		segments:     make(map[int64]model.Segment),
		weeks:        make(map[string]model.Week),
		activities:   make(map[string]model.Activity),
		efforts:      make(map[int64][]model.SegmentEffort),
		results:      make(map[string]model.Result),
	}
}

func pairKey(weekID string, athleteID int64) string {
	return fmt.Sprintf("%s/%d", weekID, athleteID)
}

func (s *MemoryStore) Participant(_ context.Context, athleteID int64) (model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[athleteID]
	if !ok {
		return model.Participant{}, fmt.Errorf("participant %d: %w", athleteID, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) ParticipantsWithCredentials(_ context.Context) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Participant
	for _, p := range s.participants {
		if p.HasCredentials() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out, nil
}

func (s *MemoryStore) UpsertParticipant(_ context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.AthleteID] = p
	return nil
}

func (s *MemoryStore) SaveCredentials(_ context.Context, athleteID int64, access, refresh string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[athleteID]
	if !ok {
		return fmt.Errorf("participant %d: %w", athleteID, ErrNotFound)
	}
	p.AccessToken = access
	p.RefreshToken = refresh
	p.TokenExpiresAt = expiresAt
	s.participants[athleteID] = p
	return nil
}

func (s *MemoryStore) Season(_ context.Context, id string) (model.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	season, ok := s.seasons[id]
	if !ok {
		return model.Season{}, fmt.Errorf("season %s: %w", id, ErrNotFound)
	}
	return season, nil
}

func (s *MemoryStore) Segment(_ context.Context, id int64) (model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok {
		return model.Segment{}, fmt.Errorf("segment %d: %w", id, ErrNotFound)
	}
	return seg, nil
}

func (s *MemoryStore) Week(_ context.Context, id string) (model.Week, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weeks[id]
	if !ok {
		return model.Week{}, fmt.Errorf("week %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *MemoryStore) WeeksForSeason(_ context.Context, seasonID string) ([]model.Week, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Week
	for _, w := range s.weeks {
		if w.SeasonID == seasonID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt < out[j].StartAt })
	return out, nil
}

func (s *MemoryStore) WeeksOverlapping(_ context.Context, from, to int64) ([]model.Week, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Week
	for _, w := range s.weeks {
		if w.StartAt <= to && w.EndAt >= from {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt < out[j].StartAt })
	return out, nil
}

func (s *MemoryStore) InsertSeason(_ context.Context, season model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seasons[season.ID] = season
	return nil
}

func (s *MemoryStore) InsertSegment(_ context.Context, seg model.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[seg.ID] = seg
	return nil
}

func (s *MemoryStore) InsertWeek(_ context.Context, w model.Week) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Multiplier = w.EffectiveMultiplier()
	s.weeks[w.ID] = w
	return nil
}

func (s *MemoryStore) UpsertOutcome(_ context.Context, activity model.Activity, efforts []model.SegmentEffort, result model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(activity.WeekID, activity.AthleteID)
	if prior, ok := s.activities[key]; ok && prior.UpstreamID != activity.UpstreamID {
		delete(s.efforts, prior.UpstreamID)
	}
	s.activities[key] = activity
	s.efforts[activity.UpstreamID] = append([]model.SegmentEffort(nil), efforts...)

	existing, had := s.results[key]
	r := model.Result{
		WeekID:       result.WeekID,
		AthleteID:    result.AthleteID,
		ActivityID:   result.ActivityID,
		TotalSeconds: result.TotalSeconds,
		PRAchieved:   result.PRAchieved,
		CreatedAt:    time.Now().Unix(),
	}
	if had {
		// Keep rank/points until the next recompute overwrites them.
		r.Rank = existing.Rank
		r.BasePoints = existing.BasePoints
		r.PRBonus = existing.PRBonus
		r.Points = existing.Points
		r.CreatedAt = existing.CreatedAt
	}
	s.results[key] = r
	return nil
}

func (s *MemoryStore) DeleteByUpstreamActivity(_ context.Context, upstreamActivityID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var weekIDs []string
	for key, a := range s.activities {
		if a.UpstreamID != upstreamActivityID {
			continue
		}
		delete(s.activities, key)
		delete(s.results, key)
		weekIDs = append(weekIDs, a.WeekID)
	}
	delete(s.efforts, upstreamActivityID)
	sort.Strings(weekIDs)
	return weekIDs, nil
}

func (s *MemoryStore) ResultFor(_ context.Context, weekID string, athleteID int64) (model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[pairKey(weekID, athleteID)]
	if !ok {
		return model.Result{}, fmt.Errorf("result %s/%d: %w", weekID, athleteID, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ResultsForWeek(_ context.Context, weekID string) ([]model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Result
	for _, r := range s.results {
		if r.WeekID == weekID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].AthleteID < out[j].AthleteID
	})
	return out, nil
}

func (s *MemoryStore) ResultsForSeason(ctx context.Context, seasonID string) ([]model.Result, error) {
	weeks, err := s.WeeksForSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	var out []model.Result
	for _, w := range weeks {
		rs, err := s.ResultsForWeek(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (s *MemoryStore) SaveScores(_ context.Context, weekID string, results []model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scored := range results {
		key := pairKey(weekID, scored.AthleteID)
		r, ok := s.results[key]
		if !ok {
			continue
		}
		r.Rank = scored.Rank
		r.BasePoints = scored.BasePoints
		r.PRBonus = scored.PRBonus
		r.Points = scored.Points
		s.results[key] = r
	}
	return nil
}

func (s *MemoryStore) CountResults(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results), nil
}
