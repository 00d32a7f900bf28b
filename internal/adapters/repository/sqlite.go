package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/pkg/metrics"
)

// schema creates all tables and indexes. Activities cascade to their efforts
// and to the result derived from them; results are unique per (week, athlete).
const schema = `
CREATE TABLE IF NOT EXISTS participants (
    athlete_id       INTEGER PRIMARY KEY,
    name             TEXT NOT NULL,
    access_token     TEXT NOT NULL DEFAULT '',
    refresh_token    TEXT NOT NULL DEFAULT '',
    token_expires_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS seasons (
    id       TEXT PRIMARY KEY,
    name     TEXT NOT NULL,
    start_at INTEGER NOT NULL,
    end_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
    id   INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS weeks (
    id            TEXT PRIMARY KEY,
    season_id     TEXT NOT NULL REFERENCES seasons(id),
    segment_id    INTEGER NOT NULL REFERENCES segments(id),
    required_laps INTEGER NOT NULL CHECK (required_laps >= 1),
    start_at      INTEGER NOT NULL,
    end_at        INTEGER NOT NULL,
    multiplier    INTEGER NOT NULL DEFAULT 1 CHECK (multiplier >= 1),
    CHECK (end_at > start_at)
);

CREATE TABLE IF NOT EXISTS activities (
    week_id     TEXT NOT NULL REFERENCES weeks(id),
    athlete_id  INTEGER NOT NULL,
    upstream_id INTEGER NOT NULL,
    start_at    INTEGER NOT NULL,
    status      TEXT NOT NULL,
    PRIMARY KEY (week_id, athlete_id)
);

CREATE TABLE IF NOT EXISTS segment_efforts (
    upstream_activity_id INTEGER NOT NULL,
    effort_index         INTEGER NOT NULL,
    elapsed_seconds      INTEGER NOT NULL,
    pr                   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (upstream_activity_id, effort_index)
);

CREATE TABLE IF NOT EXISTS results (
    week_id       TEXT NOT NULL REFERENCES weeks(id),
    athlete_id    INTEGER NOT NULL,
    activity_id   INTEGER NOT NULL,
    total_seconds INTEGER NOT NULL,
    pr_achieved   INTEGER NOT NULL DEFAULT 0,
    rank          INTEGER NOT NULL DEFAULT 0,
    base_points   INTEGER NOT NULL DEFAULT 0,
    pr_bonus      INTEGER NOT NULL DEFAULT 0,
    points        INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    PRIMARY KEY (week_id, athlete_id)
);

CREATE INDEX IF NOT EXISTS idx_weeks_window ON weeks(start_at, end_at);
CREATE INDEX IF NOT EXISTS idx_activities_upstream ON activities(upstream_id);
CREATE INDEX IF NOT EXISTS idx_results_week ON results(week_id);
`

// SQLiteStore implements Store on a sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and prepares the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, time.Since(start).Seconds())
}

func (s *SQLiteStore) Participant(ctx context.Context, athleteID int64) (model.Participant, error) {
	defer observe("participant", time.Now())
	var p model.Participant
	err := s.db.QueryRowContext(ctx,
		`SELECT athlete_id, name, access_token, refresh_token, token_expires_at
		 FROM participants WHERE athlete_id = ?`, athleteID).
		Scan(&p.AthleteID, &p.Name, &p.AccessToken, &p.RefreshToken, &p.TokenExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Participant{}, fmt.Errorf("participant %d: %w", athleteID, ErrNotFound)
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ParticipantsWithCredentials(ctx context.Context) ([]model.Participant, error) {
	defer observe("participants_with_credentials", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT athlete_id, name, access_token, refresh_token, token_expires_at
		 FROM participants
		 WHERE refresh_token != '' OR access_token != ''
		 ORDER BY athlete_id`)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.AthleteID, &p.Name, &p.AccessToken, &p.RefreshToken, &p.TokenExpiresAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p model.Participant) error {
	defer observe("upsert_participant", time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (athlete_id, name, access_token, refresh_token, token_expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(athlete_id) DO UPDATE SET
		   name = excluded.name,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_expires_at = excluded.token_expires_at`,
		p.AthleteID, p.Name, p.AccessToken, p.RefreshToken, p.TokenExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert participant %d: %w", p.AthleteID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveCredentials(ctx context.Context, athleteID int64, access, refresh string, expiresAt int64) error {
	defer observe("save_credentials", time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET access_token = ?, refresh_token = ?, token_expires_at = ?
		 WHERE athlete_id = ?`, access, refresh, expiresAt, athleteID)
	if err != nil {
		return fmt.Errorf("save credentials for %d: %w", athleteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("participant %d: %w", athleteID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Season(ctx context.Context, id string) (model.Season, error) {
	defer observe("season", time.Now())
	var season model.Season
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_at, end_at FROM seasons WHERE id = ?`, id).
		Scan(&season.ID, &season.Name, &season.StartAt, &season.EndAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Season{}, fmt.Errorf("season %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Season{}, fmt.Errorf("query season: %w", err)
	}
	return season, nil
}

func (s *SQLiteStore) Segment(ctx context.Context, id int64) (model.Segment, error) {
	defer observe("segment", time.Now())
	var seg model.Segment
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM segments WHERE id = ?`, id).
		Scan(&seg.ID, &seg.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Segment{}, fmt.Errorf("segment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Segment{}, fmt.Errorf("query segment: %w", err)
	}
	return seg, nil
}

const weekColumns = `id, season_id, segment_id, required_laps, start_at, end_at, multiplier`

func scanWeek(row interface{ Scan(...any) error }) (model.Week, error) {
	var w model.Week
	err := row.Scan(&w.ID, &w.SeasonID, &w.SegmentID, &w.RequiredLaps, &w.StartAt, &w.EndAt, &w.Multiplier)
	return w, err
}

func (s *SQLiteStore) Week(ctx context.Context, id string) (model.Week, error) {
	defer observe("week", time.Now())
	w, err := scanWeek(s.db.QueryRowContext(ctx,
		`SELECT `+weekColumns+` FROM weeks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Week{}, fmt.Errorf("week %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Week{}, fmt.Errorf("query week: %w", err)
	}
	return w, nil
}

func (s *SQLiteStore) weeksQuery(ctx context.Context, query string, args ...any) ([]model.Week, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query weeks: %w", err)
	}
	defer rows.Close()

	var out []model.Week
	for rows.Next() {
		w, err := scanWeek(rows)
		if err != nil {
			return nil, fmt.Errorf("scan week: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) WeeksForSeason(ctx context.Context, seasonID string) ([]model.Week, error) {
	defer observe("weeks_for_season", time.Now())
	return s.weeksQuery(ctx,
		`SELECT `+weekColumns+` FROM weeks WHERE season_id = ? ORDER BY start_at`, seasonID)
}

func (s *SQLiteStore) WeeksOverlapping(ctx context.Context, from, to int64) ([]model.Week, error) {
	defer observe("weeks_overlapping", time.Now())
	return s.weeksQuery(ctx,
		`SELECT `+weekColumns+` FROM weeks WHERE start_at <= ? AND end_at >= ? ORDER BY start_at`,
		to, from)
}

func (s *SQLiteStore) InsertSeason(ctx context.Context, season model.Season) error {
	defer observe("insert_season", time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seasons (id, name, start_at, end_at) VALUES (?, ?, ?, ?)`,
		season.ID, season.Name, season.StartAt, season.EndAt)
	if err != nil {
		return fmt.Errorf("insert season %s: %w", season.ID, err)
	}
	return nil
}

func (s *SQLiteStore) InsertSegment(ctx context.Context, seg model.Segment) error {
	defer observe("insert_segment", time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		seg.ID, seg.Name)
	if err != nil {
		return fmt.Errorf("insert segment %d: %w", seg.ID, err)
	}
	return nil
}

func (s *SQLiteStore) InsertWeek(ctx context.Context, w model.Week) error {
	defer observe("insert_week", time.Now())
	if err := w.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weeks (id, season_id, segment_id, required_laps, start_at, end_at, multiplier)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.SeasonID, w.SegmentID, w.RequiredLaps, w.StartAt, w.EndAt, w.EffectiveMultiplier())
	if err != nil {
		return fmt.Errorf("insert week %s: %w", w.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertOutcome(ctx context.Context, activity model.Activity, efforts []model.SegmentEffort, result model.Result) error {
	defer observe("upsert_outcome", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Drop efforts belonging to whichever activity this pair previously held.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM segment_efforts WHERE upstream_activity_id IN
		   (SELECT upstream_id FROM activities WHERE week_id = ? AND athlete_id = ?)`,
		activity.WeekID, activity.AthleteID); err != nil {
		return fmt.Errorf("clear prior efforts: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO activities (week_id, athlete_id, upstream_id, start_at, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(week_id, athlete_id) DO UPDATE SET
		   upstream_id = excluded.upstream_id,
		   start_at = excluded.start_at,
		   status = excluded.status`,
		activity.WeekID, activity.AthleteID, activity.UpstreamID, activity.StartAt, activity.Status); err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}

	for _, e := range efforts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO segment_efforts (upstream_activity_id, effort_index, elapsed_seconds, pr)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(upstream_activity_id, effort_index) DO UPDATE SET
			   elapsed_seconds = excluded.elapsed_seconds,
			   pr = excluded.pr`,
			e.UpstreamActivityID, e.EffortIndex, e.ElapsedSeconds, boolToInt(e.PR)); err != nil {
			return fmt.Errorf("upsert effort %d: %w", e.EffortIndex, err)
		}
	}

	// Rank and points stay untouched here; the scoring recompute that always
	// follows a mutation is the only writer of those columns.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO results (week_id, athlete_id, activity_id, total_seconds, pr_achieved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(week_id, athlete_id) DO UPDATE SET
		   activity_id = excluded.activity_id,
		   total_seconds = excluded.total_seconds,
		   pr_achieved = excluded.pr_achieved`,
		result.WeekID, result.AthleteID, result.ActivityID, result.TotalSeconds,
		boolToInt(result.PRAchieved), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByUpstreamActivity(ctx context.Context, upstreamActivityID int64) ([]string, error) {
	defer observe("delete_by_upstream_activity", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT week_id, athlete_id FROM activities WHERE upstream_id = ?`, upstreamActivityID)
	if err != nil {
		return nil, fmt.Errorf("find activities: %w", err)
	}
	type pair struct {
		weekID    string
		athleteID int64
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.weekID, &p.athleteID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(pairs) == 0 {
		// Nothing to delete; replays land here.
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM segment_efforts WHERE upstream_activity_id = ?`, upstreamActivityID); err != nil {
		return nil, fmt.Errorf("delete efforts: %w", err)
	}
	weekIDs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM results WHERE week_id = ? AND athlete_id = ?`, p.weekID, p.athleteID); err != nil {
			return nil, fmt.Errorf("delete result: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM activities WHERE week_id = ? AND athlete_id = ?`, p.weekID, p.athleteID); err != nil {
			return nil, fmt.Errorf("delete activity: %w", err)
		}
		weekIDs = append(weekIDs, p.weekID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return weekIDs, nil
}

const resultColumns = `week_id, athlete_id, activity_id, total_seconds, pr_achieved, rank, base_points, pr_bonus, points, created_at`

func scanResult(row interface{ Scan(...any) error }) (model.Result, error) {
	var r model.Result
	var pr int
	err := row.Scan(&r.WeekID, &r.AthleteID, &r.ActivityID, &r.TotalSeconds, &pr,
		&r.Rank, &r.BasePoints, &r.PRBonus, &r.Points, &r.CreatedAt)
	r.PRAchieved = pr != 0
	return r, err
}

func (s *SQLiteStore) ResultFor(ctx context.Context, weekID string, athleteID int64) (model.Result, error) {
	defer observe("result_for", time.Now())
	r, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE week_id = ? AND athlete_id = ?`,
		weekID, athleteID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Result{}, fmt.Errorf("result %s/%d: %w", weekID, athleteID, ErrNotFound)
	}
	if err != nil {
		return model.Result{}, fmt.Errorf("query result: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) resultsQuery(ctx context.Context, query string, args ...any) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResultsForWeek(ctx context.Context, weekID string) ([]model.Result, error) {
	defer observe("results_for_week", time.Now())
	return s.resultsQuery(ctx,
		`SELECT `+resultColumns+` FROM results WHERE week_id = ? ORDER BY rank, athlete_id`, weekID)
}

func (s *SQLiteStore) ResultsForSeason(ctx context.Context, seasonID string) ([]model.Result, error) {
	defer observe("results_for_season", time.Now())
	return s.resultsQuery(ctx,
		`SELECT r.week_id, r.athlete_id, r.activity_id, r.total_seconds, r.pr_achieved,
		        r.rank, r.base_points, r.pr_bonus, r.points, r.created_at
		 FROM results r JOIN weeks w ON w.id = r.week_id
		 WHERE w.season_id = ?
		 ORDER BY r.week_id, r.rank`, seasonID)
}

func (s *SQLiteStore) SaveScores(ctx context.Context, weekID string, results []model.Result) error {
	defer observe("save_scores", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scores tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range results {
		if _, err := tx.ExecContext(ctx,
			`UPDATE results SET rank = ?, base_points = ?, pr_bonus = ?, points = ?
			 WHERE week_id = ? AND athlete_id = ?`,
			r.Rank, r.BasePoints, r.PRBonus, r.Points, weekID, r.AthleteID); err != nil {
			return fmt.Errorf("save score for athlete %d: %w", r.AthleteID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scores: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountResults(ctx context.Context) (int, error) {
	defer observe("count_results", time.Now())
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
