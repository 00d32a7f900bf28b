// Command seed loads a season fixture into the criterium database.
//
// The fixture is a YAML file describing one or more seasons with their
// segments, weeks and participants:
//
//	seasons:
//	  - id: season-2026
//	    name: "Spring 2026"
//	    start_at: 1767225600
//	    end_at: 1774998000
//	segments:
//	  - id: 229781
//	    name: "Hawk Hill"
//	weeks:
//	  - id: week-01
//	    season_id: season-2026
//	    segment_id: 229781
//	    start_at: 1767225600
//	    end_at: 1767830399
//	    required_laps: 3
//	    multiplier: 1
//	participants:
//	  - athlete_id: 101
//	    name: "Ada"
//	    access_token: "..."
//	    refresh_token: "..."
//	    token_expires_at: 1767312000
package main

import (
	"context"
	"flag"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/velora/criterium/internal/adapters/repository"
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/pkg/logger"
)

// Fixture wire structs; koanf tags bind the snake_case YAML keys.
type seasonFixture struct {
	ID      string `koanf:"id"`
	Name    string `koanf:"name"`
	StartAt int64  `koanf:"start_at"`
	EndAt   int64  `koanf:"end_at"`
}

type segmentFixture struct {
	ID   int64  `koanf:"id"`
	Name string `koanf:"name"`
}

type weekFixture struct {
	ID           string `koanf:"id"`
	SeasonID     string `koanf:"season_id"`
	SegmentID    int64  `koanf:"segment_id"`
	RequiredLaps int    `koanf:"required_laps"`
	StartAt      int64  `koanf:"start_at"`
	EndAt        int64  `koanf:"end_at"`
	Multiplier   int    `koanf:"multiplier"`
}

type participantFixture struct {
	AthleteID      int64  `koanf:"athlete_id"`
	Name           string `koanf:"name"`
	AccessToken    string `koanf:"access_token"`
	RefreshToken   string `koanf:"refresh_token"`
	TokenExpiresAt int64  `koanf:"token_expires_at"`
}

type fixture struct {
	Seasons      []seasonFixture      `koanf:"seasons"`
	Segments     []segmentFixture     `koanf:"segments"`
	Weeks        []weekFixture        `koanf:"weeks"`
	Participants []participantFixture `koanf:"participants"`
}

func main() {
	fixturePath := flag.String("fixture", "seed.yaml", "path to the YAML fixture")
	dbPath := flag.String("db", "criterium.db", "path to the sqlite database")
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Named("seed")
	ctx := context.Background()

	fx, err := loadFixture(*fixturePath)
	if err != nil {
		log.Error(ctx, "failed to load fixture", logger.String("path", *fixturePath), logger.Error(err))
		os.Exit(1)
	}

	store, err := repository.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Error(ctx, "failed to open database", logger.String("path", *dbPath), logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	if err := apply(ctx, store, fx); err != nil {
		log.Error(ctx, "seeding failed", logger.Error(err))
		os.Exit(1)
	}

	log.Info(ctx, "seeding complete",
		logger.Int("seasons", len(fx.Seasons)),
		logger.Int("segments", len(fx.Segments)),
		logger.Int("weeks", len(fx.Weeks)),
		logger.Int("participants", len(fx.Participants)),
	)
}

func loadFixture(path string) (*fixture, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	var fx fixture
	if err := k.UnmarshalWithConf("", &fx, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	return &fx, nil
}

func apply(ctx context.Context, store repository.Store, fx *fixture) error {
	for _, sn := range fx.Seasons {
		err := store.InsertSeason(ctx, model.Season{
			ID:      sn.ID,
			Name:    sn.Name,
			StartAt: sn.StartAt,
			EndAt:   sn.EndAt,
		})
		if err != nil {
			return err
		}
	}
	for _, seg := range fx.Segments {
		if err := store.InsertSegment(ctx, model.Segment{ID: seg.ID, Name: seg.Name}); err != nil {
			return err
		}
	}
	for _, wk := range fx.Weeks {
		week := model.Week{
			ID:           wk.ID,
			SeasonID:     wk.SeasonID,
			SegmentID:    wk.SegmentID,
			RequiredLaps: wk.RequiredLaps,
			StartAt:      wk.StartAt,
			EndAt:        wk.EndAt,
			Multiplier:   wk.Multiplier,
		}
		if err := week.Validate(); err != nil {
			return err
		}
		if err := store.InsertWeek(ctx, week); err != nil {
			return err
		}
	}
	for _, p := range fx.Participants {
		err := store.UpsertParticipant(ctx, model.Participant{
			AthleteID:      p.AthleteID,
			Name:           p.Name,
			AccessToken:    p.AccessToken,
			RefreshToken:   p.RefreshToken,
			TokenExpiresAt: p.TokenExpiresAt,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
