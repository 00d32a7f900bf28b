// Package app wires the engine components into the service consumed by the
// HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	eventqueue "github.com/velora/criterium/internal/adapters/mq/queue"
	workerpool "github.com/velora/criterium/internal/adapters/mq/worker"
	"github.com/velora/criterium/internal/adapters/repository"
	"github.com/velora/criterium/internal/domain/dedupe"
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/season"
	"github.com/velora/criterium/internal/domain/types"
	"github.com/velora/criterium/internal/orchestrator"
	"github.com/velora/criterium/internal/qualifier"
	"github.com/velora/criterium/internal/tokens"
	"github.com/velora/criterium/internal/upstream"
	"github.com/velora/criterium/internal/webhook"
	"github.com/velora/criterium/pkg/logger"
	"github.com/velora/criterium/pkg/metrics"
)

// ErrUnknownID marks lookups against ids that do not exist; the API layer
// translates it to 404.
var ErrUnknownID = errors.New("unknown id")

// Service owns all engine components and their lifecycle.
type Service struct {
	mu sync.Mutex

	// Collaborators; injectable for tests, built from config otherwise.
	store    repository.Store
	client   upstream.Client
	tokens   tokens.Provider
	deduper  dedupe.Deduper
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool
	batch    *orchestrator.Orchestrator
	updater  *webhook.Updater

	// Configuration
	dbPath           string
	upstreamBaseURL  string
	upstreamTimeout  time.Duration
	oauthTokenURL    string
	oauthClientID    string
	oauthSecret      string
	fetchPadding     time.Duration
	candidatePadding time.Duration
	queueSize        int
	workerCount      int
	dedupeSize       int
	clock            func() time.Time

	started bool
	log     logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a repository, bypassing the sqlite default.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithUpstreamClient injects an upstream client.
func WithUpstreamClient(c upstream.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithTokenProvider injects a token provider.
func WithTokenProvider(p tokens.Provider) Option {
	return func(s *Service) { s.tokens = p }
}

// WithDBPath sets the sqlite database file.
func WithDBPath(path string) Option {
	return func(s *Service) { s.dbPath = path }
}

// WithUpstream configures the provider API endpoint and timeout.
func WithUpstream(baseURL string, timeout time.Duration) Option {
	return func(s *Service) {
		s.upstreamBaseURL = baseURL
		if timeout > 0 {
			s.upstreamTimeout = timeout
		}
	}
}

// WithOAuth configures the token exchange endpoint and application keys.
func WithOAuth(tokenURL, clientID, secret string) Option {
	return func(s *Service) {
		s.oauthTokenURL = tokenURL
		s.oauthClientID = clientID
		s.oauthSecret = secret
	}
}

// WithFetchPadding widens upstream listing windows.
func WithFetchPadding(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchPadding = d
		}
	}
}

// WithCandidatePadding bounds webhook week matching.
func WithCandidatePadding(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.candidatePadding = d
		}
	}
}

// WithQueueSize bounds the webhook event queue.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWorkerCount sets the number of webhook workers.
func WithWorkerCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithDedupeSize sets the replay cache size.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithClock overrides the time source used for webhook week matching, for
// tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:           "criterium.db",
		upstreamTimeout:  15 * time.Second,
		fetchPadding:     6 * time.Hour,
		candidatePadding: 30 * 24 * time.Hour,
		queueSize:        10_000,
		workerCount:      4,
		dedupeSize:       50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts all components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.log == nil {
		s.log = logger.Named("app")
	}

	if s.store == nil {
		store, err := repository.NewSQLiteStore(s.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.log.Info(ctx, "using sqlite store", logger.String("path", s.dbPath))
	}
	if s.client == nil {
		s.client = upstream.NewHTTPClient(s.upstreamBaseURL, upstream.WithTimeout(s.upstreamTimeout))
	}
	if s.tokens == nil {
		s.tokens = tokens.NewOAuthProvider(s.store, s.oauthTokenURL, s.oauthClientID, s.oauthSecret)
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))

	finder := qualifier.New(s.client, s.tokens, qualifier.WithFetchPadding(s.fetchPadding))
	s.batch = orchestrator.New(s.store, finder)
	updaterOpts := []webhook.Option{webhook.WithCandidatePadding(s.candidatePadding)}
	if s.clock != nil {
		updaterOpts = append(updaterOpts, webhook.WithClock(s.clock))
	}
	s.updater = webhook.NewUpdater(s.store, finder, updaterOpts...)

	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.updater)
	s.pool.Start(ctx)

	s.started = true
	s.log.Info(ctx, "service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop gracefully shuts the service down. Queued webhook events are drained
// before the workers exit.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.log.Info(ctx, "stopping service...")

	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	s.started = false
	s.log.Info(ctx, "service stopped")
}

// SeenAndRecord atomically checks and records a webhook event fingerprint.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordWebhookEventDuplicate()
	}
	return seen
}

// Unrecord removes a fingerprint so the event can be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// EnqueueWebhook submits an acknowledged event for asynchronous processing.
func (s *Service) EnqueueWebhook(ctx context.Context, ev model.WebhookEvent) bool {
	ok := s.queue.Enqueue(ctx, ev)
	if ok {
		metrics.RecordWebhookEventReceived(string(ev.Kind))
	} else {
		metrics.RecordWebhookEventDropped()
	}
	return ok
}

// RunBatchFetch starts a batch run for the week and returns its stream.
func (s *Service) RunBatchFetch(ctx context.Context, weekID string) (<-chan orchestrator.Event, error) {
	events, err := s.batch.Run(ctx, weekID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("week %s: %w", weekID, ErrUnknownID)
		}
		return nil, err
	}
	return events, nil
}

// WeekLeaderboard derives the ordered result projection for one week.
func (s *Service) WeekLeaderboard(ctx context.Context, weekID string) (types.WeekLeaderboard, error) {
	week, err := s.store.Week(ctx, weekID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return types.WeekLeaderboard{}, fmt.Errorf("week %s: %w", weekID, ErrUnknownID)
		}
		return types.WeekLeaderboard{}, err
	}

	results, err := s.store.ResultsForWeek(ctx, weekID)
	if err != nil {
		return types.WeekLeaderboard{}, err
	}

	lb := types.WeekLeaderboard{
		WeekID:       week.ID,
		SeasonID:     week.SeasonID,
		SegmentID:    week.SegmentID,
		RequiredLaps: week.RequiredLaps,
		Multiplier:   week.EffectiveMultiplier(),
		Entries:      make([]types.WeekEntry, 0, len(results)),
	}
	if seg, err := s.store.Segment(ctx, week.SegmentID); err == nil {
		lb.SegmentName = seg.Name
	}
	for _, r := range results {
		lb.Entries = append(lb.Entries, types.WeekEntry{
			Rank:         r.Rank,
			AthleteID:    r.AthleteID,
			Name:         s.athleteName(ctx, r.AthleteID),
			ActivityID:   r.ActivityID,
			TotalSeconds: r.TotalSeconds,
			PRAchieved:   r.PRAchieved,
			Points:       r.Points,
		})
	}
	return lb, nil
}

// SeasonLeaderboard derives the season standing from persisted results.
func (s *Service) SeasonLeaderboard(ctx context.Context, seasonID string) (types.SeasonLeaderboard, error) {
	sn, err := s.store.Season(ctx, seasonID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return types.SeasonLeaderboard{}, fmt.Errorf("season %s: %w", seasonID, ErrUnknownID)
		}
		return types.SeasonLeaderboard{}, err
	}

	results, err := s.store.ResultsForSeason(ctx, seasonID)
	if err != nil {
		return types.SeasonLeaderboard{}, err
	}

	standings := season.Aggregate(results)
	lb := types.SeasonLeaderboard{
		SeasonID:   sn.ID,
		SeasonName: sn.Name,
		Entries:    make([]types.SeasonEntry, 0, len(standings)),
	}
	for _, st := range standings {
		lb.Entries = append(lb.Entries, types.SeasonEntry{
			AthleteID:      st.AthleteID,
			Name:           s.athleteName(ctx, st.AthleteID),
			Points:         st.Points,
			WeeksCompleted: st.WeeksCompleted,
		})
	}
	return lb, nil
}

func (s *Service) athleteName(ctx context.Context, athleteID int64) string {
	p, err := s.store.Participant(ctx, athleteID)
	if err != nil {
		return ""
	}
	return p.Name
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"started":      s.started,
		"worker_count": s.workerCount,
	}
	if s.started {
		qlen := s.queue.Len(ctx)
		stats["queue_length"] = qlen
		stats["dedupe_size"] = s.deduper.Size()
		metrics.UpdateQueueSize(qlen)
		metrics.UpdateWorkerCount(s.workerCount)
		if n, err := s.store.CountResults(ctx); err == nil {
			stats["results"] = n
			metrics.UpdateResultsTracked(n)
		}
	}
	return stats
}
