package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/pkg/metrics"
)

const defaultCallTimeout = 15 * time.Second

// HTTPClient implements Client against the provider's REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// Option applies a configuration option to the HTTPClient.
type Option func(*HTTPClient)

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient overrides the underlying http.Client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewHTTPClient creates a client for the given API base URL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// activitySummaryWire mirrors the provider's activity list schema.
type activitySummaryWire struct {
	ID        int64  `json:"id"`
	StartDate string `json:"start_date"` // RFC3339, always UTC upstream
}

// segmentEffortWire mirrors one segment effort. PRRank is nullable upstream;
// 1 means the effort was the athlete's fastest ever on that segment.
type segmentEffortWire struct {
	Segment *struct {
		ID int64 `json:"id"`
	} `json:"segment"`
	ElapsedTime int64 `json:"elapsed_time"`
	PRRank      *int  `json:"pr_rank"`
}

// activityDetailWire mirrors the provider's activity detail schema.
type activityDetailWire struct {
	ID             int64               `json:"id"`
	StartDate      string              `json:"start_date"`
	SegmentEfforts []segmentEffortWire `json:"segment_efforts"`
}

// ListActivities fetches the athlete's activities between after and before.
func (c *HTTPClient) ListActivities(ctx context.Context, credential string, after, before int64) ([]ActivitySummary, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("before", strconv.FormatInt(before, 10))
	q.Set("per_page", "100")

	var wire []activitySummaryWire
	if err := c.getJSON(ctx, "list_activities", "/athlete/activities?"+q.Encode(), credential, &wire); err != nil {
		return nil, err
	}

	out := make([]ActivitySummary, 0, len(wire))
	for _, a := range wire {
		start, err := parseStart(a.StartDate)
		if err != nil {
			return nil, fmt.Errorf("activity %d: %w", a.ID, err)
		}
		out = append(out, ActivitySummary{ID: a.ID, StartAt: start})
	}
	return out, nil
}

// GetActivityDetail fetches one activity with all segment efforts.
func (c *HTTPClient) GetActivityDetail(ctx context.Context, credential string, activityID int64) (ActivityDetail, error) {
	path := fmt.Sprintf("/activities/%d?include_all_efforts=true", activityID)

	var wire activityDetailWire
	if err := c.getJSON(ctx, "get_activity", path, credential, &wire); err != nil {
		return ActivityDetail{}, err
	}

	start, err := parseStart(wire.StartDate)
	if err != nil {
		return ActivityDetail{}, fmt.Errorf("activity %d: %w", wire.ID, err)
	}

	detail := ActivityDetail{ID: wire.ID, StartAt: start}
	for _, e := range wire.SegmentEfforts {
		if e.Segment == nil {
			// Hidden or deleted segment; nothing to match against.
			continue
		}
		detail.Efforts = append(detail.Efforts, model.Effort{
			SegmentID:      e.Segment.ID,
			ElapsedSeconds: e.ElapsedTime,
			PR:             e.PRRank != nil && *e.PRRank == 1,
		})
	}
	return detail, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, op, path, credential string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordUpstreamLatency(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordUpstreamCall(op, "transport_error")
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.RecordUpstreamCall(op, "unauthorized")
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordUpstreamCall(op, "not_found")
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		metrics.RecordUpstreamCall(op, strconv.Itoa(resp.StatusCode))
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	metrics.RecordUpstreamCall(op, "ok")
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// parseStart converts the provider's RFC3339 start date to unix seconds.
// All downstream window checks compare absolute seconds only.
func parseStart(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("parse start date %q: %w", s, err)
	}
	return t.Unix(), nil
}
