package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/velora/criterium/internal/adapters/http/api"
	"github.com/velora/criterium/internal/app"
	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/types"
	"github.com/velora/criterium/internal/orchestrator"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeDeps implements api.Dependencies with scripted behavior.
type fakeDeps struct {
	seen       map[string]bool
	unrecorded []string
	enqueued   []model.WebhookEvent
	enqueueOK  bool

	batchEvents []orchestrator.Event
	batchErr    error

	weekErr   error
	seasonErr error
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{seen: make(map[string]bool), enqueueOK: true}
}

func (d *fakeDeps) SeenAndRecord(_ context.Context, id string) bool {
	if d.seen[id] {
		return true
	}
	d.seen[id] = true
	return false
}

func (d *fakeDeps) Unrecord(_ context.Context, id string) {
	d.unrecorded = append(d.unrecorded, id)
	delete(d.seen, id)
}

func (d *fakeDeps) EnqueueWebhook(_ context.Context, ev model.WebhookEvent) bool {
	if !d.enqueueOK {
		return false
	}
	d.enqueued = append(d.enqueued, ev)
	return true
}

func (d *fakeDeps) RunBatchFetch(_ context.Context, weekID string) (<-chan orchestrator.Event, error) {
	if d.batchErr != nil {
		return nil, d.batchErr
	}
	out := make(chan orchestrator.Event, len(d.batchEvents))
	for _, ev := range d.batchEvents {
		out <- ev
	}
	close(out)
	return out, nil
}

func (d *fakeDeps) WeekLeaderboard(_ context.Context, weekID string) (types.WeekLeaderboard, error) {
	if d.weekErr != nil {
		return types.WeekLeaderboard{}, d.weekErr
	}
	return types.WeekLeaderboard{WeekID: weekID, SeasonID: "season-1"}, nil
}

func (d *fakeDeps) SeasonLeaderboard(_ context.Context, seasonID string) (types.SeasonLeaderboard, error) {
	if d.seasonErr != nil {
		return types.SeasonLeaderboard{}, d.seasonErr
	}
	return types.SeasonLeaderboard{SeasonID: seasonID}, nil
}

func (d *fakeDeps) Stats(_ context.Context) map[string]any {
	return map[string]any{"started": true}
}

func newTestServer(deps *fakeDeps) *httptest.Server {
	mux := http.NewServeMux()
	api.NewServer(deps, "verify-me").Register(mux)
	return httptest.NewServer(mux)
}

func postWebhook(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestWebhookVerify(t *testing.T) {
	Convey("Given the provider's subscription handshake", t, func() {
		deps := newFakeDeps()
		srv := newTestServer(deps)
		defer srv.Close()

		Convey("A matching verify token echoes the challenge", func() {
			resp, err := http.Get(srv.URL + "/webhook?hub.verify_token=verify-me&hub.challenge=abc123")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var body map[string]string
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body["hub.challenge"], ShouldEqual, "abc123")
		})

		Convey("A wrong verify token is refused", func() {
			resp, err := http.Get(srv.URL + "/webhook?hub.verify_token=wrong&hub.challenge=abc123")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
		})
	})
}

func TestWebhookEvent(t *testing.T) {
	Convey("Given the webhook intake", t, func() {
		deps := newFakeDeps()
		srv := newTestServer(deps)
		defer srv.Close()

		valid := `{"object_type":"activity","object_id":555,"aspect_type":"create","owner_id":101}`

		Convey("A valid event is acknowledged and enqueued", func() {
			resp := postWebhook(t, srv, valid)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			So(len(deps.enqueued), ShouldEqual, 1)
			So(deps.enqueued[0].ActivityID, ShouldEqual, 555)
			So(deps.enqueued[0].Kind, ShouldEqual, model.EventCreated)
		})

		Convey("A replay of the same event is absorbed before the queue", func() {
			first := postWebhook(t, srv, valid)
			first.Body.Close()
			resp := postWebhook(t, srv, valid)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			var ack struct {
				Status    string `json:"status"`
				Duplicate bool   `json:"duplicate"`
			}
			So(json.NewDecoder(resp.Body).Decode(&ack), ShouldBeNil)
			So(ack.Duplicate, ShouldBeTrue)
			So(len(deps.enqueued), ShouldEqual, 1)
		})

		Convey("Backpressure rolls the fingerprint back for a retry", func() {
			deps.enqueueOK = false
			resp := postWebhook(t, srv, valid)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusTooManyRequests)
			So(len(deps.unrecorded), ShouldEqual, 1)

			// The provider's retry now goes through.
			deps.enqueueOK = true
			retry := postWebhook(t, srv, valid)
			defer retry.Body.Close()
			So(retry.StatusCode, ShouldEqual, http.StatusAccepted)
		})

		Convey("Malformed JSON is rejected", func() {
			resp := postWebhook(t, srv, `{not json`)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An unknown aspect type is rejected", func() {
			resp := postWebhook(t, srv, `{"object_type":"activity","object_id":5,"aspect_type":"rename","owner_id":1}`)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Athlete-level notifications are acknowledged and ignored", func() {
			resp := postWebhook(t, srv, `{"object_type":"athlete","object_id":5,"aspect_type":"update","owner_id":1}`)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(deps.enqueued, ShouldBeEmpty)
		})
	})
}

func TestFetchStream(t *testing.T) {
	Convey("Given a batch run with two athletes", t, func() {
		deps := newFakeDeps()
		deps.batchEvents = []orchestrator.Event{
			{Kind: orchestrator.KindProgress, Athlete: 101, Found: true},
			{Kind: orchestrator.KindProgress, Athlete: 102, Reason: "Not enough segment repeats"},
			{Kind: orchestrator.KindComplete, Summary: &orchestrator.Summary{WeekID: "week-1", Processed: 2, Found: 1}},
		}
		srv := newTestServer(deps)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/weeks/week-1/fetch", "application/json", nil)
		So(err, ShouldBeNil)
		defer resp.Body.Close()

		Convey("The response streams NDJSON ending with the terminal event", func() {
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(resp.Header.Get("Content-Type"), ShouldStartWith, "application/x-ndjson")

			var lines []orchestrator.Event
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				var ev orchestrator.Event
				So(json.Unmarshal(scanner.Bytes(), &ev), ShouldBeNil)
				lines = append(lines, ev)
			}
			So(len(lines), ShouldEqual, 3)
			So(lines[0].Athlete, ShouldEqual, 101)
			So(lines[2].Kind, ShouldEqual, orchestrator.KindComplete)
			So(lines[2].Summary.Processed, ShouldEqual, 2)
		})
	})

	Convey("Given an unknown week", t, func() {
		deps := newFakeDeps()
		deps.batchErr = fmt.Errorf("week nope: %w", app.ErrUnknownID)
		srv := newTestServer(deps)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/weeks/nope/fetch", "application/json", nil)
		So(err, ShouldBeNil)
		defer resp.Body.Close()
		So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
	})
}

func TestLeaderboards(t *testing.T) {
	Convey("Given leaderboard routes", t, func() {
		deps := newFakeDeps()
		srv := newTestServer(deps)
		defer srv.Close()

		Convey("The week leaderboard is served", func() {
			resp, err := http.Get(srv.URL + "/leaderboard/week/week-1")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var lb types.WeekLeaderboard
			So(json.NewDecoder(resp.Body).Decode(&lb), ShouldBeNil)
			So(lb.WeekID, ShouldEqual, "week-1")
		})

		Convey("The season leaderboard is served", func() {
			resp, err := http.Get(srv.URL + "/leaderboard/season/season-1")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})

		Convey("An unknown week yields 404", func() {
			deps.weekErr = fmt.Errorf("week nope: %w", app.ErrUnknownID)
			resp, err := http.Get(srv.URL + "/leaderboard/week/nope")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestHealthAndStats(t *testing.T) {
	Convey("Given the monitoring routes", t, func() {
		srv := newTestServer(newFakeDeps())
		defer srv.Close()

		Convey("Health answers ok", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})

		Convey("Stats returns the service snapshot", func() {
			resp, err := http.Get(srv.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var stats map[string]any
			So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)
			So(stats["started"], ShouldEqual, true)
		})

		Convey("Metrics are exposed", func() {
			resp, err := http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
