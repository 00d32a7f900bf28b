package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/velora/criterium/internal/domain/model"
)

// WebhookHandler handles provider push notifications.
type WebhookHandler struct {
	deps        Dependencies
	verifyToken string
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(deps Dependencies, verifyToken string) *WebhookHandler {
	return &WebhookHandler{deps: deps, verifyToken: verifyToken}
}

// webhookRequest mirrors the provider's push notification payload.
type webhookRequest struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
}

func (r webhookRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ObjectType) == "":
		return NewKind("webhook", ErrBadRequest)
	case r.ObjectID <= 0:
		return NewKind("webhook", ErrBadRequest)
	case r.OwnerID <= 0:
		return NewKind("webhook", ErrBadRequest)
	}
	return nil
}

// HandleVerify answers the provider's subscription handshake: it echoes
// hub.challenge when the verify token matches.
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken != "" && q.Get("hub.verify_token") != h.verifyToken {
		writeError(w, http.StatusForbidden, "verify_failed", NewKind("webhook.verify", ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

// HandleEvent acknowledges a push notification. All matching and scoring
// work happens asynchronously after the ack; the provider only needs a 2xx.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook_event"

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	// Athlete-level notifications (deauthorizations) are an external
	// collaborator's concern; acknowledge and ignore.
	if req.ObjectType != "activity" {
		writeJSON(w, http.StatusOK, ackResponse{Status: "ignored"})
		return
	}

	kind, err := model.ParseEventKind(req.AspectType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ev := model.WebhookEvent{
		OwnerAthleteID: req.OwnerID,
		ActivityID:     req.ObjectID,
		Kind:           kind,
	}

	// Replay fast path: mark seen first, roll back if the enqueue fails.
	if h.deps.SeenAndRecord(r.Context(), ev.Fingerprint()) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	if ok := h.deps.EnqueueWebhook(r.Context(), ev); !ok {
		h.deps.Unrecord(r.Context(), ev.Fingerprint())
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
