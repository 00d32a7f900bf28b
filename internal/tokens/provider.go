// Package tokens supplies valid upstream access credentials per athlete.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/pkg/metrics"
)

// expirySlack renews tokens slightly before their actual deadline so a
// credential handed out now survives the calls made with it.
const expirySlack = 60 * time.Second

// Provider returns a valid access credential for an athlete.
type Provider interface {
	// Credential returns an access token. With forceRefresh it exchanges the
	// stored refresh token regardless of the cached token's expiry.
	Credential(ctx context.Context, athleteID int64, forceRefresh bool) (string, error)
}

// CredentialStore is the slice of the repository the provider needs.
type CredentialStore interface {
	Participant(ctx context.Context, athleteID int64) (model.Participant, error)
	SaveCredentials(ctx context.Context, athleteID int64, access, refresh string, expiresAt int64) error
}

// OAuthProvider implements Provider against the upstream OAuth token endpoint.
type OAuthProvider struct {
	store        CredentialStore
	tokenURL     string
	clientID     string
	clientSecret string
	http         *http.Client
	now          func() time.Time
}

// Option applies a configuration option to the OAuthProvider.
type Option func(*OAuthProvider)

// WithHTTPClient overrides the underlying http.Client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *OAuthProvider) {
		if hc != nil {
			p.http = hc
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *OAuthProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewOAuthProvider creates a store-backed token provider.
func NewOAuthProvider(store CredentialStore, tokenURL, clientID, clientSecret string, opts ...Option) *OAuthProvider {
	p := &OAuthProvider{
		store:        store,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Credential returns a usable access token for the athlete.
func (p *OAuthProvider) Credential(ctx context.Context, athleteID int64, forceRefresh bool) (string, error) {
	participant, err := p.store.Participant(ctx, athleteID)
	if err != nil {
		return "", fmt.Errorf("load participant %d: %w", athleteID, err)
	}
	if !participant.HasCredentials() {
		return "", fmt.Errorf("athlete %d: %w", athleteID, ErrNotConnected)
	}

	expired := participant.TokenExpiresAt <= p.now().Add(expirySlack).Unix()
	if !forceRefresh && participant.AccessToken != "" && !expired {
		return participant.AccessToken, nil
	}

	if participant.RefreshToken == "" {
		return "", fmt.Errorf("athlete %d has no refresh token: %w", athleteID, ErrNotConnected)
	}
	return p.refresh(ctx, participant)
}

// tokenResponse mirrors the OAuth token exchange response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (p *OAuthProvider) refresh(ctx context.Context, participant model.Participant) (string, error) {
	form := url.Values{}
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", participant.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("athlete %d: token exchange status %d: %w",
			participant.AthleteID, resp.StatusCode, ErrRefreshRejected)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	metrics.RecordTokenRefresh()

	// The provider may rotate the refresh token on every exchange.
	if err := p.store.SaveCredentials(ctx, participant.AthleteID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return "", fmt.Errorf("persist refreshed credentials: %w", err)
	}
	return tok.AccessToken, nil
}
