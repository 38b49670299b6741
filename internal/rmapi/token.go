package rmapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/rmpay/errs"
)

// expirySlack renews a token slightly before its reported lifetime elapses.
const expirySlack = 30 * time.Second

// Session holds the token pair produced by one client-credential exchange.
// Only a successful exchange mutates it.
type Session struct {
	AccessToken  string
	RefreshToken string
	AcquiredAt   time.Time
	TTL          time.Duration
}

// Valid reports whether the session can authenticate a request right now.
// Expiry tracking is best effort: providers that omit expiresIn yield
// sessions that stay valid until a 401 forces re-authentication.
func (s Session) Valid(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	if s.TTL <= 0 {
		return true
	}
	return now.Before(s.AcquiredAt.Add(s.TTL - expirySlack))
}

// TokenManager owns the provider session and performs the client-credential
// exchange. Safe for concurrent use; a single writer holds the lock across
// the exchange so concurrent callers never race on the session.
type TokenManager struct {
	http         *http.Client
	endpoints    Endpoints
	clientID     string
	clientSecret string
	clock        func() time.Time

	mu      sync.Mutex
	session Session
}

// NewTokenManager constructs a token manager for the credential pair.
func NewTokenManager(httpClient *http.Client, endpoints Endpoints, clientID, clientSecret string) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &TokenManager{
		http:         httpClient,
		endpoints:    endpoints,
		clientID:     clientID,
		clientSecret: clientSecret,
		clock:        time.Now,
	}
}

// Authenticate exchanges the client credentials for a fresh session.
func (m *TokenManager) Authenticate(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchangeLocked(ctx)
}

// Token returns an access token, re-authenticating when no valid session is
// held.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Valid(m.clock()) {
		return m.session.AccessToken, nil
	}
	session, err := m.exchangeLocked(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// Invalidate discards the held session so the next call re-authenticates.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = Session{}
}

func (m *TokenManager) exchangeLocked(ctx context.Context) (Session, error) {
	uri := m.endpoints.URL(UsageOAuth, "v1", "/token")
	body, err := json.Marshal(map[string]string{"grantType": "client_credentials"})
	if err != nil {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithMessage("encode grant request"), errs.WithCause(err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithMessage("build grant request"), errs.WithCause(err))
	}
	basic := base64.StdEncoding.EncodeToString([]byte(m.clientID + ":" + m.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithMessage("token endpoint unreachable"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithMessage("read token response"), errs.WithCause(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("token exchange rejected"),
			errs.WithRawMessage(string(raw)))
	}

	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithMessage("malformed token response"), errs.WithCause(err))
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return Session{}, errs.New("rmapi.token", errs.CodeAuth,
			errs.WithMessage("token response missing required fields"))
	}

	session := Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		AcquiredAt:   m.clock(),
		TTL:          time.Duration(payload.ExpiresIn) * time.Second,
	}
	m.session = session
	return session, nil
}
