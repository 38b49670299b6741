package rmapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coachpo/rmpay/errs"
)

func TestAuthenticateStoresSession(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"accessToken":"at-1","refreshToken":"rt-1","expiresIn":7200}`))
	}))
	defer srv.Close()

	eps := NewEndpoints(true).WithOverride(UsageOAuth, srv.URL)
	mgr := NewTokenManager(srv.Client(), eps, "cid", "secret")

	session, err := mgr.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if session.AccessToken != "at-1" || session.RefreshToken != "rt-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.TTL != 7200*time.Second {
		t.Fatalf("expected ttl from expiresIn, got %v", session.TTL)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("cid:secret"))
	if gotAuth != wantAuth {
		t.Fatalf("basic auth mismatch: got %q want %q", gotAuth, wantAuth)
	}
	if gotBody != `{"grantType":"client_credentials"}` {
		t.Fatalf("unexpected grant body: %s", gotBody)
	}

	token, err := mgr.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "at-1" {
		t.Fatalf("expected cached access token, got %q", token)
	}
}

func TestAuthenticateMissingFieldsIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"at-only"}`))
	}))
	defer srv.Close()

	mgr := NewTokenManager(srv.Client(), NewEndpoints(true).WithOverride(UsageOAuth, srv.URL), "cid", "secret")
	if _, err := mgr.Authenticate(context.Background()); !errs.HasCode(err, errs.CodeAuth) {
		t.Fatalf("expected auth error for missing fields, got %v", err)
	}
}

func TestAuthenticateTransportFailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	mgr := NewTokenManager(nil, NewEndpoints(true).WithOverride(UsageOAuth, srv.URL), "cid", "secret")
	if _, err := mgr.Authenticate(context.Background()); !errs.HasCode(err, errs.CodeAuth) {
		t.Fatalf("expected auth error for unreachable endpoint, got %v", err)
	}
}

func TestAuthenticateRejectedStatusIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"bad credentials"}`))
	}))
	defer srv.Close()

	mgr := NewTokenManager(srv.Client(), NewEndpoints(true).WithOverride(UsageOAuth, srv.URL), "cid", "secret")
	_, err := mgr.Authenticate(context.Background())
	if !errs.HasCode(err, errs.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestTokenReauthenticatesAfterInvalidate(t *testing.T) {
	exchanges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		exchanges++
		_, _ = w.Write([]byte(`{"accessToken":"at","refreshToken":"rt"}`))
	}))
	defer srv.Close()

	mgr := NewTokenManager(srv.Client(), NewEndpoints(true).WithOverride(UsageOAuth, srv.URL), "cid", "secret")
	if _, err := mgr.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := mgr.Token(context.Background()); err != nil {
		t.Fatalf("token cached: %v", err)
	}
	if exchanges != 1 {
		t.Fatalf("expected a single exchange while session valid, got %d", exchanges)
	}

	mgr.Invalidate()
	if _, err := mgr.Token(context.Background()); err != nil {
		t.Fatalf("token after invalidate: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("expected re-authentication after invalidate, got %d exchanges", exchanges)
	}
}

func TestSessionValidity(t *testing.T) {
	now := time.Unix(1690000000, 0)
	fresh := Session{AccessToken: "at", AcquiredAt: now, TTL: time.Hour}
	if !fresh.Valid(now.Add(time.Minute)) {
		t.Fatalf("fresh session must be valid")
	}
	if fresh.Valid(now.Add(time.Hour)) {
		t.Fatalf("expired session must be invalid")
	}

	untracked := Session{AccessToken: "at", AcquiredAt: now}
	if !untracked.Valid(now.Add(48 * time.Hour)) {
		t.Fatalf("session without ttl stays valid until a 401 forces renewal")
	}

	if (Session{}).Valid(now) {
		t.Fatalf("empty session must be invalid")
	}
}
