package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/wrale/phantom/internal/accesstoken"
	"github.com/wrale/phantom/internal/csrf"
	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/oauth"
	"github.com/wrale/phantom/internal/poller"
	"github.com/wrale/phantom/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// fakeUpstream plays the identity provider the browser signs in with
type fakeUpstream struct {
	*httptest.Server
	mu        sync.Mutex
	challenge string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("code_challenge_method") != "S256" {
			http.Error(w, "pkce required", http.StatusBadRequest)
			return
		}
		u.mu.Lock()
		u.challenge = q.Get("code_challenge")
		u.mu.Unlock()

		target := q.Get("redirect_uri") + "?" + url.Values{"code": {"good"}, "state": {q.Get("state")}}.Encode()
		http.Redirect(w, r, target, http.StatusFound)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u.mu.Lock()
		challenge := u.challenge
		u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good" || oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"upstream-token","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"sub":"alice","name":"Alice Example","email":"alice@example.com"}`)
	})

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

// newTestServer runs the full router over in-memory stores
func newTestServer(t *testing.T, mutate func(*Config)) (*httptest.Server, *fakeClock) {
	t.Helper()

	upstream := newFakeUpstream(t)

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := Config{
		BaseURL:             ts.URL,
		StoreBackend:        backendMemory,
		CodeExpiry:          10 * time.Minute,
		PollInterval:        5 * time.Second,
		RetainExpired:       time.Minute,
		PurgeInterval:       time.Minute,
		TokenSecret:         testSecret,
		TokenLifetime:       time.Hour,
		CSRFSecret:          testSecret,
		CSRFTokenExpiry:     time.Minute,
		SessionLifetime:     time.Hour,
		VerifyRatePerMinute: 600,
		OAuthProvider:       providerCustom,
		OAuthClientID:       "phantom",
		OAuthAuthURL:        upstream.URL + "/authorize",
		OAuthTokenURL:       upstream.URL + "/token",
		OAuthUserInfoURL:    upstream.URL + "/userinfo",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	stores, err := openBackends(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openBackends() error = %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })

	tokens, err := accesstoken.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenLifetime)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	loginCfg, err := cfg.loginConfig()
	if err != nil {
		t.Fatalf("loginConfig() error = %v", err)
	}
	provider, err := oauth.NewProvider(loginCfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	clock := &fakeClock{now: time.Now()}
	deps := dependencies{
		flow: deviceflow.NewFlow(stores.devices, tokens, cfg.BaseURL,
			deviceflow.WithExpiryDuration(cfg.CodeExpiry),
			deviceflow.WithPollInterval(cfg.PollInterval),
			deviceflow.WithClock(clock.Now),
		),
		tokens:   tokens,
		csrf:     csrf.NewManager(stores.csrf, []byte(cfg.CSRFSecret), cfg.CSRFTokenExpiry),
		sessions: session.NewManager(stores.sessions, cfg.SessionLifetime, cfg.secureCookies()),
		login:    provider,
	}

	srv, err := newServer(cfg, zerolog.Nop(), deps)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	t.Cleanup(srv.Close)
	handler = srv.router

	return ts, clock
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

// extractCSRFToken pulls the hidden csrf_token field out of a page
func extractCSRFToken(html string) string {
	const marker = `name="csrf_token" value="`
	i := strings.Index(html, marker)
	if i < 0 {
		return ""
	}
	html = html[i+len(marker):]
	if j := strings.Index(html, `"`); j > 0 {
		return html[:j]
	}
	return ""
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(body)
}

// approveInBrowser signs in upstream and approves the code like a user would
func approveInBrowser(t *testing.T, browser *http.Client, verificationURI string) {
	t.Helper()

	resp, err := browser.Get(verificationURI)
	if err != nil {
		t.Fatalf("opening verification page: %v", err)
	}
	page := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verification page status = %d: %s", resp.StatusCode, page)
	}
	if !strings.Contains(page, "Authorize Device") || !strings.Contains(page, "Alice Example") {
		t.Fatalf("unexpected verification page: %s", page)
	}

	token := extractCSRFToken(page)
	if token == "" {
		t.Fatal("no csrf token on approval page")
	}
	userCode := resp.Request.URL.Query().Get("user_code")

	resp, err = browser.PostForm(strings.Split(verificationURI, "?")[0]+"/approve", url.Values{
		"user_code":  {userCode},
		"csrf_token": {token},
	})
	if err != nil {
		t.Fatalf("approving: %v", err)
	}
	page = readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(page, "Device Authorized") {
		t.Fatalf("approve status = %d: %s", resp.StatusCode, page)
	}
}

func TestDeviceFlowEndToEnd(t *testing.T) {
	ts, clock := newTestServer(t, nil)
	browser := newBrowser(t)

	var states []poller.State
	p := poller.New(&oauth2.Config{
		ClientID: "cli",
		Scopes:   []string{"openid"},
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: ts.URL + "/device/code",
			TokenURL:      ts.URL + "/device/token",
		},
	},
		poller.WithClock(clock.Now, clock.Sleep),
		poller.WithObserver(func(e poller.Event) {
			states = append(states, e.State)
			if e.State == poller.StateAwaitingApproval {
				approveInBrowser(t, browser, e.Authorization.VerificationURIComplete)
			}
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tok, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tok.TokenType != accesstoken.TokenType || tok.AccessToken == "" {
		t.Fatalf("token = %+v", tok)
	}
	if got := states[len(states)-1]; got != poller.StateAuthenticated {
		t.Errorf("final state = %v, want %v", got, poller.StateAuthenticated)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/me", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/me status = %d", resp.StatusCode)
	}
	var who struct {
		UserID   string `json:"user_id"`
		ClientID string `json:"client_id"`
		Scope    string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&who); err != nil {
		t.Fatalf("decoding /api/me: %v", err)
	}
	if who.UserID != "alice" || who.ClientID != "cli" || who.Scope != "openid" {
		t.Errorf("/api/me = %+v", who)
	}
}

func TestDeviceFlowDenied(t *testing.T) {
	ts, clock := newTestServer(t, nil)
	browser := newBrowser(t)

	p := poller.New(&oauth2.Config{
		ClientID: "cli",
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: ts.URL + "/device/code",
			TokenURL:      ts.URL + "/device/token",
		},
	},
		poller.WithClock(clock.Now, clock.Sleep),
		poller.WithObserver(func(e poller.Event) {
			if e.State != poller.StateAwaitingApproval {
				return
			}
			resp, err := browser.Get(e.Authorization.VerificationURIComplete)
			if err != nil {
				t.Errorf("opening verification page: %v", err)
				return
			}
			token := extractCSRFToken(readBody(t, resp))
			resp, err = browser.PostForm(ts.URL+"/device/deny", url.Values{
				"user_code":  {e.Authorization.UserCode},
				"csrf_token": {token},
			})
			if err != nil {
				t.Errorf("denying: %v", err)
				return
			}
			if page := readBody(t, resp); resp.StatusCode != http.StatusOK {
				t.Errorf("deny status = %d: %s", resp.StatusCode, page)
			}
		}),
	)

	if _, err := p.Run(context.Background()); !errors.Is(err, poller.ErrAccessDenied) {
		t.Fatalf("Run() error = %v, want ErrAccessDenied", err)
	}
}

func TestRoutes(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	noRedirect := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	tests := []struct {
		name         string
		method       string
		path         string
		wantStatus   int
		wantLocation string
	}{
		{name: "root", method: http.MethodGet, path: "/", wantStatus: http.StatusFound, wantLocation: "/device"},
		{name: "verification needs sign in", method: http.MethodGet, path: "/device", wantStatus: http.StatusFound, wantLocation: ts.URL + "/login?return_to=%2Fdevice"},
		{name: "device code requires post", method: http.MethodGet, path: "/device/code", wantStatus: http.StatusMethodNotAllowed},
		{name: "me requires bearer", method: http.MethodGet, path: "/api/me", wantStatus: http.StatusUnauthorized},
		{name: "logout requires post", method: http.MethodGet, path: "/logout", wantStatus: http.StatusMethodNotAllowed},
		{name: "unknown", method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := noRedirect.Do(req)
			if err != nil {
				t.Fatalf("request error = %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantLocation != "" {
				if got := resp.Header.Get("Location"); got != tt.wantLocation {
					t.Errorf("Location = %q, want %q", got, tt.wantLocation)
				}
			}
			if resp.Header.Get("X-Request-Id") == "" {
				t.Error("missing request id header")
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		Status  string `json:"status"`
		Details map[string]struct {
			Status string `json:"status"`
		} `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q", body.Status)
	}
	for _, name := range []string{"store", "csrf", "sessions", "upstream"} {
		if body.Details[name].Status != "healthy" {
			t.Errorf("%s = %+v", name, body.Details[name])
		}
	}
}

func TestVerificationRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *Config) { cfg.VerifyRatePerMinute = 1 })
	noRedirect := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	first, err := noRedirect.Get(ts.URL + "/device")
	if err != nil {
		t.Fatal(err)
	}
	first.Body.Close()
	if first.StatusCode == http.StatusTooManyRequests {
		t.Fatal("first request was throttled")
	}

	second, err := noRedirect.Get(ts.URL + "/device")
	if err != nil {
		t.Fatal(err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", second.StatusCode, http.StatusTooManyRequests)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// The token endpoint is not behind the browser limiter
	resp, err := http.PostForm(ts.URL+"/device/code", url.Values{"client_id": {"cli"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("device code status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
}

func TestVerificationRateLimitIgnoresForwardedFor(t *testing.T) {
	tests := []struct {
		name        string
		trustProxy  bool
		wantLimited bool
	}{
		{name: "untrusted headers share one budget", trustProxy: false, wantLimited: true},
		{name: "trusted proxy separates clients", trustProxy: true, wantLimited: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, func(cfg *Config) {
				cfg.VerifyRatePerMinute = 1
				cfg.TrustProxyHeaders = tt.trustProxy
			})
			noRedirect := &http.Client{
				CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
			}

			limited := 0
			for i := 1; i <= 10; i++ {
				req, err := http.NewRequest(http.MethodGet, ts.URL+"/device", nil)
				if err != nil {
					t.Fatal(err)
				}
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
				resp, err := noRedirect.Do(req)
				if err != nil {
					t.Fatalf("request %d error = %v", i, err)
				}
				resp.Body.Close()
				if resp.StatusCode == http.StatusTooManyRequests {
					limited++
				}
			}

			if tt.wantLimited && limited != 9 {
				t.Errorf("throttled %d of 10 requests, want 9", limited)
			}
			if !tt.wantLimited && limited != 0 {
				t.Errorf("throttled %d of 10 requests, want 0", limited)
			}
		})
	}
}
