package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// requestWith returns a request carrying the cookies set on rec
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func newMemoryManager(t *testing.T) *Manager {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(store.Stop)
	return NewManager(store, time.Hour, true)
}

func TestLoginRoundTrip(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	begin := httptest.NewRecorder()
	pending, err := m.BeginLogin(ctx, begin, "/device?user_code=BCDF-GHJK")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}
	if pending.LoginState == "" || pending.Verifier == "" {
		t.Fatal("BeginLogin() did not set state and verifier")
	}

	cookies := begin.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName {
		t.Fatalf("cookies = %+v", cookies)
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", cookies[0])
	}

	// A pending login is not a signed-in session
	if _, err := m.Current(ctx, requestWith(begin)); !errors.Is(err, ErrNoSession) {
		t.Errorf("Current() during login error = %v, want ErrNoSession", err)
	}

	if _, err := m.PendingLogin(ctx, requestWith(begin), "forged"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("PendingLogin(forged) error = %v, want ErrStateMismatch", err)
	}

	got, err := m.PendingLogin(ctx, requestWith(begin), pending.LoginState)
	if err != nil {
		t.Fatalf("PendingLogin() error = %v", err)
	}
	if got.ReturnTo != "/device?user_code=BCDF-GHJK" {
		t.Errorf("ReturnTo = %q", got.ReturnTo)
	}

	complete := httptest.NewRecorder()
	sess, err := m.CompleteLogin(ctx, complete, got, User{ID: "u-1", Name: "Alice"})
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if sess.ID == pending.ID {
		t.Error("CompleteLogin() kept the pre-login session id")
	}

	current, err := m.Current(ctx, requestWith(complete))
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current.User.ID != "u-1" || current.User.DisplayName() != "Alice" {
		t.Errorf("Current() user = %+v", current.User)
	}

	// The old login cookie no longer resolves
	if _, err := m.PendingLogin(ctx, requestWith(begin), pending.LoginState); !errors.Is(err, ErrNoSession) {
		t.Errorf("PendingLogin() after completion error = %v, want ErrNoSession", err)
	}
}

func TestEndSession(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	if _, err := m.CompleteLogin(ctx, rec, &Session{ID: "none"}, User{ID: "u-1"}); err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	signedIn := requestWith(rec)

	out := httptest.NewRecorder()
	if err := m.End(ctx, out, signedIn); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if c := out.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("End() cookies = %+v, want a cleared cookie", c)
	}
	if _, err := m.Current(ctx, signedIn); !errors.Is(err, ErrNoSession) {
		t.Errorf("Current() after End() error = %v, want ErrNoSession", err)
	}

	// Ending without a session still clears the cookie
	if err := m.End(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Errorf("End() without session error = %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	if _, err := m.CompleteLogin(ctx, rec, &Session{ID: "none"}, User{ID: "u-1"}); err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}

	m.now = func() time.Time { return now.Add(time.Hour) }
	if _, err := m.Current(ctx, requestWith(rec)); !errors.Is(err, ErrNoSession) {
		t.Errorf("Current() after lifetime error = %v, want ErrNoSession", err)
	}
}

func TestCompleteLoginRequiresUser(t *testing.T) {
	m := newMemoryManager(t)
	if _, err := m.CompleteLogin(context.Background(), httptest.NewRecorder(), &Session{ID: "x"}, User{}); err == nil {
		t.Error("CompleteLogin() accepted a user without id")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{User{ID: "u-1", Name: "Alice", Email: "a@example.com"}, "Alice"},
		{User{ID: "u-1", Email: "a@example.com"}, "a@example.com"},
		{User{ID: "u-1"}, "u-1"},
	}
	for _, tt := range tests {
		if got := tt.user.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)
	ctx := context.Background()

	sess := &Session{
		ID:        "s-1",
		User:      User{ID: "u-1", Email: "a@example.com"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "s-1"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v", ttl)
	}

	got, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.User != sess.User || !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("Load() = %+v", got)
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
	}

	expired := &Session{ID: "s-2", ExpiresAt: time.Now().Add(-time.Second)}
	if err := store.Save(ctx, expired); err == nil {
		t.Error("Save() accepted an expired session")
	}

	if err := store.CheckHealth(ctx); err != nil {
		t.Errorf("CheckHealth() error = %v", err)
	}
	mr.Close()
	if err := store.CheckHealth(ctx); err == nil {
		t.Error("CheckHealth() succeeded with redis down")
	}
}
