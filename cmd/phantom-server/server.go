package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/device"
	"github.com/wrale/phantom/cmd/phantom-server/handlers/health"
	"github.com/wrale/phantom/cmd/phantom-server/handlers/me"
	"github.com/wrale/phantom/cmd/phantom-server/handlers/token"
	"github.com/wrale/phantom/cmd/phantom-server/handlers/verify"
	"github.com/wrale/phantom/internal/accesstoken"
	"github.com/wrale/phantom/internal/csrf"
	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/logging"
	"github.com/wrale/phantom/internal/ratelimit"
	"github.com/wrale/phantom/internal/session"
	"github.com/wrale/phantom/internal/templates"
)

// dependencies are the components the routes are built from
type dependencies struct {
	flow     *deviceflow.Flow
	tokens   *accesstoken.Issuer
	csrf     *csrf.Manager
	sessions *session.Manager
	login    verify.LoginProvider
}

type server struct {
	router  *chi.Mux
	limiter *ratelimit.Limiter
}

func newServer(cfg Config, logger zerolog.Logger, deps dependencies) (*server, error) {
	tmpls, err := templates.LoadTemplates()
	if err != nil {
		return nil, err
	}

	srv := &server{
		router:  chi.NewRouter(),
		limiter: ratelimit.New(cfg.VerifyRatePerMinute),
	}

	// Forwarding headers are client controlled unless a proxy rewrites them
	if cfg.TrustProxyHeaders {
		srv.router.Use(middleware.RealIP)
	}
	srv.router.Use(logging.Middleware(logger)...)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(requestTimeout(cfg)))

	verifyHandler := verify.New(verify.Config{
		Flow:      deps.flow,
		Templates: tmpls,
		CSRF:      deps.csrf,
		Sessions:  deps.sessions,
		Login:     deps.login,
		BaseURL:   cfg.BaseURL,
	})

	checks := map[string]health.Checker{
		"store":    deps.flow,
		"csrf":     deps.csrf,
		"sessions": deps.sessions,
	}
	if upstream, ok := deps.login.(health.Checker); ok {
		checks["upstream"] = upstream
	}

	r := srv.router
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/device", http.StatusFound)
	})

	// Device and token endpoints answer non-POST methods themselves
	r.Handle("/device/code", device.New(deps.flow))
	r.Handle("/device/token", token.New(deps.flow))

	r.Group(func(r chi.Router) {
		r.Use(srv.limiter.Middleware)
		r.Get("/device", verifyHandler.HandleForm)
		r.Post("/device/approve", verifyHandler.HandleApprove)
		r.Post("/device/deny", verifyHandler.HandleDeny)
	})

	r.Get("/login", verifyHandler.HandleLogin)
	r.Get("/login/callback", verifyHandler.HandleCallback)
	r.Post("/logout", verifyHandler.HandleLogout)

	r.Get("/api/me", me.New(deps.tokens).ServeHTTP)
	r.Get("/health", health.New(checks).WithVersion(Version).ServeHTTP)

	return srv, nil
}

func requestTimeout(cfg Config) time.Duration {
	if cfg.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return cfg.RequestTimeout
}

// Close stops background work owned by the router
func (s *server) Close() {
	s.limiter.Stop()
}
