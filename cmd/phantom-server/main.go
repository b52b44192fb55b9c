package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wrale/phantom/internal/accesstoken"
	"github.com/wrale/phantom/internal/csrf"
	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/logging"
	"github.com/wrale/phantom/internal/oauth"
	"github.com/wrale/phantom/internal/session"
)

// Version is set by the build process
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "phantom-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	}
	logger = logger.With().Str("version", Version).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error().Err(err).Msg("closing stores")
		}
	}()

	deps, err := buildDependencies(cfg, logger, stores)
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, logger, deps)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Int("port", cfg.Port).Str("base_url", cfg.BaseURL).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return deps.flow.RunPurge(gctx, cfg.PurgeInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			return httpServer.Close()
		}
		return nil
	})

	return g.Wait()
}

// buildDependencies wires the domain components over the opened stores
func buildDependencies(cfg Config, logger zerolog.Logger, stores *backends) (dependencies, error) {
	tokens, err := accesstoken.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenLifetime)
	if err != nil {
		return dependencies{}, fmt.Errorf("creating token issuer: %w", err)
	}

	opts := []deviceflow.Option{
		deviceflow.WithExpiryDuration(cfg.CodeExpiry),
		deviceflow.WithPollInterval(cfg.PollInterval),
		deviceflow.WithRetainExpired(cfg.RetainExpired),
		deviceflow.WithLogger(logger),
	}
	if len(cfg.AllowedClients) > 0 {
		opts = append(opts, deviceflow.WithAllowedClients(cfg.AllowedClients...))
	}

	loginCfg, err := cfg.loginConfig()
	if err != nil {
		return dependencies{}, err
	}
	provider, err := oauth.NewProvider(loginCfg)
	if err != nil {
		return dependencies{}, fmt.Errorf("creating login provider: %w", err)
	}

	return dependencies{
		flow:     deviceflow.NewFlow(stores.devices, tokens, cfg.BaseURL, opts...),
		tokens:   tokens,
		csrf:     csrf.NewManager(stores.csrf, []byte(cfg.CSRFSecret), cfg.CSRFTokenExpiry),
		sessions: session.NewManager(stores.sessions, cfg.SessionLifetime, cfg.secureCookies()),
		login:    provider,
	}, nil
}
