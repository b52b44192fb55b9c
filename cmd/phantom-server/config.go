package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wrale/phantom/internal/oauth"
)

// Store backends
const (
	backendRedis  = "redis"
	backendMongo  = "mongo"
	backendMemory = "memory"
)

// Upstream login presets
const (
	providerGitHub   = "github"
	providerKeycloak = "keycloak"
	providerCustom   = "custom"
)

// minSecretLength applies to the token and CSRF signing keys
const minSecretLength = 32

// Config holds server configuration loaded from environment variables
type Config struct {
	Port    int    `envconfig:"PORT" default:"8080"`
	BaseURL string `envconfig:"BASE_URL" required:"true"`

	// Storage
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"redis"`
	RedisURL      string `envconfig:"REDIS_URL"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"phantom"`

	// Device flow
	CodeExpiry     time.Duration `envconfig:"CODE_EXPIRY" default:"30m"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	RetainExpired  time.Duration `envconfig:"RETAIN_EXPIRED" default:"10m"`
	PurgeInterval  time.Duration `envconfig:"PURGE_INTERVAL" default:"1m"`
	AllowedClients []string      `envconfig:"ALLOWED_CLIENTS"`

	// Access tokens
	TokenSecret   string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenLifetime time.Duration `envconfig:"TOKEN_LIFETIME" default:"24h"`
	TokenIssuer   string        `envconfig:"TOKEN_ISSUER"`

	// Browser
	CSRFSecret          string        `envconfig:"CSRF_SECRET" required:"true"`
	CSRFTokenExpiry     time.Duration `envconfig:"CSRF_TOKEN_EXPIRY" default:"15m"`
	SessionLifetime     time.Duration `envconfig:"SESSION_LIFETIME" default:"12h"`
	VerifyRatePerMinute int           `envconfig:"VERIFY_RATE_PER_MINUTE" default:"30"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	// Upstream login
	OAuthProvider      string   `envconfig:"OAUTH_PROVIDER" default:"github"`
	OAuthClientID      string   `envconfig:"OAUTH_CLIENT_ID" required:"true"`
	OAuthClientSecret  string   `envconfig:"OAUTH_CLIENT_SECRET"`
	OAuthScopes        []string `envconfig:"OAUTH_SCOPES"`
	OAuthKeycloakURL   string   `envconfig:"OAUTH_KEYCLOAK_URL"`
	OAuthKeycloakRealm string   `envconfig:"OAUTH_KEYCLOAK_REALM"`
	OAuthAuthURL       string   `envconfig:"OAUTH_AUTH_URL"`
	OAuthTokenURL      string   `envconfig:"OAUTH_TOKEN_URL"`
	OAuthUserInfoURL   string   `envconfig:"OAUTH_USERINFO_URL"`
	OAuthHealthURL     string   `envconfig:"OAUTH_HEALTH_URL"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// HTTP server
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// loadConfig reads and validates the environment
func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.TokenIssuer == "" {
		c.TokenIssuer = c.BaseURL
	}

	switch c.StoreBackend {
	case backendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	case backendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	case backendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if len(c.TokenSecret) < minSecretLength {
		return fmt.Errorf("TOKEN_SECRET must be at least %d bytes", minSecretLength)
	}
	if len(c.CSRFSecret) < minSecretLength {
		return fmt.Errorf("CSRF_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("PURGE_INTERVAL must be positive")
	}

	_, err = c.loginEndpoints()
	return err
}

// secureCookies marks cookies Secure whenever the public URL is https
func (c Config) secureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// loginEndpoints resolves the upstream provider preset
func (c Config) loginEndpoints() (oauth.Endpoints, error) {
	switch c.OAuthProvider {
	case providerGitHub:
		return oauth.GitHubEndpoints(), nil
	case providerKeycloak:
		return oauth.KeycloakEndpoints(c.OAuthKeycloakURL, c.OAuthKeycloakRealm)
	case providerCustom:
		if c.OAuthAuthURL == "" || c.OAuthTokenURL == "" || c.OAuthUserInfoURL == "" {
			return oauth.Endpoints{}, fmt.Errorf("OAUTH_AUTH_URL, OAUTH_TOKEN_URL and OAUTH_USERINFO_URL are required for the custom provider")
		}
		return oauth.Endpoints{
			AuthURL:     c.OAuthAuthURL,
			TokenURL:    c.OAuthTokenURL,
			UserInfoURL: c.OAuthUserInfoURL,
			HealthURL:   c.OAuthHealthURL,
		}, nil
	default:
		return oauth.Endpoints{}, fmt.Errorf("unknown OAUTH_PROVIDER %q", c.OAuthProvider)
	}
}

// loginScopes defaults to what each preset needs for userinfo
func (c Config) loginScopes() []string {
	if len(c.OAuthScopes) > 0 {
		return c.OAuthScopes
	}
	if c.OAuthProvider == providerGitHub {
		return []string{"read:user", "user:email"}
	}
	return []string{"openid", "profile", "email"}
}

// loginConfig builds the upstream provider configuration
func (c Config) loginConfig() (oauth.Config, error) {
	endpoints, err := c.loginEndpoints()
	if err != nil {
		return oauth.Config{}, err
	}
	return oauth.Config{
		ClientID:     c.OAuthClientID,
		ClientSecret: c.OAuthClientSecret,
		RedirectURI:  c.BaseURL + "/login/callback",
		Scopes:       c.loginScopes(),
		Endpoints:    endpoints,
	}, nil
}
