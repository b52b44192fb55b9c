package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BASE_URL", "https://auth.example.com/")
	t.Setenv("TOKEN_SECRET", testSecret)
	t.Setenv("CSRF_SECRET", testSecret)
	t.Setenv("OAUTH_CLIENT_ID", "phantom")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.BaseURL != "https://auth.example.com" {
		t.Errorf("BaseURL = %q, trailing slash not trimmed", cfg.BaseURL)
	}
	if cfg.TokenIssuer != cfg.BaseURL {
		t.Errorf("TokenIssuer = %q, want base URL", cfg.TokenIssuer)
	}
	if cfg.StoreBackend != backendRedis || cfg.Port != 8080 {
		t.Errorf("backend %q port %d", cfg.StoreBackend, cfg.Port)
	}
	if cfg.CodeExpiry != 30*time.Minute || cfg.PollInterval != 5*time.Second || cfg.TokenLifetime != 24*time.Hour {
		t.Errorf("flow defaults: expiry %v interval %v token %v", cfg.CodeExpiry, cfg.PollInterval, cfg.TokenLifetime)
	}
	if cfg.TrustProxyHeaders {
		t.Error("proxy headers must not be trusted by default")
	}
	if !cfg.secureCookies() {
		t.Error("https base URL should use secure cookies")
	}

	login, err := cfg.loginConfig()
	if err != nil {
		t.Fatalf("loginConfig() error = %v", err)
	}
	if login.RedirectURI != "https://auth.example.com/login/callback" {
		t.Errorf("RedirectURI = %q", login.RedirectURI)
	}
	if diff := cmp.Diff([]string{"read:user", "user:email"}, login.Scopes); diff != "" {
		t.Errorf("github scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ALLOWED_CLIENTS", "cli,tv")
	t.Setenv("OAUTH_PROVIDER", "keycloak")
	t.Setenv("OAUTH_KEYCLOAK_URL", "https://sso.example.com")
	t.Setenv("OAUTH_KEYCLOAK_REALM", "staff")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if diff := cmp.Diff([]string{"cli", "tv"}, cfg.AllowedClients); diff != "" {
		t.Errorf("AllowedClients mismatch (-want +got):\n%s", diff)
	}

	login, err := cfg.loginConfig()
	if err != nil {
		t.Fatalf("loginConfig() error = %v", err)
	}
	if want := "https://sso.example.com/realms/staff/protocol/openid-connect/auth"; login.Endpoints.AuthURL != want {
		t.Errorf("AuthURL = %q, want %q", login.Endpoints.AuthURL, want)
	}
	if diff := cmp.Diff([]string{"openid", "profile", "email"}, login.Scopes); diff != "" {
		t.Errorf("keycloak scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			BaseURL:       "http://localhost:8080",
			StoreBackend:  backendMemory,
			PurgeInterval: time.Minute,
			TokenSecret:   testSecret,
			CSRFSecret:    testSecret,
			OAuthProvider: providerGitHub,
			OAuthClientID: "phantom",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "relative base url", mutate: func(c *Config) { c.BaseURL = "/device" }, wantErr: "BASE_URL"},
		{name: "unknown backend", mutate: func(c *Config) { c.StoreBackend = "etcd" }, wantErr: "STORE_BACKEND"},
		{name: "redis without url", mutate: func(c *Config) { c.StoreBackend = backendRedis }, wantErr: "REDIS_URL"},
		{name: "mongo without uri", mutate: func(c *Config) { c.StoreBackend = backendMongo }, wantErr: "MONGO_URI"},
		{name: "short token secret", mutate: func(c *Config) { c.TokenSecret = "short" }, wantErr: "TOKEN_SECRET"},
		{name: "short csrf secret", mutate: func(c *Config) { c.CSRFSecret = "short" }, wantErr: "CSRF_SECRET"},
		{name: "no purge interval", mutate: func(c *Config) { c.PurgeInterval = 0 }, wantErr: "PURGE_INTERVAL"},
		{name: "unknown provider", mutate: func(c *Config) { c.OAuthProvider = "myspace" }, wantErr: "OAUTH_PROVIDER"},
		{name: "keycloak without realm", mutate: func(c *Config) {
			c.OAuthProvider = providerKeycloak
			c.OAuthKeycloakURL = "https://sso.example.com"
		}, wantErr: "realm"},
		{name: "custom without urls", mutate: func(c *Config) { c.OAuthProvider = providerCustom }, wantErr: "OAUTH_AUTH_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate() error = %v", err)
				}
				if cfg.secureCookies() {
					t.Error("http base URL should not use secure cookies")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
