// Package credentials persists the CLI's access token and settings under ~/.phantom
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDirName is created in the user's home directory
	DefaultDirName = ".phantom"

	// ExpiryMargin treats tokens this close to expiry as already expired
	ExpiryMargin = 5 * time.Minute

	tokenFile     = "token.json"
	configFile    = "config.yaml"
	gitignoreFile = ".gitignore"
)

// ErrNoToken means no token has been stored
var ErrNoToken = errors.New("not logged in")

// Token is the stored result of a successful login
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope,omitempty"`
	ServerURL   string    `json:"server_url"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewToken converts a token endpoint response for storage
func NewToken(tok *oauth2.Token, serverURL string, now time.Time) *Token {
	t := &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ServerURL:   serverURL,
		ExpiresAt:   tok.Expiry,
		CreatedAt:   now,
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}

// Expired reports whether the token is expired or expires within ExpiryMargin.
// Tokens without an expiry are treated as expired.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return t.ExpiresAt.Sub(now) < ExpiryMargin
}

// Config is the CLI's persisted settings
type Config struct {
	ServerURL string `yaml:"server_url,omitempty"`
	ClientID  string `yaml:"client_id,omitempty"`
}

// Store reads and writes files in a single directory
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir returns ~/.phantom
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Dir returns the directory the store writes to
func (s *Store) Dir() string {
	return s.dir
}

// SaveToken replaces the stored token
func (s *Store) SaveToken(t *Token) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	return s.writeFile(tokenFile, data)
}

// LoadToken returns the stored token or ErrNoToken
func (s *Store) LoadToken() (*Token, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, tokenFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("reading token: %w", err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if t.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &t, nil
}

// DeleteToken removes the stored token. It returns ErrNoToken if there was none.
func (s *Store) DeleteToken() error {
	err := os.Remove(filepath.Join(s.dir, tokenFile))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// LoadConfig returns the stored settings. A missing file yields the zero Config.
func (s *Store) LoadConfig() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filepath.Join(s.dir, configFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", configFile, err)
	}
	return cfg, nil
}

// SaveConfig replaces the stored settings
func (s *Store) SaveConfig(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return s.writeFile(configFile, data)
}

// writeFile replaces name atomically with owner-only permissions
func (s *Store) writeFile(name string, data []byte) error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

// ensureDir creates the directory with a .gitignore that excludes everything in it
func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}

	path := filepath.Join(s.dir, gitignoreFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte("*\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", gitignoreFile, err)
	}
	return nil
}
