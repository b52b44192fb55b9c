package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrale/phantom/internal/credentials"
)

// identity is the body of GET /api/me
type identity struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who the stored token belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.loadToken()
			if err != nil {
				return err
			}

			id, err := a.fetchIdentity(cmd, tok)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "User:    %s\n", id.UserID)
			fmt.Fprintf(a.out, "Client:  %s\n", id.ClientID)
			if id.Scope != "" {
				fmt.Fprintf(a.out, "Scope:   %s\n", id.Scope)
			}
			fmt.Fprintf(a.out, "Server:  %s\n", tok.ServerURL)
			fmt.Fprintf(a.out, "Expires: %s\n", formatExpiry(id.ExpiresAt, a.now()))
			return nil
		},
	}
}

// loadToken returns the stored token or errNotLoggedIn
func (a *app) loadToken() (*credentials.Token, error) {
	tok, err := a.store.LoadToken()
	if err != nil {
		if errors.Is(err, credentials.ErrNoToken) {
			return nil, errNotLoggedIn
		}
		return nil, err
	}
	return tok, nil
}

func (a *app) fetchIdentity(cmd *cobra.Command, tok *credentials.Token) (*identity, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, tok.ServerURL+"/api/me", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting %s: %w", tok.ServerURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errTokenRejected
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected response from %s: %s: %s", tok.ServerURL, resp.Status, body)
	}

	var id identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &id, nil
}
