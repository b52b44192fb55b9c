package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/wrale/phantom/internal/credentials"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration and login state",
		Long: `Show the server and client the CLI would use and whether a usable token is
stored. This does not contact the server; use whoami for that.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(a.out)
			t.SetStyle(table.StyleRounded)
			t.AppendRow(table.Row{"Server", s.ServerURL})
			t.AppendRow(table.Row{"Client ID", s.ClientID})
			t.AppendRow(table.Row{"Config dir", a.store.Dir()})

			tok, err := a.store.LoadToken()
			switch {
			case errors.Is(err, credentials.ErrNoToken):
				t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("Not logged in")})
			case err != nil:
				t.AppendRow(table.Row{"Status", text.FgRed.Sprint("Token unreadable")})
			default:
				t.AppendRow(table.Row{"Status", tokenStatus(tok, s.ServerURL, a.now())})
				t.AppendRow(table.Row{"Expires", formatExpiry(tok.ExpiresAt, a.now())})
				if tok.Scope != "" {
					t.AppendRow(table.Row{"Scope", tok.Scope})
				}
			}
			t.Render()
			return nil
		},
	}
}

func tokenStatus(tok *credentials.Token, serverURL string, now time.Time) string {
	switch {
	case tok.ServerURL != serverURL:
		return text.FgYellow.Sprintf("Logged in to a different server (%s)", tok.ServerURL)
	case tok.Expired(now):
		return text.FgYellow.Sprint("Expired")
	default:
		return text.FgGreen.Sprint("Logged in")
	}
}

// formatExpiry renders an expiry relative to now
func formatExpiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "unknown"
	}
	d := expiresAt.Sub(now).Round(time.Minute)
	if d <= 0 {
		return text.FgYellow.Sprintf("expired %s ago", -d)
	}
	return fmt.Sprintf("in %s (%s)", d, expiresAt.Local().Format(time.RFC1123))
}
