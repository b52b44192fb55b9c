package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/wrale/phantom/internal/credentials"
	"github.com/wrale/phantom/internal/poller"
)

func newLoginCmd(a *app) *cobra.Command {
	var noBrowser, force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the device authorization grant",
		Long: `Request a device code, show it, and wait while you approve the login in a
browser. The browser is opened for you unless --no-browser is set.

Examples:
  phantom login
  phantom login --no-browser
  phantom login --server-url https://auth.example.com --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogin(cmd, noBrowser, force)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the verification URL instead of opening a browser")
	cmd.Flags().BoolVar(&force, "force", false, "log in again even if the stored token is still valid")
	return cmd
}

func (a *app) runLogin(cmd *cobra.Command, noBrowser, force bool) error {
	s, err := a.settings(cmd)
	if err != nil {
		return err
	}

	if !force {
		existing, err := a.store.LoadToken()
		switch {
		case err == nil && existing.ServerURL == s.ServerURL && !existing.Expired(a.now()):
			fmt.Fprintf(a.out, "Already logged in to %s (token expires %s).\n", s.ServerURL, existing.ExpiresAt.Local().Format(time.RFC1123))
			fmt.Fprintln(a.out, "Use --force to log in again.")
			return nil
		case err != nil && !errors.Is(err, credentials.ErrNoToken):
			fmt.Fprintf(a.errOut, "%s ignoring unreadable stored token: %v\n", text.FgYellow.Sprint("Warning:"), err)
		}
	}

	config := &oauth2.Config{
		ClientID: s.ClientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: s.ServerURL + "/device/code",
			TokenURL:      s.ServerURL + "/device/token",
		},
	}

	var spin *spinner.Spinner
	stopSpinner := func() {
		if spin != nil {
			spin.Stop()
			spin = nil
		}
	}
	defer stopSpinner()

	observer := func(e poller.Event) {
		switch e.State {
		case poller.StateAwaitingApproval:
			a.showCode(e.Authorization, noBrowser)
			if a.spinner {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.errOut))
				spin.Suffix = " Waiting for approval..."
				spin.Start()
			}
		case poller.StateAuthenticated, poller.StateFailed, poller.StateTimedOut:
			stopSpinner()
		}
	}

	opts := append([]poller.Option{
		poller.WithHTTPClient(a.httpClient),
		poller.WithObserver(observer),
		poller.WithSink(poller.TokenSinkFunc(func(tok *oauth2.Token) error {
			return a.store.SaveToken(credentials.NewToken(tok, s.ServerURL, a.now()))
		})),
	}, a.pollOptions...)

	if _, err := poller.New(config, opts...).Run(cmd.Context()); err != nil {
		return loginError(err)
	}

	fmt.Fprintf(a.out, "%s Logged in to %s\n", text.FgGreen.Sprint("✓"), s.ServerURL)
	return nil
}

func (a *app) showCode(auth *oauth2.DeviceAuthResponse, noBrowser bool) {
	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "Your code is: %s\n", text.Bold.Sprint(auth.UserCode))
	fmt.Fprintf(a.out, "Approve the login at %s\n", text.FgCyan.Sprint(auth.VerificationURI))
	fmt.Fprintln(a.out)

	target := auth.VerificationURIComplete
	if target == "" {
		target = auth.VerificationURI
	}
	if noBrowser {
		return
	}
	if err := a.openBrowser(target); err != nil {
		fmt.Fprintf(a.errOut, "%s could not open a browser: %v\n", text.FgYellow.Sprint("Warning:"), err)
		return
	}
	fmt.Fprintln(a.out, "A browser window has been opened for you.")
}

// loginError adds the remediation to terminal login failures
func loginError(err error) error {
	switch {
	case errors.Is(err, poller.ErrAccessDenied):
		return fmt.Errorf("login was denied in the browser: %w; run `phantom login` again", err)
	case errors.Is(err, poller.ErrExpired),
		errors.Is(err, poller.ErrInvalidGrant),
		errors.Is(err, poller.ErrTimedOut):
		return fmt.Errorf("%w; run `phantom login` again", err)
	default:
		return err
	}
}
