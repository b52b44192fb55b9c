package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrale/phantom/internal/credentials"
	"github.com/wrale/phantom/internal/poller"
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultClientID  = "phantom-cli"

	envServerURL = "PHANTOM_SERVER_URL"
	envClientID  = "PHANTOM_CLIENT_ID"
)

var (
	errNotLoggedIn   = errors.New("not logged in; run `phantom login`")
	errTokenRejected = errors.New("the server rejected the stored token; run `phantom login` again")
)

// app carries what the commands share. Tests swap the hooks.
type app struct {
	out    io.Writer
	errOut io.Writer

	httpClient  *http.Client
	openBrowser func(string) error
	now         func() time.Time
	pollOptions []poller.Option
	spinner     bool

	store *credentials.Store

	// flag values
	serverURL string
	clientID  string
	configDir string
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:         out,
		errOut:      errOut,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		openBrowser: openBrowser,
		now:         time.Now,
		spinner:     true,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "phantom",
		Short: "Sign in to a phantom server from the terminal",
		Long: `phantom signs this machine in to a phantom server using the OAuth 2.0
device authorization grant. You approve the login in a browser on any
device; the CLI waits for the approval and stores the access token in
~/.phantom.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.openStore()
		},
	}
	root.SetVersionTemplate(`{{printf "phantom version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&a.serverURL, "server-url", "", "phantom server URL (env "+envServerURL+")")
	flags.StringVar(&a.clientID, "client-id", "", "OAuth client id (env "+envClientID+")")
	flags.StringVar(&a.configDir, "config-dir", "", "directory holding the token and config (default ~/.phantom)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newStatusCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) openStore() error {
	if a.store != nil {
		return nil
	}
	dir := a.configDir
	if dir == "" {
		var err error
		if dir, err = credentials.DefaultDir(); err != nil {
			return err
		}
	}
	a.store = credentials.NewStore(dir)
	return nil
}

// settings is the effective CLI configuration
type settings struct {
	ServerURL string
	ClientID  string
}

// settings resolves flags, then environment, then the config file, then defaults
func (a *app) settings(cmd *cobra.Command) (settings, error) {
	cfg, err := a.store.LoadConfig()
	if err != nil {
		return settings{}, err
	}

	s := settings{
		ServerURL: firstNonEmpty(flagValue(cmd, "server-url", a.serverURL), os.Getenv(envServerURL), cfg.ServerURL, defaultServerURL),
		ClientID:  firstNonEmpty(flagValue(cmd, "client-id", a.clientID), os.Getenv(envClientID), cfg.ClientID, defaultClientID),
	}
	s.ServerURL = strings.TrimSuffix(s.ServerURL, "/")
	if err := validateServerURL(s.ServerURL); err != nil {
		return settings{}, err
	}
	return s, nil
}

func flagValue(cmd *cobra.Command, name, value string) string {
	if cmd.Flags().Changed(name) {
		return value
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q: must be an absolute http(s) URL", raw)
	}
	return nil
}
