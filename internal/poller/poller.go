// Package poller runs the client side of the device authorization grant
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DeviceCodeGrantType is the RFC 8628 grant type
	DeviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// DefaultMaxTransportFailures is how many consecutive failed polls end the login
	DefaultMaxTransportFailures = 3

	defaultInterval   = 5 * time.Second
	slowDownIncrement = 5 * time.Second
	defaultLifetime   = 30 * time.Minute
	maxBodyBytes      = 1 << 20
)

// Terminal errors returned by Run
var (
	ErrAccessDenied = errors.New("authorization denied")
	ErrExpired      = errors.New("device code expired")
	ErrInvalidGrant = errors.New("device code rejected")
	ErrTimedOut     = errors.New("timed out waiting for authorization")
	ErrTransport    = errors.New("authorization server unreachable")
)

// State is a step of a login attempt
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateAwaitingApproval
	StatePolling
	StateAuthenticated
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event reports a state change to the Observer
type Event struct {
	State State

	// Authorization is set from StateAwaitingApproval on
	Authorization *oauth2.DeviceAuthResponse

	// Interval is the wait before the next poll
	Interval time.Duration

	// Err is set for StateFailed and StateTimedOut
	Err error
}

// Observer is notified of every state change
type Observer func(Event)

// TokenSink receives the token of a successful login
type TokenSink interface {
	StoreToken(tok *oauth2.Token) error
}

// TokenSinkFunc adapts a function to TokenSink
type TokenSinkFunc func(tok *oauth2.Token) error

func (f TokenSinkFunc) StoreToken(tok *oauth2.Token) error {
	return f(tok)
}

// Poller drives one login at a time. It is not safe for concurrent use.
type Poller struct {
	config      *oauth2.Config
	client      *http.Client
	observer    Observer
	sink        TokenSink
	maxFailures int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	state       State
}

// Option configures a Poller
type Option func(*Poller)

// WithHTTPClient sets the client used for both endpoints
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) {
		p.client = c
	}
}

// WithObserver registers a state change callback
func WithObserver(o Observer) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithSink sets where the token goes on success
func WithSink(s TokenSink) Option {
	return func(p *Poller) {
		p.sink = s
	}
}

// WithMaxTransportFailures overrides DefaultMaxTransportFailures
func WithMaxTransportFailures(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

// WithClock replaces the time source and the wait between polls
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// New creates a poller. config must carry the client id and both the
// device authorization and token endpoints.
func New(config *oauth2.Config, opts ...Option) *Poller {
	p := &Poller{
		config:      config,
		client:      &http.Client{Timeout: 30 * time.Second},
		maxFailures: DefaultMaxTransportFailures,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state
func (p *Poller) State() State {
	return p.state
}

// Run performs a complete login. Cancelling ctx stops it without any
// further request and nothing is stored.
func (p *Poller) Run(ctx context.Context) (*oauth2.Token, error) {
	p.transition(Event{State: StateRequesting})

	auth, err := p.config.DeviceAuth(context.WithValue(ctx, oauth2.HTTPClient, p.client))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.fail(requestError(err))
	}

	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	lifetime := defaultLifetime
	if !auth.Expiry.IsZero() {
		lifetime = time.Until(auth.Expiry).Round(time.Second)
	}
	deadline := p.now().Add(lifetime)

	p.transition(Event{State: StateAwaitingApproval, Authorization: auth, Interval: interval})

	failures := 0
	for {
		if err := p.sleep(ctx, interval); err != nil {
			return nil, err
		}
		if !p.now().Before(deadline) {
			p.transition(Event{State: StateTimedOut, Authorization: auth, Err: ErrTimedOut})
			return nil, ErrTimedOut
		}

		p.transition(Event{State: StatePolling, Authorization: auth, Interval: interval})
		tok, err := p.exchange(ctx, auth.DeviceCode)
		if err == nil {
			if p.sink != nil {
				if err := p.sink.StoreToken(tok); err != nil {
					return nil, p.fail(fmt.Errorf("storing token: %w", err))
				}
			}
			p.transition(Event{State: StateAuthenticated, Authorization: auth})
			return tok, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var re *oauth2.RetrieveError
		if !errors.As(err, &re) {
			failures++
			if failures >= p.maxFailures {
				return nil, p.fail(fmt.Errorf("%w: %v", ErrTransport, err))
			}
			continue
		}

		switch re.ErrorCode {
		case "authorization_pending":
			failures = 0
		case "slow_down":
			failures = 0
			interval += slowDownIncrement
		case "access_denied":
			return nil, p.fail(ErrAccessDenied)
		case "expired_token":
			return nil, p.fail(ErrExpired)
		case "invalid_grant":
			return nil, p.fail(ErrInvalidGrant)
		case "server_error", "temporarily_unavailable":
			failures++
			if failures >= p.maxFailures {
				return nil, p.fail(fmt.Errorf("%w: %v", ErrTransport, err))
			}
		default:
			return nil, p.fail(fmt.Errorf("token request failed: %w", err))
		}
	}
}

func (p *Poller) fail(err error) error {
	p.transition(Event{State: StateFailed, Err: err})
	return err
}

func (p *Poller) transition(e Event) {
	p.state = e.State
	if p.observer != nil {
		p.observer(e)
	}
}

// exchange makes one token request. Error responses come back as *oauth2.RetrieveError.
func (p *Poller) exchange(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":  {DeviceCodeGrantType},
		"device_code": {deviceCode},
		"client_id":   {p.config.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
			return nil, fmt.Errorf("token endpoint returned %s", resp.Status)
		}
		return nil, &oauth2.RetrieveError{
			Response:         resp,
			Body:             body,
			ErrorCode:        e.Error,
			ErrorDescription: e.ErrorDescription,
		}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = p.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]interface{}{"scope": tr.Scope}), nil
}

// requestError classifies a failed device authorization request
func requestError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return fmt.Errorf("requesting device code: %s: %s", re.ErrorCode, re.ErrorDescription)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
