package twitchauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streamfx/tokenstore"
)

// State is the auth manager lifecycle state. All states are recoverable:
// UpdateConfig resets to Uninitialized from anywhere.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNotInitialized is returned by consumers of the auth provider when
// the manager is not READY.
var ErrNotInitialized = errors.New("authentication not initialized")

// Credentials is the manager's configuration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Provider hands out the current access token; the chat adapter reads it
// at connect time.
type Provider struct{ m *Manager }

// AccessToken returns the current access token.
func (p *Provider) AccessToken() string {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.m.tokens.AccessToken
}

// IRCToken returns the token in the "oauth:" form the IRC gateway expects.
func (p *Provider) IRCToken() string {
	return "oauth:" + p.AccessToken()
}

// Manager is the per-platform auth state machine.
type Manager struct {
	mu     sync.Mutex
	state  State
	creds  Credentials
	store  *tokenstore.Store
	hc     *http.Client
	tokens tokenstore.Tokens
	userID string
	login  string

	// onAuthRequired receives the authorize URL when interactive
	// re-authorization is needed; typically it logs the URL for the
	// operator and the HTTP callback completes the flow.
	onAuthRequired func(authURL string)
}

// NewManager builds a manager over the given token store.
func NewManager(creds Credentials, store *tokenstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		state: StateUninitialized,
		creds: creds,
		store: store,
		hc:    http.DefaultClient,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the HTTP client (tests point it at a mock).
func WithHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) { m.hc = hc }
}

// WithAuthRequiredHook installs the interactive-flow trigger.
func WithAuthRequiredHook(fn func(authURL string)) ManagerOption {
	return func(m *Manager) { m.onAuthRequired = fn }
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UpdateConfig swaps credentials and resets the machine to Uninitialized
// from any state; the next Initialize re-validates.
func (m *Manager) UpdateConfig(creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	m.state = StateUninitialized
	m.userID = ""
	slog.Info("auth config updated; state reset", slog.String("state", m.state.String()))
}

// Initialize loads stored tokens and validates them. From Ready it is a
// no-op; from Uninitialized or Error it runs the full pipeline. When the
// tokens are unusable it triggers the interactive flow (if hooked) and
// parks in Error until CompleteAuthorization or a retry succeeds.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	creds := m.creds
	m.mu.Unlock()

	tokens, err := m.store.Load()
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		m.fail(fmt.Sprintf("load tokens: %v", err))
		return fmt.Errorf("load tokens: %w", err)
	}

	res := ValidateTokens(ctx, m.hc, creds.ClientID, creds.ClientSecret, tokens.AccessToken, tokens.RefreshToken)
	if res.RefreshedTokens != nil {
		tokens = m.persistRefresh(tokens, res.RefreshedTokens)
	}
	if !res.IsValid {
		m.fail(strings.Join(res.Errors, "; "))
		if res.NeedsNewTokens {
			m.requestInteractiveAuth()
		}
		return fmt.Errorf("token validation failed: %s", strings.Join(res.Errors, "; "))
	}

	m.mu.Lock()
	m.tokens = tokens
	m.userID = res.Introspection.UserID
	m.login = res.Introspection.Login
	m.state = StateReady
	m.mu.Unlock()
	slog.Info("authentication ready", slog.String("login", res.Introspection.Login))
	return nil
}

// AuthProvider returns the token provider; fails unless READY.
func (m *Manager) AuthProvider() (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return nil, ErrNotInitialized
	}
	return &Provider{m: m}, nil
}

// UserID returns the authenticated user's id; fails unless READY.
func (m *Manager) UserID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return "", ErrNotInitialized
	}
	return m.userID, nil
}

// Login returns the authenticated login name; fails unless READY.
func (m *Manager) Login() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return "", ErrNotInitialized
	}
	return m.login, nil
}

// AuthorizeURL builds the interactive authorization URL with the
// required scope set.
func (m *Manager) AuthorizeURL(state string) (string, error) {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()
	return BuildAuthorizeURL(creds.ClientID, creds.RedirectURI, strings.Join(RequiredScopes, " "), state)
}

// CompleteAuthorization exchanges the callback code, persists the new
// tokens and re-validates in memory — no restart required.
func (m *Manager) CompleteAuthorization(ctx context.Context, code string) error {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	res, err := ExchangeAuthCode(ctx, m.hc, creds.ClientID, creds.ClientSecret, code, creds.RedirectURI)
	if err != nil {
		return fmt.Errorf("auth code exchange: %w", err)
	}
	tokens := tokenstore.Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    ComputeExpiry(res.ExpiresIn),
		Scope:        strings.Join(res.Scope, " "),
	}
	if err := m.store.Save(tokens); err != nil {
		slog.Warn("failed to persist tokens after authorization", slog.Any("err", err))
	}

	val := ValidateTokens(ctx, m.hc, creds.ClientID, creds.ClientSecret, tokens.AccessToken, tokens.RefreshToken)
	if !val.IsValid {
		m.fail(strings.Join(val.Errors, "; "))
		return fmt.Errorf("tokens invalid after authorization: %s", strings.Join(val.Errors, "; "))
	}

	m.mu.Lock()
	m.tokens = tokens
	m.userID = val.Introspection.UserID
	m.login = val.Introspection.Login
	m.state = StateReady
	m.mu.Unlock()
	slog.Info("interactive authorization complete", slog.String("login", val.Introspection.Login))
	return nil
}

// StartRefresher launches the background refresh loop: jittered wake-ups,
// refresh when remaining lifetime fall inside the window, persist on
// success.
func (m *Manager) StartRefresher(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	go func() {
		//nolint:gosec // G404: jitter scheduling only
		initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: jitter scheduling only
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			tokens, err := m.store.Load()
			if err != nil || tokens.RefreshToken == "" {
				continue
			}
			if time.Until(tokens.ExpiresAt) > window {
				continue
			}
			m.mu.Lock()
			creds := m.creds
			m.mu.Unlock()
			rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			res, err := RefreshToken(rctx, m.hc, creds.ClientID, creds.ClientSecret, tokens.RefreshToken)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", "twitch"), slog.Any("err", err))
				if errors.Is(err, ErrInvalidGrant) {
					m.requestInteractiveAuth()
				}
				continue
			}
			m.persistRefresh(tokens, res)
			slog.Info("token refreshed", slog.String("provider", "twitch"))
		}
	}()
}

// persistRefresh merges a refresh result into the stored tokens and
// rewrites the token file.
func (m *Manager) persistRefresh(old tokenstore.Tokens, res *RefreshResult) tokenstore.Tokens {
	tokens := tokenstore.Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    ComputeExpiry(res.ExpiresIn),
		Scope:        strings.Join(res.Scope, " "),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = old.RefreshToken
	}
	if tokens.Scope == "" {
		tokens.Scope = old.Scope
	}
	if err := m.store.Save(tokens); err != nil {
		slog.Warn("token persist failed", slog.Any("err", err))
	}
	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()
	return tokens
}

func (m *Manager) fail(reason string) {
	m.mu.Lock()
	m.state = StateError
	m.mu.Unlock()
	slog.Error("authentication failed", slog.String("reason", reason))
}

func (m *Manager) requestInteractiveAuth() {
	if m.onAuthRequired == nil {
		return
	}
	u, err := m.AuthorizeURL("")
	if err != nil {
		slog.Warn("cannot build authorize URL", slog.Any("err", err))
		return
	}
	m.onAuthRequired(u)
}
