// Package session owns the in-memory authentication state: it derives it from
// the token store at startup and exposes login/register/logout/refresh
// operations that mutate both the store and memory. It never calls through
// the gateway; the gateway depends on this package's behavior via an
// interface, not the other way around.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/evlasova/capgallery/internal/api"
	"github.com/evlasova/capgallery/internal/errs"
	"github.com/evlasova/capgallery/internal/model"
)

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

// TokenStore is the durable credential storage consumed by the manager.
// Implemented by tokenstore.FileStore and tokenstore.MemStore.
type TokenStore interface {
	Save(access, refresh string) error
	Clear() error
	Access() string
	Refresh() string
	SaveIdentity(id model.Identity) error
	Identity() (model.Identity, bool)
	ClearIdentity() error
}

// Notifier surfaces unsolicited user-visible notices (the toast surface).
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)   {}

// Manager is the session manager. Construct once at process start with New,
// call Init before use, and pass by reference to every component needing it.
type Manager struct {
	store   TokenStore
	hc      *http.Client
	baseURL string
	notify  Notifier
	log     *zap.Logger

	mu       sync.Mutex
	state    State
	ready    bool
	identity *model.Identity

	refreshGroup singleflight.Group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the default client used for the auth endpoints.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.hc = hc }
}

// WithNotifier routes unsolicited notices (session expiry) to n.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notify = n }
}

// WithLogger enables diagnostic logging.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New constructs an uninitialized Manager over the given store and base URL.
func New(store TokenStore, baseURL string, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		hc:      &http.Client{Timeout: api.DefaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		notify:  NopNotifier{},
		log:     zap.NewNop(),
		state:   StateUninitialized,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init derives session state from the token store. If the access token is
// absent or expired while a refresh token is present, one silent refresh is
// attempted before readiness is declared. Readiness is reached exactly once
// and never reverts; it gates view rendering in the consumer.
func (m *Manager) Init(ctx context.Context) {
	if id, ok := m.store.Identity(); ok {
		m.mu.Lock()
		m.identity = &id
		m.state = StateAuthenticated
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		m.state = StateAnonymous
		m.mu.Unlock()
	}

	access := m.store.Access()
	if (access == "" || tokenExpired(access)) && m.store.Refresh() != "" {
		if _, err := m.Refresh(ctx); err != nil {
			m.log.Debug("silent refresh at startup failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
}

// Ready reports whether Init completed. Never reverts to false.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the current in-memory identity, if authenticated.
func (m *Manager) Identity() (model.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return model.Identity{}, false
	}
	return *m.identity, true
}

// AccessToken returns the stored access token ("" when absent).
// Part of the gateway's TokenSource contract.
func (m *Manager) AccessToken() string { return m.store.Access() }

// Login authenticates against the backend. On success the credential pair and
// identity are persisted and the session becomes authenticated; on failure
// state is left untouched and a typed error carries the extracted reason.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", errs.ErrValidation)
	}

	var tokens model.Tokens
	err := m.postJSON(ctx, "/auth/login/", map[string]string{
		"username": username,
		"password": password,
	}, &tokens)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	id := model.Identity{Username: username}
	m.adopt(tokens, id)
	return nil
}

// Register creates an account. The backend is the sole authority on password
// confirmation and uniqueness; only cheap pre-checks run locally. When the
// response carries credentials the session authenticates immediately,
// otherwise the caller is expected to log in next.
func (m *Manager) Register(ctx context.Context, username, email, password, confirm string) error {
	switch {
	case username == "" || email == "" || password == "":
		return fmt.Errorf("%w: username, email and password are required", errs.ErrValidation)
	case password != confirm:
		return fmt.Errorf("%w: passwords do not match", errs.ErrValidation)
	}

	var out struct {
		model.Tokens
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	err := m.postJSON(ctx, "/auth/register/", map[string]string{
		"username":  username,
		"email":     email,
		"password":  password,
		"password2": confirm,
	}, &out)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	if out.Access != "" || out.Refresh != "" {
		m.adopt(out.Tokens, model.Identity{Username: username, Email: email})
	}
	return nil
}

// Logout clears the store and in-memory identity synchronously. Idempotent;
// never calls the backend.
func (m *Manager) Logout() {
	if err := m.store.Clear(); err != nil {
		m.log.Warn("clearing token store", zap.Error(err))
	}
	m.mu.Lock()
	m.identity = nil
	m.state = StateAnonymous
	m.mu.Unlock()
}

// Refresh obtains a new access token via the stored refresh token. Without a
// refresh token it returns ("", nil) immediately with zero network calls.
// Concurrent callers share a single in-flight refresh. A refresh the backend
// rejects is the only path that forces an unsolicited logout: it clears
// everything, transitions to anonymous, and surfaces one "session expired"
// notice per failed flight. Cancellation and transport timeouts pass through
// without touching credentials.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	if m.store.Refresh() == "" {
		return "", nil
	}
	v, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	refresh := m.store.Refresh()
	if refresh == "" {
		return "", nil
	}

	var tokens model.Tokens
	err := m.postJSON(ctx, "/auth/login/refresh/", map[string]string{"refresh": refresh}, &tokens)
	if err != nil {
		if transientErr(err) {
			return "", err
		}
		m.expire()
		return "", fmt.Errorf("%w: %v", errs.ErrSessionExpired, err)
	}

	if err := m.store.Save(tokens.Access, tokens.Refresh); err != nil {
		m.log.Warn("persisting refreshed tokens", zap.Error(err))
	}
	return tokens.Access, nil
}

// expire clears credentials after a failed refresh and notifies exactly once.
func (m *Manager) expire() {
	m.Logout()
	m.notify.Error("Session expired. Please log in again.")
}

func (m *Manager) adopt(tokens model.Tokens, id model.Identity) {
	if err := m.store.Save(tokens.Access, tokens.Refresh); err != nil {
		m.log.Warn("persisting tokens", zap.Error(err))
	}
	if err := m.store.SaveIdentity(id); err != nil {
		m.log.Warn("persisting identity", zap.Error(err))
	}
	m.mu.Lock()
	m.identity = &id
	m.state = StateAuthenticated
	m.mu.Unlock()
}

// postJSON posts a JSON body to an auth endpoint and decodes a 2xx response
// into out. Non-2xx becomes an *api.Error with the extracted message.
func (m *Manager) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return api.NewError(resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnexpectedPayload, err)
	}
	return nil
}

// transientErr reports whether a refresh failure says nothing about the
// refresh token itself: cancellation and transport timeouts must not clear
// credentials that may still be valid.
func transientErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// tokenExpired inspects the access token as an unverified JWT; opaque tokens
// are assumed live and left for the backend to reject.
func tokenExpired(token string) bool {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if err != nil && claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time)
}
