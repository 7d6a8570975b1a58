// Package api implements the authenticated request gateway: it attaches the
// bearer credential to outbound backend calls and transparently performs
// at-most-one silent refresh-and-retry on a 401 response.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single backend call when no custom client is supplied.
const DefaultTimeout = 30 * time.Second

// TokenSource yields the current access token and performs a silent refresh.
// Implemented by session.Manager; the gateway never reaches into session
// internals, keeping the dependency one-directional.
type TokenSource interface {
	// AccessToken returns the current access token, "" when absent.
	AccessToken() string
	// Refresh obtains a new access token. ("", nil) means no token could be
	// obtained without error (e.g. no refresh token stored).
	Refresh(ctx context.Context) (string, error)
}

// Gateway issues JSON requests against the backend base URL.
type Gateway struct {
	hc      *http.Client
	baseURL string
	tokens  TokenSource
	log     *zap.Logger
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) { g.hc = hc }
}

// WithLogger enables per-attempt request logging.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// New constructs a Gateway. tokens may be nil for unauthenticated use.
func New(baseURL string, tokens TokenSource, opts ...Option) *Gateway {
	g := &Gateway{
		hc:      &http.Client{Timeout: DefaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// JSON issues a request with the default retry-on-401 behavior.
func (g *Gateway) JSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	return g.Do(ctx, method, path, payload, true)
}

// Do issues one request. When the response status is exactly 401 and
// allowRetry is set, the token source is asked for one refresh; a new token
// causes exactly one reissue of the identical request, whose response is
// returned regardless of outcome. Refresh yielding no token returns the
// original 401 unchanged. Non-401 statuses always pass through unmodified.
func (g *Gateway) Do(ctx context.Context, method, path string, payload any, allowRetry bool) (*http.Response, error) {
	token := ""
	if g.tokens != nil {
		token = g.tokens.AccessToken()
	}
	resp, err := g.attempt(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !allowRetry || g.tokens == nil {
		return resp, nil
	}

	fresh, rerr := g.tokens.Refresh(ctx)
	if rerr != nil || fresh == "" {
		// The caller interprets the original 401; no loops, no second refresh.
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
	return g.attempt(ctx, method, path, payload, fresh)
}

// attempt builds a fresh request (body re-marshalled, so a retry never
// replays a drained reader) and performs it once.
func (g *Gateway) attempt(ctx context.Context, method, path string, payload any, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	reqID := uuid.Must(uuid.NewV4()).String()
	start := time.Now()
	resp, err := g.hc.Do(req)
	if err != nil {
		g.log.Debug("request failed",
			zap.String("request_id", reqID),
			zap.String("method", method),
			zap.String("url", req.URL.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	g.log.Debug("request",
		zap.String("request_id", reqID),
		zap.String("method", method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}
