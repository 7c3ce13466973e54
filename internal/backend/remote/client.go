// Package remote implements backend.DataService against a deploydeck
// server: REST for queries and writes, a WebSocket for the live feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/log"
	"github.com/vovakirdan/deploydeck/internal/proto"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// APIError is a failed REST or handshake response. It unwraps to the
// backend sentinel matching its code, so errors.Is works across the wire.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("deploydeck: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("deploydeck: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap returns the backend sentinel for e.Code, if any.
func (e *APIError) Unwrap() error {
	return backend.FromCode(e.Code)
}

// Client talks to a deploydeck server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        *zerolog.Logger
	// handshakeTimeout bounds the realtime dial and the wait for its
	// ready frame.
	handshakeTimeout time.Duration

	mu    sync.RWMutex
	token string
}

var _ backend.DataService = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token up front.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHandshakeTimeout bounds how long Subscribe waits for the server to
// confirm a realtime feed.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New creates a client for the server at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:          u,
		httpClient:       &http.Client{Timeout: defaultTimeout},
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handshakeTimeout <= 0 {
		c.handshakeTimeout = defaultHandshakeTimeout
	}
	c.log = log.OrNop(c.log)
	return c, nil
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SignUp creates an account and adopts its token.
func (c *Client) SignUp(ctx context.Context, email, password, fullName string) (*proto.AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/signup", proto.SignUpRequest{
		Email:    email,
		Password: password,
		FullName: fullName,
	})
}

// SignIn authenticates and adopts the returned token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*proto.AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/signin", proto.SignInRequest{
		Email:    email,
		Password: password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*proto.AuthResponse, error) {
	var resp proto.AuthResponse
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// Query implements backend.DataService.
func (c *Client) Query(ctx context.Context, collection string, q backend.Query) ([]backend.Record, error) {
	var resp proto.ListResponse
	if err := c.do(ctx, http.MethodGet, collectionPath(collection), proto.EncodeQuery(q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Insert implements backend.DataService.
func (c *Client) Insert(ctx context.Context, collection string, rec backend.Record) (backend.Record, error) {
	var resp proto.RecordResponse
	if err := c.do(ctx, http.MethodPost, collectionPath(collection), nil, rec, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// Update implements backend.DataService.
func (c *Client) Update(ctx context.Context, collection, id string, fields backend.Record) error {
	return c.do(ctx, http.MethodPatch, collectionPath(collection, id), nil, fields, nil)
}

// Delete implements backend.DataService.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, collectionPath(collection, id), nil, nil, nil)
}

func collectionPath(collection string, id ...string) string {
	parts := append([]string{"/api/collections", url.PathEscape(collection)}, id...)
	for i := 2; i < len(parts); i++ {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) authHeader(h http.Header) {
	if token := c.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

// do performs a JSON request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authHeader(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: backend.ErrCodeInternal}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body proto.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Code != "" {
			apiErr.Code = body.Code
		}
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Code == backend.ErrCodeInternal && resp.StatusCode == http.StatusUnauthorized {
		apiErr.Code = backend.ErrCodeUnauthorized
	}
	return apiErr
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized)
}
