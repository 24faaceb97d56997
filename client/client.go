// Package client is the HTTP collaborator for the platform backend: flags,
// navigation, organizations, authentication and the current user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/jmcleod/ebm/client"

	// DefaultTimeout applies to every request unless overridden.
	DefaultTimeout = 10 * time.Second

	maxResponseSize = 4 << 20
)

// ErrMalformedResponse is wrapped by every decoding or shape failure.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Authenticator supplies bearer tokens and renews them after a 401.
type Authenticator interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) error
}

// Client talks to the backend rooted at baseURL.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	auth    Authenticator
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAuthenticator sets the bearer token source.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) {
		c.auth = a
	}
}

// New returns a Client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetAuthenticator installs a after construction. The session store needs
// the client to exist before it can act as its authenticator.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.auth = a
}

// request describes one call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// anonymous calls carry no bearer token and never trigger a refresh.
	anonymous bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	ctx, span := c.tracer.Start(ctx, r.method+" "+r.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.method),
			attribute.String("url.path", r.path),
		))
	defer span.End()

	err := c.send(ctx, r, out)
	if err != nil && !r.anonymous && c.auth != nil && IsStatus(err, http.StatusUnauthorized) {
		c.logger.Debug("request unauthorized, refreshing token", slog.String("path", r.path))
		if rerr := c.auth.RefreshAccessToken(ctx); rerr != nil {
			err = fmt.Errorf("refreshing token: %w", rerr)
		} else {
			span.AddEvent("retry after token refresh")
			err = c.send(ctx, r, out)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !r.anonymous && c.auth != nil {
		if tok := c.auth.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", r.method, r.path, err)
	}
	if len(data) > maxResponseSize {
		return fmt.Errorf("%s %s: %w: body exceeds %d bytes", r.method, r.path, ErrMalformedResponse, maxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     r.method,
			Path:       r.path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		if out != nil {
			return fmt.Errorf("%s %s: %w: empty body", r.method, r.path, ErrMalformedResponse)
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", r.method, r.path, ErrMalformedResponse, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies written by the backend.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		return body.Error
	}
	return ""
}

func scopeQuery(organizationID string) url.Values {
	if organizationID == "" {
		return nil
	}
	return url.Values{"organizationId": {organizationID}}
}
