// Package rest is the HTTP adapter for the expense service. It turns the
// service's status codes and {message} bodies into core.Error values.
package rest

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
	"time"

	"spesync/internal/core"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service"
)

var _ service.Backend = (*Client)(nil)

// DefaultBaseURL is where the service listens in a local setup.
const DefaultBaseURL = "http://localhost:5000"

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

type Config struct {
	BaseURL string
	// Timeout bounds every request; zero leaves it to the caller's context.
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *log.Logger
	Metrics   *observability.Metrics
	UserAgent string
}

// Client talks to the service. It holds no session state: the bearer
// token is passed on every call.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	metrics    *observability.Metrics
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "spesync/1.0"
	}
	return &Client{
		httpClient: &http.Client{
			Transport: log.NewTransport(cfg.Transport, logger),
			Timeout:   cfg.Timeout,
		},
		baseURL:   u,
		userAgent: cfg.UserAgent,
		metrics:   cfg.Metrics,
	}, nil
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// override remaps a status for one endpoint. A non-empty message limits
// it to answers carrying exactly that service message.
type override struct {
	kind    core.Kind
	message string
}

// call describes one request. route is the path template used for
// metrics; overrides remaps status codes whose meaning depends on the
// endpoint.
type call struct {
	method    string
	route     string
	path      string
	token     string
	body      any
	overrides map[int]override
}

func (c *Client) do(ctx context.Context, req call, out any) error {
	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL.String()+req.path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.method, req.route, 0, time.Since(start))
		return &core.Error{Kind: core.KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(req.method, req.route, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return responseError(resp.StatusCode, raw, req.overrides)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.Error{Kind: core.KindTransport, Status: resp.StatusCode, Message: "reading response", Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &core.Error{
			Kind:    core.KindTransport,
			Status:  resp.StatusCode,
			Message: "decoding response: " + err.Error(),
			Raw:     truncate(string(raw)),
			Err:     err,
		}
	}
	return nil
}

// responseError classifies a non-2xx answer. A JSON {message} body
// becomes the error message; anything else is kept verbatim in Raw.
func responseError(status int, raw []byte, overrides map[int]override) error {
	e := &core.Error{Status: status}

	var body messageResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		e.Kind = kindFor(status, body.Message, overrides)
		e.Message = body.Message
	} else {
		e.Kind = kindFor(status, "", overrides)
		e.Raw = truncate(strings.TrimSpace(string(raw)))
		e.Message = http.StatusText(status)
	}
	if e.Kind == core.KindTransport && e.Raw == "" {
		e.Raw = truncate(strings.TrimSpace(string(raw)))
	}
	return e
}

func kindFor(status int, message string, overrides map[int]override) core.Kind {
	if o, ok := overrides[status]; ok && (o.message == "" || o.message == message) {
		return o.kind
	}
	switch status {
	case http.StatusBadRequest:
		return core.KindValidation
	case http.StatusUnauthorized:
		return core.KindAuthentication
	case http.StatusForbidden:
		return core.KindAuthorization
	case http.StatusNotFound:
		return core.KindNotFound
	}
	return core.KindTransport
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

// IsTransport reports whether err is a network failure or an unexpected
// status, as opposed to a rejection the service explained.
func IsTransport(err error) bool {
	return errors.Is(err, core.ErrTransport)
}
