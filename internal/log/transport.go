package log

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID is set on every outgoing request that lacks one.
const HeaderRequestID = "X-Request-ID"

// Transport is an http.RoundTripper that tags requests with a request id
// and logs their outcome. 4xx answers log at warn, 5xx and network
// failures at error.
type Transport struct {
	Base   http.RoundTripper
	Logger *Logger
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, logger *Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger.WithComponent(ComponentHTTP)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := req.Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(HeaderRequestID, id)
	}

	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	fields := NewFields().
		WithRequestID(id).
		WithHTTPRequest(req.Method, req.URL.Path)
	if err != nil {
		t.Logger.ErrorContext(req.Context(), "Request failed", fields.WithError(err).ToSlice()...)
		return nil, err
	}

	level := slog.LevelDebug
	switch {
	case resp.StatusCode >= 500:
		level = slog.LevelError
	case resp.StatusCode >= 400:
		level = slog.LevelWarn
	}
	fields = fields.WithHTTPResponse(resp.StatusCode, elapsed, resp.StatusCode < 400)
	t.Logger.Log(req.Context(), level, "Request completed", fields.ToSlice()...)
	return resp, nil
}
