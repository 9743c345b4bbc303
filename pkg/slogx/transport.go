package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/cqusso/pkg/idx"
)

// Transport logs every outbound request at debug level. The logger is taken
// from the request context when present, falling back to Base.
//
// Only the scheme, host and path are logged; query strings carry service
// tickets and authorization codes.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	logger := t.Logger
	if l, ok := req.Context().Value(ctxKey{}).(*slog.Logger); ok {
		logger = l
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(
		"req_id", idx.New().String(),
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	resp, err := t.Base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Debug("http_call", "error", err, "duration_ms", duration)
		return nil, err
	}

	logger.Debug("http_call",
		"status", resp.StatusCode,
		"duration_ms", duration,
		"redirect", resp.Header.Get("Location") != "",
	)

	return resp, nil
}
