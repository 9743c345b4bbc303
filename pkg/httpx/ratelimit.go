package httpx

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the outbound rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Enabled reports whether the config describes an actual limit.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

// PerSecond limits to rps requests per second with the given burst. A
// non-positive rps yields a disabled config.
func PerSecond(rps, burst int) RateLimitConfig {
	if rps <= 0 {
		return RateLimitConfig{}
	}
	return RateLimitConfig{RequestsPerWindow: rps, Window: time.Second, Burst: burst}
}

// RateLimitTransport delays outbound requests so that each host sees at most
// the configured rate. Waiting honours the request context, so a cancelled
// flow stops queueing immediately.
type RateLimitTransport struct {
	base     http.RoundTripper
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimitTransport wraps base (http.DefaultTransport when nil).
func NewRateLimitTransport(base http.RoundTripper, config RateLimitConfig) *RateLimitTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	ratePerSecond := float64(config.RequestsPerWindow) / config.Window.Seconds()

	return &RateLimitTransport{
		base:  base,
		rate:  rate.Limit(ratePerSecond),
		burst: max(config.Burst, 1),
	}
}

// limiter retrieves or creates the limiter for a host.
func (t *RateLimitTransport) limiter(host string) *rate.Limiter {
	if l, ok := t.limiters.Load(host); ok {
		return l.(*rate.Limiter)
	}

	actual, _ := t.limiters.LoadOrStore(host, rate.NewLimiter(t.rate, t.burst))
	return actual.(*rate.Limiter)
}

func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", req.URL.Host, err)
	}
	return t.base.RoundTrip(req)
}
