package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without touching the network while a host's
// breaker is open.
var ErrCircuitOpen = errors.New("httpx: circuit open")

// BreakerConfig configures the per-host circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// DefaultBreaker trips after five straight failures and probes again after
// thirty seconds.
var DefaultBreaker = BreakerConfig{
	FailureThreshold: 5,
	Timeout:          30 * time.Second,
	MaxRequests:      1,
}

// BreakerTransport fails fast for hosts that keep failing. Only transport
// errors and 5xx responses count as failures: redirects, 401s and other
// client statuses are part of the normal SSO conversation.
//
// It never retries. A tripped request returns ErrCircuitOpen.
type BreakerTransport struct {
	base     http.RoundTripper
	config   BreakerConfig
	logger   *slog.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps base (http.DefaultTransport when nil).
func NewBreakerTransport(base http.RoundTripper, config BreakerConfig, logger *slog.Logger) *BreakerTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BreakerTransport{
		base:     base,
		config:   config,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// serverError marks a 5xx response so the breaker counts it while the
// response itself is still handed back to the caller.
type serverError struct {
	resp *http.Response
}

func (e *serverError) Error() string { return "server error: " + e.resp.Status }

func (t *BreakerTransport) breaker(host string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, ok := t.breakers[host]; ok {
		return cb
	}

	threshold := t.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: t.config.MaxRequests,
		Timeout:     t.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state change",
				"host", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	t.breakers[host] = cb
	return cb
}

// State reports the breaker state for host; hosts never contacted are closed.
func (t *BreakerTransport) State(host string) gobreaker.State {
	t.mu.Lock()
	cb, ok := t.breakers[host]
	t.mu.Unlock()

	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := t.breaker(req.URL.Host).Execute(func() (interface{}, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}

		var se *serverError
		if errors.As(err, &se) {
			return se.resp, nil
		}
		return nil, err
	}

	return result.(*http.Response), nil
}
