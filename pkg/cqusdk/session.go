package cqusdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sort"
	"sync"
	"time"

	"github.com/aussiebroadwan/cqusso/pkg/httpx"
	"github.com/aussiebroadwan/cqusso/pkg/idx"
	"github.com/aussiebroadwan/cqusso/pkg/slogx"
	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds every single request made by a Session.
const DefaultTimeout = 10 * time.Second

// Session carries the SSO cookie state, the login flag and one credential per
// granted service. Create it with NewSession and run Login before any access
// grant.
type Session struct {
	id         idx.ID
	endpoints  Endpoints
	httpClient *http.Client
	jar        http.CookieJar
	logger     *slog.Logger

	mu      sync.RWMutex
	isLogin bool
	access  map[Service]AccessInfo

	// synjonesMu serialises the second card stage so its token is fetched
	// once per session.
	synjonesMu sync.Mutex
}

// Option customises a Session.
type Option func(*options)

type options struct {
	client    *http.Client
	transport http.RoundTripper
	timeout   time.Duration
	endpoints *Endpoints
	logger    *slog.Logger
	rateLimit *httpx.RateLimitConfig
	breaker   *httpx.BreakerConfig
}

// WithHTTPClient starts from a copy of client. Its redirect policy is always
// replaced and a cookie jar is added when it has none.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithTransport sets the innermost RoundTripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithEndpoints points the session at non-production hosts.
func WithEndpoints(e Endpoints) Option {
	return func(o *options) { o.endpoints = &e }
}

// WithLogger sets the base logger for flows and outbound calls.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRateLimit throttles outbound requests per host.
func WithRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(o *options) { o.rateLimit = &cfg }
}

// WithBreaker adds a per-host circuit breaker.
func WithBreaker(cfg httpx.BreakerConfig) Option {
	return func(o *options) { o.breaker = &cfg }
}

// NewSession builds a session that is not logged in and holds no grants.
func NewSession(opts ...Option) (*Session, error) {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	endpoints := DefaultEndpoints()
	if o.endpoints != nil {
		endpoints = *o.endpoints
	}
	if err := endpoints.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &http.Client{}
	if o.client != nil {
		copied := *o.client
		client = &copied
	}

	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		client.Jar = jar
	}

	// Every hop is chased by hand so the flows can read Location headers.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if o.timeout > 0 {
		client.Timeout = o.timeout
	}

	base := o.transport
	if base == nil {
		base = client.Transport
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if o.breaker != nil {
		base = httpx.NewBreakerTransport(base, *o.breaker, logger)
	}
	if o.rateLimit != nil && o.rateLimit.Enabled() {
		base = httpx.NewRateLimitTransport(base, *o.rateLimit)
	}
	client.Transport = slogx.NewTransport(base, logger)

	id := idx.New()

	return &Session{
		id:         id,
		endpoints:  endpoints,
		httpClient: client,
		jar:        client.Jar,
		logger:     logger.With("session_id", id.String()),
		access:     make(map[Service]AccessInfo),
	}, nil
}

// ID identifies the session in logs and snapshot stores.
func (s *Session) ID() idx.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Endpoints returns the URLs this session talks to.
func (s *Session) Endpoints() Endpoints { return s.endpoints }

// IsLogin reports whether an SSO login (or restore) has succeeded.
func (s *Session) IsLogin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLogin
}

func (s *Session) setLogin(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLogin = v
}

// Access returns the stored credential for svc.
func (s *Session) Access(svc Service) (AccessInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.access[svc]
	return info, ok
}

// HasAccess reports whether svc has a stored credential.
func (s *Session) HasAccess(svc Service) bool {
	_, ok := s.Access(svc)
	return ok
}

// SetAccess stores info under its own service, replacing any previous entry.
func (s *Session) SetAccess(info AccessInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[info.Service()] = info
}

// ClearAccess drops the credential for svc.
func (s *Session) ClearAccess(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, svc)
}

// Services lists the services that currently hold a credential.
func (s *Session) Services() []Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Service, 0, len(s.access))
	for svc := range s.access {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// flowContext attaches a logger tagged with the flow name and a fresh flow id.
func (s *Session) flowContext(ctx context.Context, flow string) context.Context {
	s.mu.RLock()
	logger := s.logger
	s.mu.RUnlock()

	ctx = slogx.WithContext(ctx, logger.With("flow", flow))
	return slogx.WithFlowID(ctx, idx.New().String())
}
