package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/crmsync/pkg/config"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/metrics"
)

// HTTPConfig configures the CRM HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// HTTP/2 settings
	EnableHTTP2 bool

	// Timeouts
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration
	KeepAlive             time.Duration

	// Rate limiting
	RateLimit float64
	RateBurst int

	// Circuit breaker
	CircuitBreakerEnabled bool
	Breaker               CircuitBreakerConfig
}

// DefaultHTTPConfig returns the defaults used when no configuration is supplied
func DefaultHTTPConfig() *HTTPConfig {
	return HTTPConfigFrom(config.NewConfig())
}

// HTTPConfigFrom derives the HTTP settings from the application config.
func HTTPConfigFrom(cfg *config.Config) *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.Performance.Workers,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           cfg.Timeouts.Connection,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: cfg.Timeouts.Request,
		RequestTimeout:        cfg.Timeouts.Request,
		KeepAlive:             30 * time.Second,
		RateLimit:             cfg.Reliability.RateLimitPerSec,
		RateBurst:             cfg.Reliability.RateBurst,
		CircuitBreakerEnabled: cfg.Reliability.CircuitBreaker,
		Breaker: CircuitBreakerConfig{
			FailureThreshold: cfg.Reliability.FailureThreshold,
			SuccessThreshold: cfg.Reliability.SuccessThreshold,
			Timeout:          cfg.Reliability.BreakerTimeout,
		},
	}
}

type operationKey struct{}

// WithOperation tags ctx with the CRM operation name used as a metrics label.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		return op
	}
	return "unknown"
}

// Transport is an http.RoundTripper that applies rate limiting and circuit
// breaking and records metrics for every CRM call.
type Transport struct {
	Base        http.RoundTripper
	RateLimiter RateLimiter
	Breaker     *CircuitBreaker
	Logger      *zap.Logger
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	op := operationFrom(ctx)

	if t.RateLimiter != nil {
		if err := t.RateLimiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait aborted")
		}
	}

	if t.Breaker != nil && !t.Breaker.Allow() {
		metrics.ObserveAPICall(op, ErrCircuitOpen, 0)
		return nil, ErrCircuitOpen
	}

	timer := metrics.NewTimer()
	resp, err := t.Base.RoundTrip(req)
	elapsed := timer.Stop()

	// Only transport failures and 5xx count against the breaker; 4xx are caller errors.
	failed := err != nil || resp.StatusCode >= 500
	if t.Breaker != nil {
		if failed {
			t.Breaker.RecordFailure()
		} else {
			t.Breaker.RecordSuccess()
		}
	}

	var callErr error
	if err != nil {
		callErr = err
	} else if resp.StatusCode >= 400 {
		callErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	metrics.ObserveAPICall(op, callErr, elapsed)

	if t.Logger != nil {
		t.Logger.Debug("crm api call",
			zap.String("operation", op),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("elapsed", elapsed),
			zap.Bool("failed", callErr != nil))
	}

	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "crm request failed")
	}
	return resp, nil
}

// NewTransport creates the base transport with HTTP/2 enabled when configured.
func NewTransport(cfg *HTTPConfig, logger *zap.Logger) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		// gzip is negotiated explicitly for bulk result streams
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return transport
}

// NewHTTPClient creates the HTTP client used for every CRM call.
// A nil base uses NewTransport; tests pass an httptest transport instead.
func NewHTTPClient(cfg *HTTPConfig, base http.RoundTripper, logger *zap.Logger) *http.Client {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http_client"))

	if base == nil {
		base = NewTransport(cfg, logger)
	}

	t := &Transport{
		Base:        base,
		RateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		Logger:      logger,
	}
	if cfg.CircuitBreakerEnabled {
		t.Breaker = NewCircuitBreaker(cfg.Breaker, logger)
	}

	return &http.Client{
		Transport: t,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}
