package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxJWKSBytes bounds how much of a key endpoint response is read
const maxJWKSBytes = 1 << 20

// ErrUnexpectedStatus is wrapped when a key endpoint answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected status from key endpoint")

// KeySource produces the provider's current signing key set
type KeySource interface {
	FetchKeys(ctx context.Context) (*KeySet, error)
}

// KeySourceConfig configures HTTPKeySource
type KeySourceConfig struct {
	// Endpoints are tried in order; the first that returns a parseable key set wins
	Endpoints []string

	// Timeout bounds each individual request
	Timeout time.Duration

	// MaxRetries is the number of retries per endpoint after the first attempt
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles per retry up to MaxDelay
	BaseDelay time.Duration
	MaxDelay  time.Duration

	HTTPClient *http.Client
}

// HTTPKeySource fetches JWKS documents over HTTP with per-endpoint retries
// and fallback across endpoints. It holds no mutable state and is safe for
// concurrent use.
type HTTPKeySource struct {
	endpoints  []string
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	metrics    Metrics

	// sleep waits between retries; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewHTTPKeySource creates a new key source
func NewHTTPKeySource(cfg KeySourceConfig, logger *zap.Logger, metrics Metrics) *HTTPKeySource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	return &HTTPKeySource{
		endpoints:  append([]string(nil), cfg.Endpoints...),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		httpClient: cfg.HTTPClient,
		logger:     logger,
		metrics:    metrics,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// Endpoints returns the configured endpoints in order
func (s *HTTPKeySource) Endpoints() []string {
	return append([]string(nil), s.endpoints...)
}

// FetchKeys walks the endpoints in order, retrying each with exponential
// backoff, and returns the first key set that parses.
func (s *HTTPKeySource) FetchKeys(ctx context.Context) (*KeySet, error) {
	fetchErr := &FetchError{}

	for _, endpoint := range s.endpoints {
		for attempt := 0; attempt <= s.maxRetries; attempt++ {
			if attempt > 0 {
				delay := s.backoffDelay(attempt)
				if err := s.sleep(ctx, delay); err != nil {
					fetchErr.Attempts = append(fetchErr.Attempts, FetchAttempt{Endpoint: endpoint, Attempt: attempt + 1, Err: err})
					return nil, fetchErr
				}
			}

			start := s.now()
			set, err := s.fetchOnce(ctx, endpoint)
			elapsed := s.now().Sub(start)
			s.metrics.ObserveKeyFetch(endpoint, err == nil, elapsed)
			if err == nil {
				if attempt > 0 || len(fetchErr.Attempts) > 0 {
					s.logger.Info("key set retrieved after failures",
						zap.String("endpoint", endpoint),
						zap.Int("attempt", attempt+1),
						zap.Int("failed_attempts", len(fetchErr.Attempts)))
				}
				return set, nil
			}

			fetchErr.Attempts = append(fetchErr.Attempts, FetchAttempt{
				Endpoint: endpoint,
				Attempt:  attempt + 1,
				Err:      err,
				Elapsed:  elapsed,
			})
			s.logger.Warn("key set fetch failed",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", s.maxRetries+1),
				zap.Error(err))

			if ctx.Err() != nil {
				return nil, fetchErr
			}
		}
	}

	s.logger.Error("all key endpoints exhausted",
		zap.Strings("endpoints", s.endpoints),
		zap.Int("attempts", len(fetchErr.Attempts)))
	return nil, fetchErr
}

// backoffDelay returns the wait before retry n (n >= 1)
func (s *HTTPKeySource) backoffDelay(retry int) time.Duration {
	delay := s.baseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

func (s *HTTPKeySource) fetchOnce(ctx context.Context, endpoint string) (*KeySet, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxJWKSBytes))
		return nil, fmt.Errorf("%w: status code %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}

	set, err := ParseKeySet(body)
	if err != nil {
		return nil, err
	}
	set.Source = endpoint
	set.FetchedAt = s.now()
	return set, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
