package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
)

// ErrRetriesExhausted matches every *RetriesExhaustedError.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetriesExhaustedError wraps the last error after the final attempt.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// RetryConfig tunes a RetryPolicy.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the fraction of the delay randomly added or removed.
	Jitter float64
}

// DefaultRetryConfig returns the standard retry tunables.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.3,
	}
}

// RetryPolicy retries failed operations with jittered exponential backoff.
// Circuit-open rejections and context errors are never retried.
type RetryPolicy struct {
	cfg       RetryConfig
	retryable func(error) bool
	random    func() float64
	sleep     func(context.Context, time.Duration) error
	logger    zerolog.Logger
}

// RetryOption configures a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithRetryable narrows which errors are retried.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(p *RetryPolicy) {
		p.retryable = fn
	}
}

// WithSleeper replaces the backoff wait.
func WithSleeper(fn func(context.Context, time.Duration) error) RetryOption {
	return func(p *RetryPolicy) {
		p.sleep = fn
	}
}

// WithRandom replaces the jitter source. fn must return values in [0,1).
func WithRandom(fn func() float64) RetryOption {
	return func(p *RetryPolicy) {
		p.random = fn
	}
}

// NewRetryPolicy creates a retry policy. Invalid config fields take defaults.
func NewRetryPolicy(cfg RetryConfig, opts ...RetryOption) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = defaults.Jitter
	}

	p := &RetryPolicy{
		cfg:       cfg,
		retryable: func(error) bool { return true },
		random:    rand.Float64,
		sleep:     sleepContext,
		logger:    logging.Component("retry"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.cfg
}

// Delay returns the backoff before retry number attempt (zero based):
// min(base * multiplier^attempt, max), then jittered by ±Jitter.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	backoff := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt))
	if backoff > float64(p.cfg.MaxDelay) || math.IsInf(backoff, 0) {
		backoff = float64(p.cfg.MaxDelay)
	}
	if p.cfg.Jitter > 0 {
		backoff *= 1 + p.cfg.Jitter*(2*p.random()-1)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func (p *RetryPolicy) shouldRetry(err error) bool {
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return p.retryable(err)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Once ctx is done the last operation error is
// returned as is, so a timeout reported by fn is not masked by ctx.Err().
func (p *RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.shouldRetry(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= p.cfg.MaxRetries {
			return &RetriesExhaustedError{Attempts: attempt + 1, Last: err}
		}

		delay := p.Delay(attempt)
		p.logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying after failure")
		if serr := p.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%w (retry abandoned: %w)", err, serr)
		}
	}
}

// Retry runs fn under p and returns its value.
func Retry[T any](ctx context.Context, p *RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
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
