// Package backoff retries throttled inference calls with exponential backoff
// and jitter, and escalates everything else without retrying.
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"CatalogEnricher/internal/domain"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 2 * time.Second
)

// Config controls the retry budget. MaxDelay <= 0 leaves waits uncapped.
// Jitter is the exclusive upper bound of the random extra wait.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// Controller wraps a single-shot invoke function with bounded retry.
type Controller struct {
	cfg     Config
	sleeper func(context.Context, time.Duration) error
	jitter  func(time.Duration) time.Duration
	onWait  func(attempt int, delay time.Duration)
}

// Option customizes the controller.
type Option func(*Controller)

// WithSleeper overrides how waits are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// WithJitterSource overrides the jitter generator. It receives the configured
// bound and must return a value in [0, bound).
func WithJitterSource(fn func(time.Duration) time.Duration) Option {
	return func(c *Controller) {
		if fn != nil {
			c.jitter = fn
		}
	}
}

// WithWaitObserver is called before every backoff wait.
func WithWaitObserver(fn func(attempt int, delay time.Duration)) Option {
	return func(c *Controller) {
		c.onWait = fn
	}
}

// New builds a controller, filling unset values with defaults.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	c := &Controller{
		cfg:     cfg,
		sleeper: sleepContext,
		jitter:  randomJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAttempts returns the effective attempt budget.
func (c *Controller) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// Call invokes fn until it succeeds, fails permanently, or the throttle budget
// is spent. It returns the raw response text or a *domain.Failure. Context
// cancellation is returned as-is.
func (c *Controller) Call(ctx context.Context, fn func(context.Context) domain.Outcome) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		outcome := fn(ctx)
		switch outcome.Kind {
		case domain.OutcomeSuccess:
			return outcome.Text, nil
		case domain.OutcomeThrottle:
			lastErr = outcome.Err
		default:
			if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
			}
			return "", &domain.Failure{Kind: domain.FailurePermanent, Attempts: attempt, Err: outcome.Err}
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.Delay(attempt)
		if outcome.RetryAfter > delay {
			delay = c.capDelay(outcome.RetryAfter)
		}
		if c.onWait != nil {
			c.onWait(attempt, delay)
		}
		if err := c.sleeper(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", &domain.Failure{Kind: domain.FailureQuotaExhausted, Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// Delay returns the wait after the given 1-based failed attempt:
// base * 2^(attempt-1) + jitter.
func (c *Controller) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		if c.cfg.MaxDelay > 0 && delay > c.cfg.MaxDelay/2 {
			delay = c.cfg.MaxDelay
			break
		}
		delay *= 2
	}
	if c.cfg.Jitter > 0 {
		delay += c.jitter(c.cfg.Jitter)
	}
	return c.capDelay(delay)
}

func (c *Controller) capDelay(delay time.Duration) time.Duration {
	if c.cfg.MaxDelay > 0 && delay > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return delay
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound)))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
