package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/worker"
)

// CallFunc is one attempt of a downstream stage call
type CallFunc func(ctx context.Context) (model.GateResult, error)

// Controller wraps every downstream stage call with a per-stage circuit
// breaker, a per-stage rate limit, a per-call deadline and bounded
// retries of transient failures.
type Controller struct {
	retry   model.RetryConfig
	cfg     model.BreakerConfig
	limiter *worker.Limiter
	store   StateStore
	logger  *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // Uniform in [0,1)
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
	saveMu   sync.Mutex
}

// Option configures a Controller
type Option func(*Controller)

// WithLimiter rate limits attempts per stage
func WithLimiter(l *worker.Limiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithStateStore persists breaker transitions and restores them at
// construction
func WithStateStore(s StateStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleep replaces the backoff sleep (tests)
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithJitter replaces the jitter source (tests)
func WithJitter(fn func() float64) Option {
	return func(c *Controller) { c.jitter = fn }
}

// WithClock replaces the breaker clock (tests)
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) { c.now = fn }
}

// NewController builds a controller, restoring any persisted breaker state
func NewController(retry model.RetryConfig, cfg model.BreakerConfig, opts ...Option) (*Controller, error) {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	c := &Controller{
		retry:    retry,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		sleep:    sleepContext,
		jitter:   rand.Float64,
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store != nil {
		snaps, err := c.store.Load()
		switch {
		case errors.Is(err, ErrStateNotFound):
		case err != nil:
			return nil, fmt.Errorf("load breaker state: %w", err)
		default:
			for stage, snap := range snaps {
				c.breaker(stage).restore(snap)
			}
		}
	}
	return c, nil
}

// Invoke calls fn for stage under breaker, limiter, deadline and retry
// policy. While the breaker is open it fails with ErrCircuitOpen without
// calling fn or waiting. Permanent errors are returned at once and do not
// count against the breaker.
func (c *Controller) Invoke(ctx context.Context, stage string, fn CallFunc) (model.GateResult, error) {
	b := c.breaker(stage)

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.GateResult{}, err
		}
		if err := b.Allow(); err != nil {
			if lastErr != nil {
				return model.GateResult{}, fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return model.GateResult{}, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, stage); err != nil {
				b.Release()
				return model.GateResult{}, err
			}
		}

		result, err := c.call(ctx, fn)
		if err == nil {
			b.Success()
			result.Attempts = attempt + 1
			return result, nil
		}
		if ctx.Err() != nil {
			b.Release()
			return model.GateResult{}, ctx.Err()
		}
		if !model.IsTransient(err) {
			b.Release()
			return model.GateResult{}, err
		}

		b.Failure()
		lastErr = err
		c.logger.Warn("stage call failed",
			slog.String("stage", stage),
			slog.Int("attempt", attempt+1),
			slog.String("breaker", string(b.State())),
			slog.String("error", err.Error()),
		)

		if attempt+1 < c.retry.MaxAttempts {
			if err := c.sleep(ctx, c.Backoff(attempt)); err != nil {
				return model.GateResult{}, err
			}
		}
	}

	return model.GateResult{}, fmt.Errorf("%w: stage %s after %d attempts: %w",
		model.ErrRetriesExhausted, stage, c.retry.MaxAttempts, lastErr)
}

func (c *Controller) call(ctx context.Context, fn CallFunc) (model.GateResult, error) {
	if c.retry.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.retry.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// Backoff returns the delay after the given zero-based attempt:
// base * 2^attempt, spread by +/- JitterFraction, capped at MaxDelay
func (c *Controller) Backoff(attempt int) time.Duration {
	d := float64(c.retry.BaseDelay) * float64(uint64(1)<<uint(min(attempt, 30)))
	if f := c.retry.JitterFraction; f > 0 {
		d *= 1 + f*(2*c.jitter()-1)
	}
	delay := time.Duration(d)
	if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
		delay = c.retry.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// State reports the effective breaker state of a stage
func (c *Controller) State(stage string) model.BreakerState {
	c.mu.Lock()
	b, ok := c.breakers[stage]
	c.mu.Unlock()
	if !ok {
		return model.BreakerClosed
	}
	return b.State()
}

// Snapshots returns every known breaker ordered by stage
func (c *Controller) Snapshots() []model.BreakerSnapshot {
	c.mu.Lock()
	list := make([]*Breaker, 0, len(c.breakers))
	for _, b := range c.breakers {
		list = append(list, b)
	}
	c.mu.Unlock()

	out := make([]model.BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

func (c *Controller) breaker(stage string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[stage]
	if !ok {
		b = newBreaker(stage, c.cfg, c.clock, c.persist)
		c.breakers[stage] = b
	}
	return b
}

func (c *Controller) clock() time.Time {
	return c.now()
}

// persist saves every breaker on each state transition
func (c *Controller) persist(changed model.BreakerSnapshot) {
	c.logger.Info("breaker transition",
		slog.String("stage", changed.Stage),
		slog.String("state", string(changed.State)),
		slog.Int("failures", changed.FailureCount),
		slog.Duration("cooldown", changed.Cooldown),
	)
	if c.store == nil {
		return
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	state := make(map[string]model.BreakerSnapshot)
	for _, snap := range c.Snapshots() {
		state[snap.Stage] = snap
	}
	if err := c.store.Save(state); err != nil {
		c.logger.Error("persist breaker state", slog.String("error", err.Error()))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
