package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/worker"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testRetry() model.RetryConfig {
	return model.RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterFraction: 0.2,
	}
}

func testBreaker() model.BreakerConfig {
	return model.BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second, MaxCooldown: 90 * time.Second}
}

func newTestController(t *testing.T, clock *fakeClock, sleeps *sleepRecorder, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{
		WithClock(clock.Now),
		WithSleep(sleeps.Sleep),
		WithJitter(func() float64 { return 0.5 }),
	}, opts...)
	c, err := NewController(testRetry(), testBreaker(), opts...)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func okCall(stage string) CallFunc {
	return func(ctx context.Context) (model.GateResult, error) {
		return model.GateResult{StageName: stage, Status: model.GateOK}, nil
	}
}

func transientCall(calls *int) CallFunc {
	return func(ctx context.Context) (model.GateResult, error) {
		*calls++
		return model.GateResult{}, model.Transient(errors.New("upstream 503"))
	}
}

func TestInvoke_Success(t *testing.T) {
	c := newTestController(t, newFakeClock(), &sleepRecorder{})

	res, err := c.Invoke(context.Background(), "compliance", okCall("compliance"))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if c.State("compliance") != model.BreakerClosed {
		t.Errorf("expected closed breaker, got %s", c.State("compliance"))
	}
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	sleeps := &sleepRecorder{}
	c := newTestController(t, newFakeClock(), sleeps)

	calls := 0
	res, err := c.Invoke(context.Background(), "fact_check", func(ctx context.Context) (model.GateResult, error) {
		calls++
		if calls == 1 {
			return model.GateResult{}, model.Transient(errors.New("timeout"))
		}
		return model.GateResult{StageName: "fact_check", Status: model.GateOK}, nil
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Attempts != 2 || calls != 2 {
		t.Errorf("expected 2 attempts, got result=%d calls=%d", res.Attempts, calls)
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 100*time.Millisecond {
		t.Errorf("expected one 100ms backoff, got %v", sleeps.delays)
	}
	if snap := c.Snapshots()[0]; snap.FailureCount != 0 {
		t.Errorf("expected success to reset failures, got %d", snap.FailureCount)
	}
}

func TestInvoke_PermanentErrorNotRetried(t *testing.T) {
	sleeps := &sleepRecorder{}
	c := newTestController(t, newFakeClock(), sleeps)

	permanent := errors.New("400 bad request")
	calls := 0
	for i := 0; i < 5; i++ {
		_, err := c.Invoke(context.Background(), "safety", func(ctx context.Context) (model.GateResult, error) {
			calls++
			return model.GateResult{}, permanent
		})
		if !errors.Is(err, permanent) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	}
	if calls != 5 {
		t.Errorf("expected one call per invoke, got %d", calls)
	}
	if len(sleeps.delays) != 0 {
		t.Errorf("expected no backoff for permanent errors, got %v", sleeps.delays)
	}
	if c.State("safety") != model.BreakerClosed {
		t.Errorf("permanent errors must not trip the breaker, got %s", c.State("safety"))
	}
}

func TestInvoke_TripsAndFailsFast(t *testing.T) {
	sleeps := &sleepRecorder{}
	c := newTestController(t, newFakeClock(), sleeps)

	calls := 0
	_, err := c.Invoke(context.Background(), "link_check", transientCall(&calls))
	if !errors.Is(err, model.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, model.ErrTransient) {
		t.Errorf("expected last transient error to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if c.State("link_check") != model.BreakerOpen {
		t.Fatalf("expected open breaker after 3 failures, got %s", c.State("link_check"))
	}

	sleepsBefore := len(sleeps.delays)
	_, err = c.Invoke(context.Background(), "link_check", transientCall(&calls))
	if !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 3 {
		t.Errorf("open breaker must not call the stage, got %d calls", calls)
	}
	if len(sleeps.delays) != sleepsBefore {
		t.Error("open breaker must not wait")
	}
}

func TestInvoke_OpensMidRetryLoop(t *testing.T) {
	clock := newFakeClock()
	c, err := NewController(
		model.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond},
		model.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute},
		WithClock(clock.Now),
		WithSleep((&sleepRecorder{}).Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	_, err = c.Invoke(context.Background(), "remote", transientCall(&calls))
	if !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen once the breaker trips, got %v", err)
	}
	if !errors.Is(err, model.ErrTransient) {
		t.Errorf("expected the last failure to be carried, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls before tripping, got %d", calls)
	}
}

func TestInvoke_HalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, clock, &sleepRecorder{})

	calls := 0
	_, _ = c.Invoke(context.Background(), "compliance", transientCall(&calls))
	if c.State("compliance") != model.BreakerOpen {
		t.Fatal("expected open breaker")
	}

	clock.Advance(29 * time.Second)
	if c.State("compliance") != model.BreakerOpen {
		t.Error("expected breaker to stay open before cooldown")
	}

	clock.Advance(time.Second)
	if c.State("compliance") != model.BreakerHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", c.State("compliance"))
	}

	res, err := c.Invoke(context.Background(), "compliance", okCall("compliance"))
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if res.Status != model.GateOK {
		t.Errorf("expected ok result, got %s", res.Status)
	}
	snap := c.Snapshots()[0]
	if snap.State != model.BreakerClosed || snap.Cooldown != 30*time.Second || snap.FailureCount != 0 {
		t.Errorf("expected reset closed breaker, got %+v", snap)
	}
}

func TestInvoke_HalfOpenFailureDoublesCooldown(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, clock, &sleepRecorder{})

	calls := 0
	_, _ = c.Invoke(context.Background(), "safety", transientCall(&calls))

	clock.Advance(30 * time.Second)
	_, err := c.Invoke(context.Background(), "safety", transientCall(&calls))
	if !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected failed trial to reopen, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected exactly one trial call, got %d total", calls)
	}
	snap := c.Snapshots()[0]
	if snap.State != model.BreakerOpen || snap.Cooldown != 60*time.Second {
		t.Fatalf("expected open with 60s cooldown, got %+v", snap)
	}

	clock.Advance(60 * time.Second)
	_, _ = c.Invoke(context.Background(), "safety", transientCall(&calls))
	if got := c.Snapshots()[0].Cooldown; got != 90*time.Second {
		t.Errorf("expected cooldown capped at 90s, got %v", got)
	}
}

func TestBreaker_SingleHalfOpenTrial(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker("design_review", testBreaker(), clock.Now, nil)
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(30 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial to be admitted, got %v", err)
	}
	if err := b.Allow(); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected second caller to be refused during trial, got %v", err)
	}

	b.Release()
	if err := b.Allow(); err != nil {
		t.Errorf("expected a new trial after release, got %v", err)
	}
}

func TestInvoke_CallTimeoutIsTransient(t *testing.T) {
	retry := testRetry()
	retry.CallTimeout = 10 * time.Millisecond
	c, err := NewController(retry, testBreaker(), WithSleep((&sleepRecorder{}).Sleep))
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	res, err := c.Invoke(context.Background(), "remote", func(ctx context.Context) (model.GateResult, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return model.GateResult{}, ctx.Err()
		}
		return model.GateResult{Status: model.GateOK}, nil
	})
	if err != nil {
		t.Fatalf("expected retry after per-call timeout, got %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
}

func TestInvoke_ContextCancelled(t *testing.T) {
	c := newTestController(t, newFakeClock(), &sleepRecorder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := c.Invoke(ctx, "compliance", func(ctx context.Context) (model.GateResult, error) {
		called = true
		return model.GateResult{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("stage must not be called with a cancelled context")
	}
}

func TestInvoke_UsesLimiter(t *testing.T) {
	limiter := worker.NewLimiter(0.001, 1)
	c := newTestController(t, newFakeClock(), &sleepRecorder{}, WithLimiter(limiter))

	if _, err := c.Invoke(context.Background(), "fact_check", okCall("fact_check")); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Invoke(ctx, "fact_check", okCall("fact_check")); err == nil {
		t.Error("expected limiter to hold the second call past the deadline")
	}
	if c.State("fact_check") != model.BreakerClosed {
		t.Error("limiter waits must not affect the breaker")
	}
}

func TestBackoff(t *testing.T) {
	c := newTestController(t, newFakeClock(), &sleepRecorder{})

	tests := []struct {
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{0, 0.5, 100 * time.Millisecond},
		{1, 0.5, 200 * time.Millisecond},
		{2, 0.5, 400 * time.Millisecond},
		{0, 0.0, 80 * time.Millisecond},
		{1, 1.0, 240 * time.Millisecond},
		{5, 0.5, time.Second}, // capped
	}
	for _, tt := range tests {
		j := tt.jitter
		c.jitter = func() float64 { return j }
		if got := c.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) with jitter %.1f = %v, want %v", tt.attempt, tt.jitter, got, tt.want)
		}
	}
}

func TestController_PersistsAndRestores(t *testing.T) {
	clock := newFakeClock()
	store := NewFileStateStore(t.TempDir())

	c := newTestController(t, clock, &sleepRecorder{}, WithStateStore(store))
	calls := 0
	_, _ = c.Invoke(context.Background(), "link_check", transientCall(&calls))

	restored := newTestController(t, clock, &sleepRecorder{}, WithStateStore(store))
	if restored.State("link_check") != model.BreakerOpen {
		t.Fatalf("expected restored open breaker, got %s", restored.State("link_check"))
	}

	_, err := restored.Invoke(context.Background(), "link_check", okCall("link_check"))
	if !errors.Is(err, model.ErrCircuitOpen) {
		t.Errorf("expected restored breaker to fail fast, got %v", err)
	}
}

func TestController_SavesOnTransitionsOnly(t *testing.T) {
	store := &MemoryStateStore{}
	c := newTestController(t, newFakeClock(), &sleepRecorder{}, WithStateStore(store))

	for i := 0; i < 3; i++ {
		_, _ = c.Invoke(context.Background(), "compliance", okCall("compliance"))
	}
	if store.Saves() != 0 {
		t.Errorf("expected no saves without transitions, got %d", store.Saves())
	}

	calls := 0
	_, _ = c.Invoke(context.Background(), "compliance", transientCall(&calls))
	if store.Saves() != 1 {
		t.Errorf("expected 1 save for closed->open, got %d", store.Saves())
	}
	state, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state["compliance"].State != model.BreakerOpen {
		t.Errorf("expected persisted open state, got %+v", state["compliance"])
	}
}

func TestFileStateStore_NotFound(t *testing.T) {
	store := NewFileStateStore(t.TempDir())
	if _, err := store.Load(); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}
