package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/unburden/solvency/internal/model"
)

// Breaker is the circuit breaker of one downstream stage.
//
// closed: calls pass; Threshold consecutive failures open the circuit.
// open: calls fail fast until Cooldown has elapsed since OpenedAt.
// half_open: exactly one trial call passes. Success closes the circuit and
// restores the base cooldown; failure reopens it with the cooldown doubled,
// capped at MaxCooldown.
type Breaker struct {
	stage     string
	threshold int
	baseCool  time.Duration
	maxCool   time.Duration
	now       func() time.Time
	onChange  func(model.BreakerSnapshot)

	mu       sync.Mutex
	state    model.BreakerState
	failures int
	openedAt time.Time
	cooldown time.Duration
	trial    bool // A half-open trial call is in flight
}

func newBreaker(stage string, cfg model.BreakerConfig, now func() time.Time, onChange func(model.BreakerSnapshot)) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	base := cfg.Cooldown
	if base <= 0 {
		base = 30 * time.Second
	}
	maxCool := cfg.MaxCooldown
	if maxCool < base {
		maxCool = base
	}
	return &Breaker{
		stage:     stage,
		threshold: threshold,
		baseCool:  base,
		maxCool:   maxCool,
		now:       now,
		onChange:  onChange,
		state:     model.BreakerClosed,
		cooldown:  base,
	}
}

// restore applies a persisted snapshot
func (b *Breaker) restore(snap model.BreakerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch snap.State {
	case model.BreakerOpen, model.BreakerHalfOpen, model.BreakerClosed:
		b.state = snap.State
	default:
		b.state = model.BreakerClosed
	}
	b.failures = snap.FailureCount
	b.openedAt = snap.OpenedAt
	if snap.Cooldown >= b.baseCool {
		b.cooldown = min(snap.Cooldown, b.maxCool)
	}
}

// Allow admits a call or returns ErrCircuitOpen without waiting
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var changed bool
	switch b.state {
	case model.BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return b.openErr()
		}
		b.state = model.BreakerHalfOpen
		b.trial = true
		changed = true
	case model.BreakerHalfOpen:
		if b.trial {
			b.mu.Unlock()
			return b.openErr()
		}
		b.trial = true
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if changed {
		b.emit(snap)
	}
	return nil
}

// Success records a successful call
func (b *Breaker) Success() {
	b.mu.Lock()
	changed := b.state != model.BreakerClosed
	b.state = model.BreakerClosed
	b.failures = 0
	b.trial = false
	b.openedAt = time.Time{}
	b.cooldown = b.baseCool
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if changed {
		b.emit(snap)
	}
}

// Failure records a failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case model.BreakerHalfOpen:
		b.state = model.BreakerOpen
		b.openedAt = b.now()
		b.cooldown = min(b.cooldown*2, b.maxCool)
		b.failures++
		b.trial = false
		changed = true
	case model.BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = model.BreakerOpen
			b.openedAt = b.now()
			changed = true
		}
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if changed {
		b.emit(snap)
	}
}

// Release ends an admitted call that produced no verdict on stage health
// (a permanent error or caller cancellation); a half-open breaker admits
// the next trial.
func (b *Breaker) Release() {
	b.mu.Lock()
	b.trial = false
	b.mu.Unlock()
}

// State reports the effective state: an open breaker whose cooldown has
// elapsed reports half_open because the next call will be admitted as a
// trial.
func (b *Breaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == model.BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return model.BreakerHalfOpen
	}
	return b.state
}

// Snapshot returns the persisted form of the breaker
func (b *Breaker) Snapshot() model.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() model.BreakerSnapshot {
	return model.BreakerSnapshot{
		Stage:        b.stage,
		State:        b.state,
		FailureCount: b.failures,
		OpenedAt:     b.openedAt,
		Cooldown:     b.cooldown,
	}
}

func (b *Breaker) emit(snap model.BreakerSnapshot) {
	if b.onChange != nil {
		b.onChange(snap)
	}
}

func (b *Breaker) openErr() error {
	return fmt.Errorf("%w: stage %s", model.ErrCircuitOpen, b.stage)
}
