package model

import "time"

// BreakerState is the circuit breaker state of one downstream stage
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is the persisted form of a stage breaker
type BreakerSnapshot struct {
	Stage        string        `json:"stage"`
	State        BreakerState  `json:"state"`
	FailureCount int           `json:"failure_count"`
	OpenedAt     time.Time     `json:"opened_at,omitempty"`
	Cooldown     time.Duration `json:"cooldown"`
}
