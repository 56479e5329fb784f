package model

import (
	"fmt"
	"time"
)

// RouteStatus is the router's verdict on a request
type RouteStatus string

const (
	RouteAccepted  RouteStatus = "accepted"
	RouteNeedsInfo RouteStatus = "needs_info"
	RouteBlocked   RouteStatus = "blocked"
)

// RouteStep is one gate in a precomputed route
type RouteStep struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// RouteDecision is returned by the intent router
type RouteDecision struct {
	RequestID  string      `json:"request_id"`
	Intent     Intent      `json:"intent"`
	Status     RouteStatus `json:"status"`
	Route      []RouteStep `json:"route"`
	NextAction string      `json:"next_action"`
	Question   string      `json:"question,omitempty"` // At most one clarifying question
	Reason     string      `json:"reason,omitempty"`
	Revision   int         `json:"revision"`
	DecidedAt  time.Time   `json:"decided_at"`
}

// Stages returns the stage names of the route in order
func (d RouteDecision) Stages() []string {
	names := make([]string, len(d.Route))
	for i, step := range d.Route {
		names[i] = step.Stage
	}
	return names
}

// PipelineStatus is the aggregated status of a gate pipeline run
type PipelineStatus string

const (
	PipelineAccepted  PipelineStatus = "accepted"
	PipelineRevise    PipelineStatus = "revise"
	PipelineBlocked   PipelineStatus = "blocked"
	PipelineCancelled PipelineStatus = "cancelled"
)

// Terminal reports whether the run reached a final verdict rather than
// halting for a revision or a cancellation
func (s PipelineStatus) Terminal() bool {
	return s == PipelineAccepted || s == PipelineBlocked
}

// Reasons reported on blocked pipeline results
const (
	ReasonStageUnavailable   = "stage_unavailable"
	ReasonStageFailed        = "stage_failed"
	ReasonVerificationFailed = "verification_failed"
	ReasonRevisionLimit      = "revision_limit_exceeded"
	ReasonCancelled          = "cancelled"
	ReasonDeadlineExceeded   = "deadline_exceeded"
)

// Retryable reports whether a blocked result came from downstream
// availability rather than a verdict on the artifact, so resubmitting the
// same revision may succeed
func (r PipelineResult) Retryable() bool {
	return r.Status == PipelineCancelled ||
		(r.Status == PipelineBlocked && (r.Reason == ReasonStageUnavailable || r.Reason == ReasonStageFailed))
}

// PipelineResult is the outcome of running a request through its route
type PipelineResult struct {
	RequestID string         `json:"request_id"`
	Status    PipelineStatus `json:"status"`
	Results   []GateResult   `json:"results"`
	HaltedAt  string         `json:"halted_at,omitempty"` // Stage that stopped the run (revise/block/cancel)
	Revision  int            `json:"revision"`
	Reason    string         `json:"reason,omitempty"`
}

// Err is nil unless the run was blocked. A gate's verdict wraps
// ErrVerificationFailed and an unreachable stage wraps ErrCircuitOpen.
func (r PipelineResult) Err() error {
	if r.Status != PipelineBlocked {
		return nil
	}
	switch r.Reason {
	case ReasonStageUnavailable:
		return fmt.Errorf("%w: %s blocked at %s", ErrCircuitOpen, r.RequestID, r.HaltedAt)
	case ReasonStageFailed:
		return fmt.Errorf("%s blocked at %s: %s", r.RequestID, r.HaltedAt, r.Reason)
	}
	return fmt.Errorf("%w: %s blocked at %s (%s)", ErrVerificationFailed, r.RequestID, r.HaltedAt, r.Reason)
}

// RequestStatus is where a request stands in its gate pipeline
type RequestStatus struct {
	RequestID    string         `json:"request_id"`
	Status       PipelineStatus `json:"status,omitempty"` // Empty while the first run is in flight
	Revision     int            `json:"revision"`
	Route        []string       `json:"route"`
	Completed    []string       `json:"completed"` // Stages passed, in route order
	Failed       []string       `json:"failed"`    // Stages whose latest verdict was revise or block
	HaltedAt     string         `json:"halted_at,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Progress     float64        `json:"progress"` // Percent of the route passed
	Terminal     bool           `json:"terminal"` // The latest run reached a final verdict
	InFlight     bool           `json:"in_flight"`
	ReviseCounts map[string]int `json:"revise_counts,omitempty"`
	LastResult   *GateResult    `json:"last_result,omitempty"`
	AuditTrail   []AuditRecord  `json:"audit_trail"`
}

// Aggregate folds gate results into a pipeline status. Block always
// dominates: any block makes the whole run blocked regardless of the
// other results.
func Aggregate(results []GateResult) PipelineStatus {
	status := PipelineAccepted
	for _, r := range results {
		switch r.Status {
		case GateBlock:
			return PipelineBlocked
		case GateRevise:
			status = PipelineRevise
		}
	}
	return status
}

// Submission is the combined outcome of routing a request and, when the
// route was accepted, running its pipeline
type Submission struct {
	Decision RouteDecision   `json:"decision"`
	Result   *PipelineResult `json:"result,omitempty"`
}

// Outcome summarises a submission as a single status string
func (s Submission) Outcome() string {
	if s.Result != nil {
		return string(s.Result.Status)
	}
	return string(s.Decision.Status)
}
