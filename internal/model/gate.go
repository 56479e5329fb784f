package model

import "time"

// GateStatus is the outcome of one verification stage
type GateStatus string

const (
	GateOK     GateStatus = "ok"
	GateRevise GateStatus = "revise"
	GateBlock  GateStatus = "block"
)

// Valid reports whether s is a known gate status
func (s GateStatus) Valid() bool {
	return s == GateOK || s == GateRevise || s == GateBlock
}

// Severity grades a single issue raised by a stage
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Issue is one finding attached to a gate result
type Issue struct {
	Severity Severity `json:"severity"`
	Note     string   `json:"note"`
}

// GateResult is the output of one stage execution. It is appended to the
// audit log and never mutated afterwards.
type GateResult struct {
	StageName string         `json:"stage_name"`
	Status    GateStatus     `json:"status"`
	Issues    []Issue        `json:"issues,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Revision  int            `json:"revision"`
	Attempts  int            `json:"attempts,omitempty"`  // Downstream calls made, including retries
	Citations []Citation     `json:"citations,omitempty"` // Citations the stage relied on
	Handoff   map[string]any `json:"handoff,omitempty"`   // Merged into the artifact for later stages
}

// HasBlocking reports whether any issue is critical
func (g GateResult) HasBlocking() bool {
	for _, issue := range g.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// StatusFromIssues derives a gate status from issue severities:
// critical blocks, minor/major revise, info-only passes
func StatusFromIssues(issues []Issue) GateStatus {
	status := GateOK
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			return GateBlock
		case SeverityMajor, SeverityMinor:
			status = GateRevise
		}
	}
	return status
}
