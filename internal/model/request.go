package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Intent selects the workflow pattern a request is routed through
type Intent string

const (
	IntentPlan      Intent = "plan"      // Campaign strategy planning
	IntentProduce   Intent = "produce"   // Research-backed content production
	IntentDesign    Intent = "design"    // Visual/brand design work
	IntentPublish   Intent = "publish"   // Publication of verified content
	IntentPetition  Intent = "petition"  // Petition signature funnel
	IntentFundraise Intent = "fundraise" // Donation asks
	IntentAnalyze   Intent = "analyze"   // Policy or impact analysis
	IntentMeeting   Intent = "meeting"   // Meeting notes and follow-ups
	IntentDebug     Intent = "debug"     // Dry-run diagnostics
)

// Intents lists every recognised intent in declaration order
var Intents = []Intent{
	IntentPlan, IntentProduce, IntentDesign, IntentPublish, IntentPetition,
	IntentFundraise, IntentAnalyze, IntentMeeting, IntentDebug,
}

// ParseIntent normalises and validates an intent string
func ParseIntent(s string) (Intent, error) {
	candidate := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, intent := range Intents {
		if intent == candidate {
			return intent, nil
		}
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// RequiresClaim reports whether the intent carries factual claims and
// therefore needs a non-empty payload
func (i Intent) RequiresClaim() bool {
	switch i {
	case IntentProduce, IntentPublish, IntentPetition, IntentFundraise, IntentAnalyze:
		return true
	default:
		return false
	}
}

// Priority orders requests for the caller's scheduling; the core records it
// but does not reorder stages by it
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Handoff is one note passed from a previous stage or agent
type Handoff struct {
	From string    `json:"from"`
	Note string    `json:"note"`
	At   time.Time `json:"at,omitempty"`
}

// Request is one unit of work submitted to the router
type Request struct {
	RequestID      string         `json:"request_id"`
	Intent         Intent         `json:"intent"`
	Payload        map[string]any `json:"payload,omitempty"`
	Priority       Priority       `json:"priority,omitempty"`
	Deadline       *time.Time     `json:"deadline,omitempty"`
	ContextHistory []Handoff      `json:"context_history,omitempty"`
	Revision       int            `json:"revision,omitempty"` // Incremented by the caller on each resubmission after revise
}

// Normalize applies defaults before validation
func (r *Request) Normalize() {
	if r == nil {
		return
	}
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Intent = Intent(strings.ToLower(strings.TrimSpace(string(r.Intent))))
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Revision < 0 {
		r.Revision = 0
	}
}

// Claims decodes the "claims" payload field into typed claims
func (r Request) Claims() ([]Claim, error) {
	return ClaimsFromArtifact(r.Payload)
}

// ClaimsFromArtifact decodes the "claims" field of an artifact map.
// A missing field yields no claims and no error.
func ClaimsFromArtifact(artifact map[string]any) ([]Claim, error) {
	raw, ok := artifact["claims"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode claims: %w", err)
	}
	var claims []Claim
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return claims, nil
}
