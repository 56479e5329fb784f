package router

import (
	"fmt"
	"sort"

	"github.com/unburden/solvency/internal/model"
)

// Field is a payload field an intent cannot proceed without, with the one
// question that asks for it
type Field struct {
	Name     string
	Question string
}

// Pattern is the fixed workflow of one intent
type Pattern struct {
	Intent     model.Intent
	Steps      []model.RouteStep
	Required   []Field
	NextAction string
}

var stageReasons = map[string]string{
	"fact_check":         "claims need three citations across two tiers plus independent cross-verification",
	"compliance":         "political, advertising, accessibility and consent rules",
	"safety":             "hate, threat and spam screening",
	"link_check":         "cited and embedded links must resolve before publication",
	"petition_funnel":    "signature fields and consent",
	"fundraising_ethics": "ask amount and pressure language",
	"design_review":      "audience and colour contrast",
	"diagnostics":        "dry run",
}

func steps(names ...string) []model.RouteStep {
	out := make([]model.RouteStep, len(names))
	for i, name := range names {
		reason, ok := stageReasons[name]
		if !ok {
			reason = "configured gate"
		}
		out[i] = model.RouteStep{Stage: name, Reason: reason}
	}
	return out
}

// DefaultPatterns returns the built-in workflow of every intent
func DefaultPatterns() map[model.Intent]Pattern {
	claims := Field{Name: "claims", Question: "Which factual claims does this content make, and what citations support each one?"}
	return map[model.Intent]Pattern{
		model.IntentPlan: {
			Steps:      steps("compliance"),
			Required:   []Field{{Name: "goal", Question: "What is the campaign goal this plan should reach?"}},
			NextAction: "hand the plan to the campaign lead",
		},
		model.IntentProduce: {
			Steps:      steps("fact_check", "compliance", "safety"),
			Required:   []Field{claims},
			NextAction: "submit the draft for gating",
		},
		model.IntentDesign: {
			Steps:      steps("design_review", "compliance"),
			Required:   []Field{{Name: "brief", Question: "What is the design brief, including its audience?"}},
			NextAction: "submit the design for review",
		},
		model.IntentPublish: {
			Steps:      steps("fact_check", "compliance", "safety", "link_check"),
			Required:   []Field{claims},
			NextAction: "publish once every gate passes",
		},
		model.IntentPetition: {
			Steps: steps("petition_funnel", "compliance"),
			Required: []Field{
				{Name: "name", Question: "What is the signer's name?"},
				{Name: "email", Question: "What email address should the signature be confirmed at?"},
				{Name: "zip", Question: "What is the signer's ZIP code?"},
				{Name: "consent_updates", Question: "Did the signer agree to receive campaign updates?"},
			},
			NextAction: "record the signature",
		},
		model.IntentFundraise: {
			Steps:      steps("fundraising_ethics", "compliance"),
			Required:   []Field{{Name: "ask", Question: "What amount is the donation ask?"}},
			NextAction: "send the ask",
		},
		model.IntentAnalyze: {
			Steps:      steps("fact_check"),
			Required:   []Field{claims},
			NextAction: "share the verified analysis",
		},
		model.IntentMeeting: {
			Steps:      steps("safety", "compliance"),
			Required:   []Field{{Name: "transcript", Question: "Can you provide the meeting transcript or notes?"}},
			NextAction: "circulate notes and follow-ups",
		},
		model.IntentDebug: {
			Steps:      steps("diagnostics"),
			NextAction: "inspect the diagnostics handoff",
		},
	}
}

// withOverrides replaces the stages of the intents named in overrides.
// Required fields and next actions stay as built in.
func withOverrides(patterns map[model.Intent]Pattern, overrides map[string][]string) (map[model.Intent]Pattern, error) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		intent, err := model.ParseIntent(key)
		if err != nil {
			return nil, fmt.Errorf("route override: %w", err)
		}
		names := overrides[key]
		if len(names) == 0 {
			return nil, fmt.Errorf("route override for %s has no stages", intent)
		}
		p := patterns[intent]
		p.Steps = steps(names...)
		patterns[intent] = p
	}
	for intent, p := range patterns {
		p.Intent = intent
		patterns[intent] = p
	}
	return patterns, nil
}
