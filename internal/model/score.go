package model

// Score is the transparent confidence breakdown for a set of citations
type Score struct {
	Confidence float64  `json:"confidence"` // 0.0-1.0
	Signals    []Signal `json:"signals"`    // Diagnostic signals with transparent data
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"` // Formula inputs
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalTierDistribution   SignalType = "tier_distribution"   // Tier A/B/C balance
	SignalSourceIndependence SignalType = "source_independence" // Distinct publishers
	SignalCrossVerification  SignalType = "cross_verification"  // Independent tool path confirmation
	SignalFigureConflict     SignalType = "figure_conflict"     // Sources disagree on the core figure
)
