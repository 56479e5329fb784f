package model

import "strings"

// Claim is an atomic factual assertion that requires verification
type Claim struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence float64    `json:"confidence,omitempty"` // Author-reported confidence (0.0-1.0)
}

// Citation is a source attached to a claim. Citations are immutable once
// attached; stages copy them rather than editing in place.
type Citation struct {
	Title             string `json:"title,omitempty"`
	Publisher         string `json:"publisher,omitempty"`
	URL               string `json:"url,omitempty"`
	DateAccessed      string `json:"date_accessed,omitempty"`
	Tier              Tier   `json:"tier,omitempty"`
	CrossVerification bool   `json:"cross_verification,omitempty"` // Obtained independently to confirm the primary citations
	ToolPath          string `json:"tool_path,omitempty"`          // Dataset or tool that produced the citation (e.g. "dataset:fred")
	Figure            string `json:"figure,omitempty"`             // Core figure the source reports, compared for conflicts
}

// Tier is the citation quality classification
type Tier string

const (
	TierUnknown Tier = ""
	TierA       Tier = "A" // Primary government/official data
	TierB       Tier = "B" // Peer-reviewed or nonpartisan research
	TierC       Tier = "C" // Reputable media corroboration only
)

// ParseTier accepts "A", "tier a", "primary", "1" and friends
func ParseTier(s string) Tier {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.TrimSpace(strings.TrimPrefix(normalized, "tier"))
	switch normalized {
	case "a", "1", "primary":
		return TierA
	case "b", "2", "secondary":
		return TierB
	case "c", "3", "tertiary":
		return TierC
	default:
		return TierUnknown
	}
}

// Valid reports whether t is one of A, B or C
func (t Tier) Valid() bool {
	return t == TierA || t == TierB || t == TierC
}

// Weight is the tier's contribution to the transparent confidence formula
func (t Tier) Weight() int {
	switch t {
	case TierA:
		return 3
	case TierB:
		return 2
	case TierC:
		return 1
	default:
		return 0
	}
}

func (t Tier) String() string {
	if t == TierUnknown {
		return "unknown"
	}
	return string(t)
}

// VerificationStatus is the verdict of the citation verifier for one claim
type VerificationStatus string

const (
	VerificationSupported            VerificationStatus = "supported"
	VerificationContested            VerificationStatus = "contested"
	VerificationUnsupported          VerificationStatus = "unsupported"
	VerificationInsufficientEvidence VerificationStatus = "insufficient_evidence"
)

// VerificationResult is returned by the citation verifier
type VerificationResult struct {
	Claim      string             `json:"claim"`
	Status     VerificationStatus `json:"status"`
	Confidence float64            `json:"confidence"`
	Reasons    []string           `json:"reasons,omitempty"`
	Score      Score              `json:"score"`
}

// UnmarshalText lets citations carry tiers in any ParseTier spelling;
// unrecognised values decode as TierUnknown and are inferred from the URL
func (t *Tier) UnmarshalText(text []byte) error {
	*t = ParseTier(string(text))
	return nil
}
