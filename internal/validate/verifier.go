package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/score"
)

// nonSupportedCap bounds the confidence of any claim that is not supported
const nonSupportedCap = 0.5

// Verifier checks each claim's citations against the citation policy. It
// is pure and deterministic: identical claims always verify identically.
type Verifier struct {
	policy     model.CitationConfig
	classifier *TierClassifier
	scorer     *score.Scorer
}

// NewVerifier creates a verifier for the given policy
func NewVerifier(policy model.CitationConfig) *Verifier {
	if policy.MinCitations <= 0 {
		policy.MinCitations = 3
	}
	if policy.MinTiers <= 0 {
		policy.MinTiers = 2
	}
	if policy.MinIndependentSources <= 0 {
		policy.MinIndependentSources = 2
	}
	return &Verifier{
		policy:     policy,
		classifier: NewTierClassifier(&policy),
		scorer:     score.NewScorer(),
	}
}

// Classifier exposes the tier classifier the verifier resolves tiers with
func (v *Verifier) Classifier() *TierClassifier {
	return v.classifier
}

// Verify checks one claim. Checks run in a fixed order and the first
// failing one decides the status: no qualifying citation, conflicting
// figures, too few citations/tiers/publishers, missing cross-verification.
func (v *Verifier) Verify(claim model.Claim) model.VerificationResult {
	qualifying := v.Qualifying(claim.Citations)
	result := model.VerificationResult{
		Claim: claim.Text,
		Score: v.scorer.Calculate(qualifying),
	}
	result.Confidence = result.Score.Confidence

	a := score.Analyze(qualifying)
	switch {
	case a.Total == 0:
		result.Status = model.VerificationUnsupported
		result.Reasons = []string{"no qualifying citation"}
	case len(a.Figures) >= 2:
		result.Status = model.VerificationContested
		result.Reasons = []string{fmt.Sprintf("sources report conflicting figures: %s", strings.Join(a.Figures, ", "))}
	default:
		result.Reasons = v.diversityShortfalls(a)
		if len(result.Reasons) > 0 {
			result.Status = model.VerificationInsufficientEvidence
		} else {
			result.Status = model.VerificationSupported
		}
	}

	if result.Status != model.VerificationSupported {
		result.Confidence = math.Min(result.Confidence, nonSupportedCap)
	}
	return result
}

// VerifyAll verifies claims in order
func (v *Verifier) VerifyAll(claims []model.Claim) []model.VerificationResult {
	results := make([]model.VerificationResult, len(claims))
	for i, c := range claims {
		results[i] = v.Verify(c)
	}
	return results
}

// Qualifying resolves missing tiers and keeps citations that have a URL or
// publisher and a valid tier
func (v *Verifier) Qualifying(citations []model.Citation) []model.Citation {
	var out []model.Citation
	for _, c := range citations {
		c = v.classifier.Resolve(c)
		if strings.TrimSpace(c.URL) == "" && strings.TrimSpace(c.Publisher) == "" {
			continue
		}
		if !c.Tier.Valid() {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (v *Verifier) diversityShortfalls(a score.Analysis) []string {
	var reasons []string
	if a.Total < v.policy.MinCitations {
		reasons = append(reasons, fmt.Sprintf("%d citations, need %d", a.Total, v.policy.MinCitations))
	}
	if a.DistinctTiers < v.policy.MinTiers {
		reasons = append(reasons, fmt.Sprintf("%d tier(s), need %d", a.DistinctTiers, v.policy.MinTiers))
	}
	if a.Publishers < v.policy.MinIndependentSources {
		reasons = append(reasons, fmt.Sprintf("%d independent publisher(s), need %d", a.Publishers, v.policy.MinIndependentSources))
	}
	if len(reasons) > 0 {
		return reasons
	}
	if v.policy.RequireCrossVerification && !a.CrossVerified {
		reasons = append(reasons, "no independent cross-verification")
	}
	return reasons
}
