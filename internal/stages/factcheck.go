package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/unburden/solvency/internal/extract"
	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
	"github.com/unburden/solvency/internal/validate"
)

// FactCheck verifies every structured claim against the citation policy.
// Figures in the copy that no structured claim covers are reported too.
type FactCheck struct {
	verifier  *validate.Verifier
	extractor *extract.ClaimExtractor
}

// NewFactCheck creates the fact_check gate
func NewFactCheck(verifier *validate.Verifier) *FactCheck {
	return &FactCheck{verifier: verifier, extractor: extract.NewClaimExtractor()}
}

func (f *FactCheck) Name() string { return "fact_check" }

func (f *FactCheck) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	claims, err := model.ClaimsFromArtifact(in.Artifact)
	if err != nil {
		return result([]model.Issue{issue(model.SeverityMajor, "claims are malformed: %v", err)}), nil
	}

	if len(claims) == 0 {
		c, err := readContent(in.Artifact)
		if err != nil {
			return model.GateResult{}, err
		}
		if found := f.extractor.Extract(c.Text); len(found) > 0 {
			return result([]model.Issue{issue(model.SeverityMajor,
				"%d factual statement(s) carry no citations, first: %q", len(found), found[0])}), nil
		}
		return result([]model.Issue{issue(model.SeverityInfo, "no claims to verify")}), nil
	}

	var issues []model.Issue
	var cited []model.Citation
	verifications := f.verifier.VerifyAll(claims)
	for i, v := range verifications {
		reasons := strings.Join(v.Reasons, "; ")
		switch v.Status {
		case model.VerificationSupported:
			cited = append(cited, f.verifier.Qualifying(claims[i].Citations)...)
		case model.VerificationInsufficientEvidence:
			issues = append(issues, issue(model.SeverityMajor, "insufficient citation diversity: %q (%s)", v.Claim, reasons))
		case model.VerificationContested:
			issues = append(issues, issue(model.SeverityMajor, "contested claim: %q (%s)", v.Claim, reasons))
		case model.VerificationUnsupported:
			issues = append(issues, issue(model.SeverityMajor, "unsupported claim: %q (%s)", v.Claim, reasons))
		}
	}

	res := result(issues)
	res.Citations = cited
	res.Handoff = map[string]any{
		"verification": verifications,
		"fact_check":   fmt.Sprintf("%d/%d claims supported", len(verifications)-len(issues), len(verifications)),
	}
	return res, nil
}
