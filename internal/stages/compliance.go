package stages

import (
	"context"
	"strings"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

var (
	politicalKeywords = []string{
		"vote", "election", "candidate", "politician", "congress", "senate",
		"democrat", "republican", "campaign", "political", "legislation",
	}
	disclaimerPhrases = []string{"paid for by", "authorized by", "sponsored by", "funded by"}
	suppressionTerms  = []string{"don't vote", "dont vote", "avoid voting", "skip election", "skip the election"}
	misinfoTerms      = []string{"wrong date", "fake poll", "rigged election", "vote by text"}
	adIndicators      = []string{"buy now", "purchase", "order now", "special offer", "limited time"}
	adDisclosures     = []string{"advertisement", "sponsored", "paid promotion", "#ad"}
	interventionTerms = []string{"vote for", "vote against", "support candidate", "defeat candidate"}
)

// Compliance checks political advertising, advertising disclosure,
// accessibility and petition consent rules
type Compliance struct{}

// NewCompliance creates the compliance gate
func NewCompliance() *Compliance { return &Compliance{} }

func (c *Compliance) Name() string { return "compliance" }

func (c *Compliance) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	text, err := readContent(in.Artifact)
	if err != nil {
		return model.GateResult{}, err
	}

	var issues []model.Issue

	if found := matches(text.Lower, suppressionTerms); len(found) > 0 {
		issues = append(issues, issue(model.SeverityCritical, "potential voter suppression: %s", strings.Join(found, ", ")))
	}
	if found := matches(text.Lower, misinfoTerms); len(found) > 0 {
		issues = append(issues, issue(model.SeverityCritical, "election misinformation: %s", strings.Join(found, ", ")))
	}

	if containsAny(text.Lower, politicalKeywords) && !containsAny(text.Lower, disclaimerPhrases) {
		issues = append(issues, issue(model.SeverityMajor, "political content lacks a disclaimer (add \"Paid for by ...\")"))
	}
	if stringField(in.Artifact, "org_type") == "501c3" {
		if found := matches(text.Lower, interventionTerms); len(found) > 0 {
			issues = append(issues, issue(model.SeverityCritical, "501(c)(3) content intervenes in a campaign: %s", strings.Join(found, ", ")))
		}
	}
	if containsAny(text.Lower, adIndicators) && !containsAny(text.Lower, adDisclosures) {
		issues = append(issues, issue(model.SeverityMajor, "advertisement lacks an \"Advertisement\" or \"Sponsored\" disclosure"))
	}

	if text.Doc != nil {
		if missing := text.Doc.ImagesMissingAlt(); len(missing) > 0 {
			issues = append(issues, issue(model.SeverityMinor, "%d image(s) missing alt text, first: %s", len(missing), missing[0].Src))
		}
	}

	if in.Request.Intent == model.IntentPetition {
		issues = append(issues, consentIssues(in.Artifact)...)
	}

	return result(issues), nil
}

// consentIssues requires explicit consent before petition data is stored
func consentIssues(artifact map[string]any) []model.Issue {
	consent, ok := artifact["consent_updates"].(bool)
	switch {
	case !ok:
		return []model.Issue{issue(model.SeverityCritical, "petition data lacks a consent_updates decision")}
	case !consent:
		return []model.Issue{issue(model.SeverityCritical, "signer did not consent to updates; petition data cannot be used")}
	}
	return nil
}
