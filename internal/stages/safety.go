package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

var (
	hateIndicators   = []string{"inferior", "subhuman", "vermin", "exterminate"}
	threatIndicators = []string{"we will hurt", "deserve to die", "burn it down", "bring weapons"}
	biasIndicators   = []string{"those people", "you people", "illegal aliens", "welfare queens", "urban thugs"}
	exclusiveTerms   = []string{"guys", "mankind"}
	shoutingPattern  = regexp.MustCompile(`\b[A-Z]{3,}\b`)
)

const (
	maxExclamations   = 5
	maxShoutedWords   = 3
	minUniqueWordRate = 0.5
)

// Safety blocks hateful or threatening content and asks for revision of
// spam-like or biased copy
type Safety struct{}

// NewSafety creates the safety gate
func NewSafety() *Safety { return &Safety{} }

func (s *Safety) Name() string { return "safety" }

func (s *Safety) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	text, err := readContent(in.Artifact)
	if err != nil {
		return model.GateResult{}, err
	}

	var issues []model.Issue
	if found := matches(text.Lower, hateIndicators); len(found) > 0 {
		issues = append(issues, issue(model.SeverityCritical, "hate speech indicators: %s", strings.Join(found, ", ")))
	}
	if found := matches(text.Lower, threatIndicators); len(found) > 0 {
		issues = append(issues, issue(model.SeverityCritical, "threatening language: %s", strings.Join(found, ", ")))
	}
	if found := matches(text.Lower, biasIndicators); len(found) > 0 {
		issues = append(issues, issue(model.SeverityMajor, "biased language: %s", strings.Join(found, ", ")))
	}
	if reason := spamReason(text.Text); reason != "" {
		issues = append(issues, issue(model.SeverityMajor, "content reads as spam: %s", reason))
	}
	if found := matches(text.Lower, exclusiveTerms); len(found) > 0 {
		issues = append(issues, issue(model.SeverityInfo, "consider inclusive alternatives to: %s", strings.Join(found, ", ")))
	}
	return result(issues), nil
}

func spamReason(text string) string {
	if strings.Count(text, "!") > maxExclamations {
		return "excessive exclamation marks"
	}
	if len(shoutingPattern.FindAllString(text, -1)) > maxShoutedWords {
		return "excessive capitals"
	}
	words := strings.Fields(strings.ToLower(text))
	if len(words) >= 10 {
		unique := make(map[string]bool, len(words))
		for _, w := range words {
			unique[w] = true
		}
		if float64(len(unique)) < float64(len(words))*minUniqueWordRate {
			return "repetitive wording"
		}
	}
	return ""
}
