package stages

import (
	"context"
	"strconv"
	"strings"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

var pressureTerms = []string{
	"last chance", "or else", "final warning", "act now or", "you will regret",
	"shame on you", "before it's too late",
}

// FundraisingEthics checks donation asks for a positive amount and for
// manipulative pressure language
type FundraisingEthics struct{}

// NewFundraisingEthics creates the fundraising_ethics gate
func NewFundraisingEthics() *FundraisingEthics { return &FundraisingEthics{} }

func (f *FundraisingEthics) Name() string { return "fundraising_ethics" }

func (f *FundraisingEthics) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	text, err := readContent(in.Artifact)
	if err != nil {
		return model.GateResult{}, err
	}

	var issues []model.Issue
	amount, ok := askAmount(in.Artifact["ask"])
	switch {
	case !ok:
		issues = append(issues, issue(model.SeverityMajor, "ask has no readable amount"))
	case amount <= 0:
		issues = append(issues, issue(model.SeverityMajor, "ask amount must be positive, got %g", amount))
	}
	if found := matches(text.Lower, pressureTerms); len(found) > 0 {
		issues = append(issues, issue(model.SeverityMajor, "pressure language: %s", strings.Join(found, ", ")))
	}
	return result(issues), nil
}

// askAmount reads an ask given as a number, a "$25" string or an object
// with an "amount" field
func askAmount(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(t), "$"), ",", ""))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case map[string]any:
		return askAmount(t["amount"])
	}
	return 0, false
}
