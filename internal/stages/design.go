package stages

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

// minContrast is the WCAG AA ratio for normal text
const minContrast = 4.5

// DesignReview checks a design brief for a named audience and readable
// colour contrast
type DesignReview struct{}

// NewDesignReview creates the design_review gate
func NewDesignReview() *DesignReview { return &DesignReview{} }

func (d *DesignReview) Name() string { return "design_review" }

func (d *DesignReview) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	var issues []model.Issue

	brief := strings.ToLower(stringField(in.Artifact, "brief"))
	if stringField(in.Artifact, "audience") == "" && !strings.Contains(brief, "audience") {
		issues = append(issues, issue(model.SeverityMajor, "brief does not name an audience"))
	}

	ratio, ok, err := contrast(in.Artifact)
	switch {
	case err != nil:
		issues = append(issues, issue(model.SeverityMinor, "cannot read colours: %v", err))
	case ok && ratio < minContrast:
		issues = append(issues, issue(model.SeverityMajor, "contrast ratio %.2f:1 is below %.1f:1", ratio, minContrast))
	}

	res := result(issues)
	if ok && err == nil {
		res.Handoff = map[string]any{"contrast_ratio": math.Round(ratio*100) / 100}
	}
	return res, nil
}

// contrast returns the declared contrast ratio or computes it from the
// foreground and background colours. ok is false when neither is given.
func contrast(artifact map[string]any) (float64, bool, error) {
	if r, isNum := artifact["contrast_ratio"].(float64); isNum {
		return r, true, nil
	}
	fg, bg := stringField(artifact, "foreground"), stringField(artifact, "background")
	if fg == "" || bg == "" {
		return 0, false, nil
	}
	l1, err := luminance(fg)
	if err != nil {
		return 0, false, err
	}
	l2, err := luminance(bg)
	if err != nil {
		return 0, false, err
	}
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return (l1 + 0.05) / (l2 + 0.05), true, nil
}

// luminance is the WCAG relative luminance of a #rrggbb or #rgb colour
func luminance(hex string) (float64, error) {
	h := strings.TrimPrefix(hex, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return 0, fmt.Errorf("colour %q is not #rrggbb", hex)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("colour %q is not #rrggbb", hex)
	}
	channel := func(c uint64) float64 {
		s := float64(c) / 255
		if s <= 0.03928 {
			return s / 12.92
		}
		return math.Pow((s+0.055)/1.055, 2.4)
	}
	r, g, b := channel(v>>16&0xff), channel(v>>8&0xff), channel(v&0xff)
	return 0.2126*r + 0.7152*g + 0.0722*b, nil
}
