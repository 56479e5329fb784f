package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
	"github.com/unburden/solvency/internal/validate"
)

// LinkChecker is the part of validate.LinkChecker the link_check gate uses
type LinkChecker interface {
	Check(ctx context.Context, urls []string) []model.LinkCheck
}

var _ LinkChecker = (*validate.LinkChecker)(nil)

// LinkCheck confirms that every cited and embedded link resolves
type LinkCheck struct {
	checker LinkChecker
}

// NewLinkCheck creates the link_check gate
func NewLinkCheck(checker LinkChecker) *LinkCheck {
	return &LinkCheck{checker: checker}
}

func (l *LinkCheck) Name() string { return "link_check" }

func (l *LinkCheck) Evaluate(ctx context.Context, in pipeline.StageInput) (model.GateResult, error) {
	urls, err := artifactLinks(in.Artifact)
	if err != nil {
		return model.GateResult{}, err
	}
	if len(urls) == 0 {
		return result([]model.Issue{issue(model.SeverityInfo, "no links to check")}), nil
	}

	checks := l.checker.Check(ctx, urls)
	if err := ctx.Err(); err != nil {
		return model.GateResult{}, err
	}

	var issues []model.Issue
	for _, c := range checks {
		switch {
		case c.Disallowed:
			issues = append(issues, issue(model.SeverityInfo, "robots.txt disallows checking %s", c.URL))
		case c.Dead:
			issues = append(issues, issue(model.SeverityMajor, "dead link: %s%s", c.URL, linkDetail(c)))
		case !c.Accessible:
			issues = append(issues, issue(model.SeverityMinor, "link did not resolve: %s%s", c.URL, linkDetail(c)))
		case c.Stale:
			issues = append(issues, issue(model.SeverityInfo, "source not updated in over a year: %s", c.URL))
		}
	}

	res := result(issues)
	res.Handoff = map[string]any{"links_checked": len(checks)}
	return res, nil
}

func linkDetail(c model.LinkCheck) string {
	switch {
	case c.StatusCode != 0:
		return fmt.Sprintf(" (HTTP %d)", c.StatusCode)
	case c.Error != "":
		return " (" + c.Error + ")"
	}
	return ""
}

// artifactLinks gathers citation URLs, links embedded in the html field
// and an explicit "links" list, deduplicated in that order
func artifactLinks(artifact map[string]any) ([]string, error) {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	claims, err := model.ClaimsFromArtifact(artifact)
	if err != nil {
		return nil, err
	}
	for _, c := range claims {
		for _, cit := range c.Citations {
			add(cit.URL)
		}
	}

	text, err := readContent(artifact)
	if err != nil {
		return nil, err
	}
	if text.Doc != nil {
		for _, u := range text.Doc.LinkURLs() {
			add(u)
		}
	}

	if list, ok := artifact["links"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	}
	return urls, nil
}
