package stages

import (
	"fmt"
	"strings"

	"github.com/unburden/solvency/internal/extract"
	"github.com/unburden/solvency/internal/model"
)

// textFields are the artifact fields that carry human-readable copy
var textFields = []string{
	"title", "headline", "subject", "summary", "body", "content", "text",
	"message", "copy", "caption", "cta", "ask_text", "brief", "transcript", "goal",
}

// content is the readable view of an artifact shared by the text gates
type content struct {
	Text  string
	Lower string
	Doc   *extract.Document // Parsed "html" field; nil without one
}

// readContent collects the artifact's copy. The "html" field is parsed so
// its visible text, images and links are available to the gates.
func readContent(artifact map[string]any) (*content, error) {
	var parts []string
	for _, key := range textFields {
		if s, ok := artifact[key].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}

	claims, err := model.ClaimsFromArtifact(artifact)
	if err == nil {
		for _, c := range claims {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}

	c := &content{}
	if raw, ok := artifact["html"].(string); ok && strings.TrimSpace(raw) != "" {
		base, _ := artifact["base_url"].(string)
		doc, err := extract.Parse(raw, base)
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		c.Doc = doc
		if doc.Text != "" {
			parts = append(parts, doc.Text)
		}
	}

	c.Text = strings.Join(parts, "\n")
	c.Lower = strings.ToLower(c.Text)
	return c, nil
}

// matches returns the terms that occur in lower, in term order
func matches(lower string, terms []string) []string {
	var found []string
	for _, term := range terms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

func containsAny(lower string, terms []string) bool {
	return len(matches(lower, terms)) > 0
}

func stringField(artifact map[string]any, key string) string {
	s, _ := artifact[key].(string)
	return strings.TrimSpace(s)
}

func issue(sev model.Severity, format string, args ...any) model.Issue {
	return model.Issue{Severity: sev, Note: fmt.Sprintf(format, args...)}
}

// result builds a gate result whose status follows from its issues
func result(issues []model.Issue) model.GateResult {
	return model.GateResult{Status: model.StatusFromIssues(issues), Issues: issues}
}
