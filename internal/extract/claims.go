package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var figurePattern = regexp.MustCompile(`\d[\d,.]*\s*(%|percent|million|billion|trillion)|\$\s?\d`)

// ClaimExtractor finds sentences that assert facts: quantitative figures
// or attributions. The fact-check stage reports such sentences when the
// artifact carries no structured claim for them.
type ClaimExtractor struct {
	keywords []string
}

// NewClaimExtractor creates a new claim extractor
func NewClaimExtractor() *ClaimExtractor {
	return &ClaimExtractor{
		keywords: []string{
			"according to", "data shows", "data show", "studies show",
			"research shows", "report found", "reported", "estimated",
			"increased", "decreased", "doubled", "tripled", "record high",
			"record low", "deficit", "debt", "unemployment", "inflation",
		},
	}
}

// Extract returns the fact-asserting sentences of plain text
func (e *ClaimExtractor) Extract(text string) []string {
	var claims []string
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		if figurePattern.MatchString(lower) {
			claims = append(claims, sentence)
			continue
		}
		for _, keyword := range e.keywords {
			if strings.Contains(lower, keyword) {
				claims = append(claims, sentence)
				break // Only match once per sentence
			}
		}
	}

	return dedupeClaims(claims)
}

// extractVisibleText extracts text nodes from HTML, skipping scripts/styles
func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

// splitSentences splits text into sentences (simple heuristic)
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		if len(sentence) >= 20 && len(sentence) <= 500 {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			// A terminator followed by whitespace ends the sentence; this
			// keeps decimals like 4.5 intact
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') {
				flush()
			}
		}
	}
	if current.Len() > 0 {
		flush()
	}

	return sentences
}

// dedupeClaims removes duplicate sentences
func dedupeClaims(claims []string) []string {
	seen := make(map[string]bool)
	var unique []string

	for _, claim := range claims {
		key := strings.ToLower(strings.TrimSpace(claim))
		if !seen[key] {
			seen[key] = true
			unique = append(unique, claim)
		}
	}

	return unique
}
