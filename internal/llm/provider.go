package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/unburden/solvency/internal/model"
)

// ErrCitationLeak is returned when a reviewer cites a URL outside the
// artifact's evidence allowlist
var ErrCitationLeak = errors.New("citation leak")

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Review asks the model for a gate verdict on an artifact
	Review(ctx context.Context, req ReviewRequest) (*ReviewResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// ReviewRequest contains the input for an LLM review
type ReviewRequest struct {
	// Stage is the gate the model stands in for (compliance, safety, ...)
	Stage string

	Intent   model.Intent
	Artifact map[string]any

	// EvidenceURLs is the STRICT allowlist of URLs the model can cite
	EvidenceURLs []string

	// Prompt overrides the default prompt
	Prompt string

	// Model overrides the configured model
	Model string

	MaxTokens int
}

// ReviewResponse is the model's verdict
type ReviewResponse struct {
	Status     model.GateStatus
	Issues     []model.Issue
	CitedURLs  []string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// StrictEvidence enforces the URL allowlist (should always be true)
	StrictEvidence bool

	// MaxTokens for response generation
	MaxTokens int

	// HTTP carries proxy and user agent settings for the Ollama client
	HTTP model.HTTPConfig
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "", // Disabled by default
		Timeout:        30,
		StrictEvidence: true,
		MaxTokens:      800,
	}
}

const systemPrompt = "You are a verification gate in an advocacy content pipeline. You judge evidence and policy compliance; you never rewrite the content. Answer with JSON only."

// BuildPrompt constructs the default review prompt
func BuildPrompt(req ReviewRequest) string {
	artifact, err := json.MarshalIndent(req.Artifact, "", "  ")
	if err != nil {
		artifact = []byte("{}")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Act as the %q gate for a %q request.\n\n", req.Stage, req.Intent)
	b.WriteString("CRITICAL RULES:\n")
	fmt.Fprintf(&b, "1. You MUST ONLY cite URLs from this allowed list:%s\n\n", joinURLs(req.EvidenceURLs))
	b.WriteString("2. DO NOT infer, speculate, or cite external sources beyond this list.\n")
	b.WriteString("3. Judge SUPPORT QUALITY and policy compliance, not truth.\n")
	b.WriteString("4. Use \"block\" only for content that must never be published; use \"revise\" for fixable problems.\n\n")
	b.WriteString("Respond with a single JSON object:\n")
	b.WriteString(`{"status": "ok" | "revise" | "block", "issues": [{"severity": "info" | "minor" | "major" | "critical", "note": "..."}]}`)
	b.WriteString("\n\nArtifact:\n")
	b.Write(artifact)
	b.WriteString("\n")
	return b.String()
}

// ParseReview decodes a model answer into a verdict. The JSON object may
// be wrapped in prose or a code fence. With strict set, any URL in the
// answer that is not in evidence fails with ErrCitationLeak.
func ParseReview(text string, evidence []string, strict bool) (*ReviewResponse, error) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model answer")
	}

	var raw struct {
		Status model.GateStatus `json:"status"`
		Issues []model.Issue    `json:"issues"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode model answer: %w", err)
	}
	raw.Status = model.GateStatus(strings.ToLower(strings.TrimSpace(string(raw.Status))))
	if raw.Status == "" {
		raw.Status = model.StatusFromIssues(raw.Issues)
	}
	if !raw.Status.Valid() {
		return nil, fmt.Errorf("model answered unknown status %q", raw.Status)
	}

	cited := extractURLs(text)
	if strict {
		for _, u := range cited {
			if !contains(evidence, u) {
				return nil, fmt.Errorf("%w: model cited disallowed URL: %s", ErrCitationLeak, u)
			}
		}
	}

	return &ReviewResponse{Status: raw.Status, Issues: raw.Issues, CitedURLs: cited}, nil
}

// EvidenceURLs returns the citation URLs of the artifact's claims, sorted
func EvidenceURLs(artifact map[string]any) []string {
	claims, err := model.ClaimsFromArtifact(artifact)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var urls []string
	for _, c := range claims {
		for _, cit := range c.Citations {
			if cit.URL != "" && !seen[cit.URL] {
				seen[cit.URL] = true
				urls = append(urls, cit.URL)
			}
		}
	}
	sort.Strings(urls)
	return urls
}

var urlPattern = regexp.MustCompile(`https?://[^\s\)"]+`)

// extractURLs extracts all URLs from text
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	var unique []string
	for _, url := range matches {
		url = strings.TrimRight(url, ".,;:!?")
		if !seen[url] {
			seen[url] = true
			unique = append(unique, url)
		}
	}
	return unique
}

func joinURLs(urls []string) string {
	if len(urls) == 0 {
		return "\n(No evidence URLs available)"
	}
	var b strings.Builder
	for i, url := range urls {
		if i >= 20 { // Limit to first 20 to avoid token bloat
			fmt.Fprintf(&b, "\n... and %d more URLs", len(urls)-20)
			break
		}
		fmt.Fprintf(&b, "\n- %s", url)
	}
	return b.String()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
