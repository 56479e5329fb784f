package validate

import (
	"net/url"
	"strings"

	"github.com/unburden/solvency/internal/model"
)

// TierClassifier infers citation tiers from URLs using the trusted source
// registry: official data is A, research and nonpartisan analysis is B,
// everything else counts as media corroboration (C).
type TierClassifier struct {
	domainMap map[string]model.Tier
	tierA     map[string]bool
	tierB     map[string]bool
}

// NewTierClassifier creates a classifier from the citation policy
func NewTierClassifier(config *model.CitationConfig) *TierClassifier {
	if config == nil {
		config = &model.DefaultConfig().Citation
	}

	classifier := &TierClassifier{
		domainMap: make(map[string]model.Tier),
		tierA:     make(map[string]bool),
		tierB:     make(map[string]bool),
	}

	for host, tier := range config.DomainMap {
		if t := model.ParseTier(tier); t.Valid() {
			classifier.domainMap[normalizeHost(host)] = t
		}
	}
	for _, domain := range config.TierADomains {
		classifier.tierA[normalizeHost(domain)] = true
	}
	for _, domain := range config.TierBDomains {
		classifier.tierB[normalizeHost(domain)] = true
	}

	return classifier
}

// Classify classifies a URL into a tier. Unparseable or empty URLs are C.
func (c *TierClassifier) Classify(rawURL string) model.Tier {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return model.TierC
	}
	host := normalizeHost(parsed.Hostname())

	// Explicit mappings win, including for subdomains
	if t, ok := lookupSuffix(host, c.domainMap); ok {
		return t
	}
	if matchSuffix(host, c.tierA) {
		return model.TierA
	}
	if matchSuffix(host, c.tierB) {
		return model.TierB
	}

	// Government and military hosts publish official data
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".mil") ||
		strings.Contains(host, ".gov.") {
		return model.TierA
	}

	// Academic institutions
	if strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return model.TierB
	}

	return model.TierC
}

// Resolve returns the citation with its tier filled in when missing
func (c *TierClassifier) Resolve(citation model.Citation) model.Citation {
	if citation.Tier.Valid() || citation.URL == "" {
		return citation
	}
	citation.Tier = c.Classify(citation.URL)
	return citation
}

func matchSuffix(host string, domains map[string]bool) bool {
	if domains[host] {
		return true
	}
	for domain := range domains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func lookupSuffix(host string, domains map[string]model.Tier) (model.Tier, bool) {
	if t, ok := domains[host]; ok {
		return t, true
	}
	// Longest matching suffix so "data.example.org" beats "example.org"
	best, bestLen := model.TierUnknown, 0
	for domain, t := range domains {
		if strings.HasSuffix(host, "."+domain) && len(domain) > bestLen {
			best, bestLen = t, len(domain)
		}
	}
	return best, bestLen > 0
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
}
