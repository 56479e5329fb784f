package validate

import (
	"testing"

	"github.com/unburden/solvency/internal/model"
)

func TestTierClassifier_Defaults(t *testing.T) {
	classifier := NewTierClassifier(nil)

	tests := []struct {
		url      string
		expected model.Tier
		desc     string
	}{
		{"https://www.federalreserve.gov/releases/z1/", model.TierA, "configured tier A domain"},
		{"https://fred.stlouisfed.org/series/GDP", model.TierC, "unlisted host falls through to C"},
		{"https://apps.bea.gov/iTable/", model.TierA, "subdomain of tier A domain"},
		{"https://www.bis.org/statistics/", model.TierA, "international official body"},
		{"https://data.ssa.gov/", model.TierA, "any .gov host"},
		{"https://www.army.mil/article", model.TierA, ".mil host"},
		{"https://www.brookings.edu/articles/x", model.TierB, "configured tier B domain"},
		{"https://www.nber.org/papers/w31234", model.TierB, "research institute"},
		{"https://economics.mit.edu/paper", model.TierB, "any .edu host"},
		{"https://www.ucl.ac.uk/report", model.TierB, "UK academic host"},
		{"https://www.reuters.com/markets/", model.TierC, "media"},
		{"not a url", model.TierC, "unparseable"},
		{"", model.TierC, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := classifier.Classify(tt.url); got != tt.expected {
				t.Errorf("Expected %v for %s, got %v", tt.expected, tt.url, got)
			}
		})
	}
}

func TestTierClassifier_DomainMapOverrides(t *testing.T) {
	classifier := NewTierClassifier(&model.CitationConfig{
		TierADomains: []string{"example.org"},
		DomainMap: map[string]string{
			"blog.example.org":     "C",
			"stlouisfed.org":       "tier a",
			"research.example.gov": "b",
			"ignored.example":      "bogus",
		},
	})

	tests := []struct {
		url      string
		expected model.Tier
	}{
		{"https://blog.example.org/post", model.TierC},
		{"https://www.example.org/data", model.TierA},
		{"https://fred.stlouisfed.org/series/UNRATE", model.TierA},
		{"https://research.example.gov/", model.TierB},
		{"https://ignored.example/", model.TierC},
	}
	for _, tt := range tests {
		if got := classifier.Classify(tt.url); got != tt.expected {
			t.Errorf("Classify(%s) = %v, want %v", tt.url, got, tt.expected)
		}
	}
}

func TestTierClassifier_Resolve(t *testing.T) {
	classifier := NewTierClassifier(nil)

	explicit := classifier.Resolve(model.Citation{URL: "https://www.reuters.com/x", Tier: model.TierA})
	if explicit.Tier != model.TierA {
		t.Errorf("expected explicit tier to be kept, got %v", explicit.Tier)
	}

	inferred := classifier.Resolve(model.Citation{URL: "https://www.bls.gov/cpi/"})
	if inferred.Tier != model.TierA {
		t.Errorf("expected inferred tier A, got %v", inferred.Tier)
	}

	noURL := classifier.Resolve(model.Citation{Publisher: "Anonymous"})
	if noURL.Tier != model.TierUnknown {
		t.Errorf("expected no tier without URL, got %v", noURL.Tier)
	}
}
