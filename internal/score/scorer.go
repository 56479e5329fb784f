package score

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/unburden/solvency/internal/model"
)

// Analysis is the evidence profile of a claim's qualifying citations
type Analysis struct {
	Total         int                // Qualifying citations
	Tiers         map[model.Tier]int // Count per tier
	DistinctTiers int
	Primary       int // Citations not marked as cross-verification
	Publishers    int // Distinct publishers among primary citations
	CrossVerified bool
	Figures       []string // Distinct normalised figures, sorted
}

// Analyze profiles citations. Callers pass only qualifying citations
// (tier resolved, URL or publisher present).
func Analyze(citations []model.Citation) Analysis {
	a := Analysis{Tiers: make(map[model.Tier]int)}

	primaryPublishers := make(map[string]bool)
	primaryTools := make(map[string]bool)
	figures := make(map[string]bool)
	var cross []model.Citation

	for _, c := range citations {
		a.Total++
		a.Tiers[c.Tier]++
		if f := NormalizeFigure(c.Figure); f != "" {
			figures[f] = true
		}
		if c.CrossVerification {
			cross = append(cross, c)
			continue
		}
		a.Primary++
		if p := PublisherKey(c); p != "" {
			primaryPublishers[p] = true
		}
		if tp := normalizeToolPath(c.ToolPath); tp != "" {
			primaryTools[tp] = true
		}
	}

	a.DistinctTiers = len(a.Tiers)
	a.Publishers = len(primaryPublishers)

	// A cross-verification citation counts only when it comes from a
	// publisher and a tool path none of the primary citations used
	for _, c := range cross {
		p := PublisherKey(c)
		tp := normalizeToolPath(c.ToolPath)
		if p == "" || primaryPublishers[p] {
			continue
		}
		if tp != "" && primaryTools[tp] {
			continue
		}
		a.CrossVerified = true
		break
	}

	for f := range figures {
		a.Figures = append(a.Figures, f)
	}
	sort.Strings(a.Figures)
	return a
}

// Scorer calculates the transparent confidence score and its signals
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate scores qualifying citations. Confidence is the tier-weighted
// mean (A*3 + B*2 + C*1) / (n*3); the signals carry the formula inputs.
func (s *Scorer) Calculate(citations []model.Citation) model.Score {
	a := Analyze(citations)

	signals := []model.Signal{
		s.tierDistribution(a),
		s.sourceIndependence(a),
		s.crossVerification(a),
	}
	if conflict, ok := s.figureConflict(a); ok {
		signals = append(signals, conflict)
	}

	return model.Score{
		Confidence: Confidence(a),
		Signals:    signals,
	}
}

// Confidence returns the tier-weighted confidence of an analysis
func Confidence(a Analysis) float64 {
	if a.Total == 0 {
		return 0
	}
	weighted := 0
	for tier, n := range a.Tiers {
		weighted += tier.Weight() * n
	}
	return float64(weighted) / float64(a.Total*model.TierA.Weight())
}

func (s *Scorer) tierDistribution(a Analysis) model.Signal {
	severity := model.SeverityInfo
	if a.DistinctTiers < 2 {
		severity = model.SeverityMajor
	} else if a.Tiers[model.TierA] == 0 {
		severity = model.SeverityMinor
	}

	return model.Signal{
		Type:     model.SignalTierDistribution,
		Severity: severity,
		Description: fmt.Sprintf("Tier distribution: %d A, %d B, %d C",
			a.Tiers[model.TierA], a.Tiers[model.TierB], a.Tiers[model.TierC]),
		Data: map[string]any{
			"tier_a":     a.Tiers[model.TierA],
			"tier_b":     a.Tiers[model.TierB],
			"tier_c":     a.Tiers[model.TierC],
			"total":      a.Total,
			"tiers":      a.DistinctTiers,
			"confidence": Confidence(a),
			"formula":    "(A*3 + B*2 + C*1) / (total*3)",
		},
	}
}

func (s *Scorer) sourceIndependence(a Analysis) model.Signal {
	severity := model.SeverityInfo
	if a.Publishers < 2 {
		severity = model.SeverityMajor
	}
	return model.Signal{
		Type:        model.SignalSourceIndependence,
		Severity:    severity,
		Description: fmt.Sprintf("%d independent publishers across %d primary citations", a.Publishers, a.Primary),
		Data: map[string]any{
			"publishers": a.Publishers,
			"primary":    a.Primary,
		},
	}
}

func (s *Scorer) crossVerification(a Analysis) model.Signal {
	if a.CrossVerified {
		return model.Signal{
			Type:        model.SignalCrossVerification,
			Severity:    model.SeverityInfo,
			Description: "Independently cross-verified",
			Data:        map[string]any{"cross_verified": true},
		}
	}
	return model.Signal{
		Type:        model.SignalCrossVerification,
		Severity:    model.SeverityMajor,
		Description: "No cross-verification from an independent publisher and tool path",
		Data:        map[string]any{"cross_verified": false},
	}
}

func (s *Scorer) figureConflict(a Analysis) (model.Signal, bool) {
	if len(a.Figures) < 2 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalFigureConflict,
		Severity:    model.SeverityMajor,
		Description: fmt.Sprintf("Sources disagree on the core figure (%s)", strings.Join(a.Figures, " vs ")),
		Data: map[string]any{
			"figures": a.Figures,
		},
	}, true
}

// PublisherKey identifies the publisher of a citation: the normalised
// publisher name, or the URL host without "www." when no name is given
func PublisherKey(c model.Citation) string {
	if p := strings.Join(strings.Fields(strings.ToLower(c.Publisher)), " "); p != "" {
		return p
	}
	if c.URL == "" {
		return ""
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// NormalizeFigure canonicalises a reported figure so "$1,234.5B" and
// "1234.5 b" compare equal
func NormalizeFigure(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == ',' || r == '$' || r == ' ' || r == '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeToolPath(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
