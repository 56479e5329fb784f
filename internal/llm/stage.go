package llm

import (
	"context"
	"fmt"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

// Stage serves a gate with an LLM reviewer. The model only judges; it
// never produces content.
type Stage struct {
	name      string
	provider  Provider
	maxTokens int
}

// NewStage creates a gate named name backed by provider
func NewStage(name string, provider Provider, maxTokens int) *Stage {
	return &Stage{name: name, provider: provider, maxTokens: maxTokens}
}

func (s *Stage) Name() string { return s.name }

// Evaluate sends the artifact to the model with its citation URLs as the
// evidence allowlist
func (s *Stage) Evaluate(ctx context.Context, in pipeline.StageInput) (model.GateResult, error) {
	review, err := s.provider.Review(ctx, ReviewRequest{
		Stage:        s.name,
		Intent:       in.Request.Intent,
		Artifact:     in.Artifact,
		EvidenceURLs: EvidenceURLs(in.Artifact),
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return model.GateResult{}, fmt.Errorf("%s review via %s: %w", s.name, s.provider.Name(), err)
	}

	return model.GateResult{
		Status: review.Status,
		Issues: review.Issues,
		Handoff: map[string]any{
			s.name + "_reviewer": map[string]any{
				"provider": s.provider.Name(),
				"model":    review.Model,
				"tokens":   review.TokensUsed,
			},
		},
	}, nil
}
