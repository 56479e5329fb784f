package stages

import (
	"context"
	"sort"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

// Diagnostics is the dry-run gate of the debug intent. It always passes
// and reports what the pipeline handed it.
type Diagnostics struct{}

// NewDiagnostics creates the diagnostics gate
func NewDiagnostics() *Diagnostics { return &Diagnostics{} }

func (d *Diagnostics) Name() string { return "diagnostics" }

func (d *Diagnostics) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	keys := make([]string, 0, len(in.Artifact))
	for k := range in.Artifact {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return model.GateResult{
		Status: model.GateOK,
		Issues: []model.Issue{
			issue(model.SeverityInfo, "artifact keys: %v", keys),
			issue(model.SeverityInfo, "revision %d, %d prior result(s), %d handoff note(s)",
				in.Revision, len(in.Prior), len(in.Request.ContextHistory)),
		},
		Handoff: map[string]any{"diagnostics": map[string]any{
			"artifact_keys": keys,
			"priority":      string(in.Request.Priority),
		}},
	}, nil
}
