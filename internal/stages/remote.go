package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

// maxRemoteResponse bounds the body read from a remote agent
const maxRemoteResponse = 1 << 20

// RemoteStage delegates a gate to an agent service over HTTP
type RemoteStage struct {
	name   string
	url    string
	client *http.Client
}

type remoteRequest struct {
	Stage     string             `json:"stage"`
	RequestID string             `json:"request_id"`
	Intent    model.Intent       `json:"intent"`
	Revision  int                `json:"revision"`
	Artifact  map[string]any     `json:"artifact"`
	Prior     []model.GateResult `json:"prior,omitempty"`
	History   []model.Handoff    `json:"context_history,omitempty"`
}

type remoteResponse struct {
	Status    model.GateStatus `json:"status"`
	Issues    []model.Issue    `json:"issues"`
	Citations []model.Citation `json:"citations"`
	Handoff   map[string]any   `json:"handoff"`
}

// NewRemoteStage creates a stage that POSTs the artifact to url
func NewRemoteStage(name, url string, client *http.Client) *RemoteStage {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteStage{name: name, url: url, client: client}
}

func (r *RemoteStage) Name() string { return r.name }

// Evaluate posts the stage input and decodes the agent's verdict. 429, 5xx
// and transport failures are transient; other non-2xx answers are
// permanent.
func (r *RemoteStage) Evaluate(ctx context.Context, in pipeline.StageInput) (model.GateResult, error) {
	body, err := json.Marshal(remoteRequest{
		Stage:     r.name,
		RequestID: in.Request.RequestID,
		Intent:    in.Request.Intent,
		Revision:  in.Revision,
		Artifact:  in.Artifact,
		Prior:     in.Prior,
		History:   in.Request.ContextHistory,
	})
	if err != nil {
		return model.GateResult{}, fmt.Errorf("marshal stage input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return model.GateResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.GateResult{}, ctx.Err()
		}
		return model.GateResult{}, model.Transient(fmt.Errorf("stage %s: %w", r.name, err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return model.GateResult{}, model.Transient(fmt.Errorf("stage %s: read response: %w", r.name, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("stage %s: HTTP %d: %s", r.name, resp.StatusCode, truncate(string(data), 200))
		if model.IsTransientStatus(resp.StatusCode) {
			return model.GateResult{}, model.Transient(err)
		}
		return model.GateResult{}, err
	}

	var out remoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return model.GateResult{}, fmt.Errorf("stage %s: decode response: %w", r.name, err)
	}
	if out.Status != "" && !out.Status.Valid() {
		return model.GateResult{}, fmt.Errorf("stage %s: unknown status %q", r.name, out.Status)
	}

	return model.GateResult{
		Status:    out.Status,
		Issues:    out.Issues,
		Citations: out.Citations,
		Handoff:   out.Handoff,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
