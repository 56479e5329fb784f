package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/unburden/solvency/internal/audit"
	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
	"github.com/unburden/solvency/internal/stages"
	"github.com/unburden/solvency/internal/validate"
)

func newDispatcher(t *testing.T, store audit.Store) *Dispatcher {
	t.Helper()
	verifier := validate.NewVerifier(model.DefaultConfig().Citation)
	registry := pipeline.NewRegistry(stages.Builtin(verifier, nil)...)
	return NewDispatcher(newRouter(t, store), pipeline.New(registry, store), nil)
}

func TestDispatcher_SubmitPetitionEndToEnd(t *testing.T) {
	store := audit.NewMemoryStore()
	d := newDispatcher(t, store)

	sub, err := d.Submit(context.Background(), petitionRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Result == nil || sub.Result.Status != model.PipelineAccepted {
		t.Fatalf("submission = %+v", sub)
	}
	if sub.Outcome() != "accepted" {
		t.Errorf("outcome = %s", sub.Outcome())
	}

	recs, err := store.QueryByArtifact(context.Background(), "pet-1")
	if err != nil {
		t.Fatalf("QueryByArtifact: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("audit records for pet-1 = %d, want 2", len(recs))
	}
	if recs[0].Stage != "petition_funnel" || recs[1].Stage != "compliance" {
		t.Errorf("stages = %s, %s", recs[0].Stage, recs[1].Stage)
	}

	// Resubmitting the accepted request changes nothing
	again, err := d.Submit(context.Background(), petitionRequest())
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Result.Status != model.PipelineAccepted {
		t.Errorf("resubmit status = %s", again.Result.Status)
	}
	if recs, _ := store.QueryByArtifact(context.Background(), "pet-1"); len(recs) != 2 {
		t.Errorf("resubmit duplicated stage records: %d", len(recs))
	}
	if recs, _ := store.QueryByArtifact(context.Background(), model.RouteArtifactID("pet-1")); len(recs) != 1 {
		t.Errorf("resubmit duplicated route records: %d", len(recs))
	}
}

func TestDispatcher_SubmitProduceWithSingleTierCCitationRevises(t *testing.T) {
	d := newDispatcher(t, audit.NewMemoryStore())
	req := model.Request{
		RequestID: "prod-1",
		Intent:    model.IntentProduce,
		Payload: map[string]any{"claims": []any{map[string]any{
			"text":      "Interest on the debt now exceeds defense spending.",
			"citations": []any{map[string]any{"publisher": "Daily News", "url": "https://dailynews.example.com/a", "tier": "C"}},
		}}},
	}

	sub, err := d.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := sub.Result
	if res == nil || res.Status != model.PipelineRevise || res.HaltedAt != "fact_check" {
		t.Fatalf("result = %+v", res)
	}
	last := res.Results[len(res.Results)-1]
	if len(last.Issues) == 0 || !strings.HasPrefix(last.Issues[0].Note, "insufficient citation diversity") {
		t.Errorf("issues = %+v", last.Issues)
	}

	st, err := d.Status(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != model.PipelineRevise || st.HaltedAt != "fact_check" || len(st.Completed) != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestDispatcher_StatusUnknownRequest(t *testing.T) {
	d := newDispatcher(t, audit.NewMemoryStore())
	if _, err := d.Status(context.Background(), "never-sent"); !errors.Is(err, model.ErrUnknownRequest) {
		t.Errorf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestDispatcher_SubmitNeedsInfoRunsNothing(t *testing.T) {
	store := audit.NewMemoryStore()
	d := newDispatcher(t, store)
	req := petitionRequest()
	delete(req.Payload, "zip")

	sub, err := d.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Result != nil || sub.Outcome() != "needs_info" {
		t.Errorf("submission = %+v", sub)
	}
	if recs, _ := store.QueryByArtifact(context.Background(), "pet-1"); len(recs) != 0 {
		t.Errorf("stage records = %d, want 0", len(recs))
	}
}

func TestDispatcher_SubmitDebugWithGeneratedID(t *testing.T) {
	store := audit.NewMemoryStore()
	d := newDispatcher(t, store)

	sub, err := d.Submit(context.Background(), model.Request{Intent: model.IntentDebug, Payload: map[string]any{"ping": true}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Result == nil || sub.Result.RequestID != sub.Decision.RequestID || sub.Decision.RequestID == "" {
		t.Fatalf("submission = %+v", sub)
	}
	if recs, _ := store.QueryByArtifact(context.Background(), sub.Decision.RequestID); len(recs) != 1 {
		t.Errorf("diagnostics records = %d, want 1", len(recs))
	}
}
