package stages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unburden/solvency/internal/model"
)

func TestRemoteStage_OK(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"revise","issues":[{"severity":"major","note":"tone"}],"handoff":{"tone":"calm"}}`))
	}))
	defer srv.Close()

	stage := NewRemoteStage("safety", srv.URL, srv.Client())
	in := input(model.IntentMeeting, map[string]any{"transcript": "notes"})
	in.Revision = 1
	res, err := stage.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Status != model.GateRevise || len(res.Issues) != 1 || res.Handoff["tone"] != "calm" {
		t.Errorf("result = %+v", res)
	}
	if got.Stage != "safety" || got.RequestID != "req-1" || got.Revision != 1 || got.Artifact["transcript"] != "notes" {
		t.Errorf("request = %+v", got)
	}
}

func TestRemoteStage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		transient bool
	}{
		{"unavailable", http.StatusServiceUnavailable, "down", true},
		{"rate limited", http.StatusTooManyRequests, "slow down", true},
		{"bad request", http.StatusBadRequest, "no", false},
		{"unknown status", http.StatusOK, `{"status":"maybe"}`, false},
		{"garbage", http.StatusOK, `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRemoteStage("compliance", srv.URL, srv.Client()).
				Evaluate(context.Background(), input(model.IntentPlan, map[string]any{"goal": "x"}))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := model.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", got, tt.transient, err)
			}
		})
	}
}

func TestRemoteStage_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRemoteStage("compliance", url, nil).Evaluate(context.Background(), input(model.IntentPlan, nil))
	if !errors.Is(err, model.ErrTransient) {
		t.Errorf("err = %v, want transient", err)
	}
}
