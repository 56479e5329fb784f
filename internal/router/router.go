// Package router maps incoming requests to their fixed workflow of gates
// and dispatches accepted requests through the gate pipeline.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unburden/solvency/internal/audit"
	"github.com/unburden/solvency/internal/cache"
	"github.com/unburden/solvency/internal/model"
)

// lockStripes bounds the per-request locks that keep concurrent identical
// submissions from recording two routing decisions
const lockStripes = 64

// BreakerStates reports the breaker state of a downstream stage
type BreakerStates interface {
	State(stage string) model.BreakerState
}

// decisionEntry is the idempotency record of one routed revision
type decisionEntry struct {
	PayloadHash string              `json:"payload_hash"`
	Decision    model.RouteDecision `json:"decision"`
}

// Router is the entry point: it validates a request, selects the intent's
// workflow and records one audit entry per routing decision
type Router struct {
	patterns map[model.Intent]Pattern
	audit    audit.Store
	breakers BreakerStates
	cache    cache.Cache
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	locks [lockStripes]sync.Mutex
}

// Option configures a Router
type Option func(*Router)

// WithBreakers lets the router refuse routes through open circuits
func WithBreakers(b BreakerStates) Option {
	return func(r *Router) { r.breakers = b }
}

// WithCache sets the idempotency cache and how long decisions are kept
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Router) {
		if c != nil {
			r.cache = c
		}
		r.ttl = ttl
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces the clock (tests)
func WithClock(fn func() time.Time) Option {
	return func(r *Router) { r.now = fn }
}

// WithIDFunc replaces the generator of missing request ids (tests)
func WithIDFunc(fn func() string) Option {
	return func(r *Router) { r.newID = fn }
}

// New creates a router. overrides replaces the stages of individual
// intents (config "routes").
func New(store audit.Store, overrides map[string][]string, opts ...Option) (*Router, error) {
	patterns, err := withOverrides(DefaultPatterns(), overrides)
	if err != nil {
		return nil, err
	}
	r := &Router{
		patterns: patterns,
		audit:    store,
		cache:    cache.NewMemoryCache(24*time.Hour, 10*time.Minute),
		ttl:      24 * time.Hour,
		logger:   slog.New(slog.DiscardHandler),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// StageNames returns every stage some route uses, sorted
func (r *Router) StageNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range r.patterns {
		for _, s := range p.Steps {
			if !seen[s.Stage] {
				seen[s.Stage] = true
				names = append(names, s.Stage)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Pattern returns the workflow of intent
func (r *Router) Pattern(intent model.Intent) (Pattern, bool) {
	p, ok := r.patterns[intent]
	return p, ok
}

// Route decides how a request proceeds. Invalid requests fail with a
// *model.RequestError before anything is recorded. Every decision is
// audited once; repeating an identical request returns the recorded
// decision without a new audit entry, even once its deadline has passed.
func (r *Router) Route(ctx context.Context, req model.Request) (model.RouteDecision, error) {
	req.Normalize()
	if err := r.validate(req); err != nil {
		r.reject(req, err)
		return model.RouteDecision{}, err
	}
	if req.RequestID == "" {
		req.RequestID = r.newID()
	}

	hash, err := audit.ContentHash(req.Payload)
	if err != nil {
		return model.RouteDecision{}, model.InvalidRequest(model.CodeMalformed, "payload: %v", err)
	}

	mu := r.lock(req.RequestID)
	mu.Lock()
	defer mu.Unlock()

	key := cache.CacheKey("route", req.RequestID, fmt.Sprint(req.Revision))
	var prev decisionEntry
	if cache.GetJSON(r.cache, key, &prev) {
		switch {
		case prev.PayloadHash == hash:
			r.logger.Debug("replaying routing decision",
				slog.String("request_id", req.RequestID),
				slog.String("status", string(prev.Decision.Status)),
			)
			return prev.Decision, nil
		case prev.Decision.Status == model.RouteAccepted:
			return model.RouteDecision{}, model.InvalidRequest(model.CodeImmutable,
				"request %s revision %d was accepted with a different payload; resubmit with a higher revision", req.RequestID, req.Revision)
		}
	}

	if req.Deadline != nil && !req.Deadline.After(r.now()) {
		err := model.InvalidRequest(model.CodeDeadlinePassed, "deadline %s has passed", req.Deadline.Format(time.RFC3339))
		r.reject(req, err)
		return model.RouteDecision{}, err
	}

	decision := r.decide(req)

	if _, err := r.audit.Append(context.WithoutCancel(ctx), model.AuditRecord{
		ArtifactID:  model.RouteArtifactID(req.RequestID),
		RequestID:   req.RequestID,
		Stage:       model.StageRoute,
		Status:      string(decision.Status),
		Revision:    req.Revision,
		ContentHash: hash,
		Timestamp:   decision.DecidedAt,
	}); err != nil {
		if !errors.Is(err, model.ErrAuditWrite) {
			err = fmt.Errorf("%w: %v", model.ErrAuditWrite, err)
		}
		return model.RouteDecision{}, err
	}

	// Blocked decisions depend on breaker state and are re-evaluated
	if decision.Status != model.RouteBlocked {
		if err := cache.SetJSON(r.cache, key, decisionEntry{PayloadHash: hash, Decision: decision}, r.ttl); err != nil {
			r.logger.Error("cache routing decision",
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.Info("request routed",
		slog.String("request_id", req.RequestID),
		slog.String("intent", string(req.Intent)),
		slog.String("priority", string(req.Priority)),
		slog.Int("revision", req.Revision),
		slog.String("status", string(decision.Status)),
		slog.String("stages", strings.Join(decision.Stages(), ",")),
	)
	return decision, nil
}

func (r *Router) validate(req model.Request) error {
	intent, err := model.ParseIntent(string(req.Intent))
	if err != nil {
		return model.InvalidRequest(model.CodeUnknownIntent, "%v", err)
	}
	if _, ok := r.patterns[intent]; !ok {
		return model.InvalidRequest(model.CodeUnknownIntent, "no route for intent %q", intent)
	}
	if !req.Priority.Valid() {
		return model.InvalidRequest(model.CodeInvalidPriority, "unknown priority %q", req.Priority)
	}
	if intent.RequiresClaim() && len(req.Payload) == 0 {
		return model.InvalidRequest(model.CodeEmptyPayload, "intent %s requires a payload", intent)
	}
	return nil
}

func (r *Router) reject(req model.Request, err error) {
	r.logger.Warn("request rejected",
		slog.String("request_id", req.RequestID),
		slog.String("intent", string(req.Intent)),
		slog.String("error", err.Error()),
	)
}

func (r *Router) decide(req model.Request) model.RouteDecision {
	p := r.patterns[req.Intent]
	decision := model.RouteDecision{
		RequestID:  req.RequestID,
		Intent:     req.Intent,
		Status:     model.RouteAccepted,
		Route:      append([]model.RouteStep(nil), p.Steps...),
		NextAction: p.NextAction,
		Revision:   req.Revision,
		DecidedAt:  r.now(),
	}

	// Only the first missing field is asked about
	for _, f := range p.Required {
		if missing(req.Payload, f.Name) {
			decision.Status = model.RouteNeedsInfo
			decision.Question = f.Question
			decision.Reason = "missing " + f.Name
			decision.NextAction = "answer the question and resubmit"
			return decision
		}
	}

	if r.breakers != nil {
		for _, s := range p.Steps {
			if r.breakers.State(s.Stage) == model.BreakerOpen {
				decision.Status = model.RouteBlocked
				decision.Reason = model.ReasonStageUnavailable
				decision.NextAction = fmt.Sprintf("retry after the %s circuit cools down", s.Stage)
				return decision
			}
		}
	}
	return decision
}

func (r *Router) lock(requestID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return &r.locks[h.Sum32()%lockStripes]
}

// missing reports whether a required field is absent or blank. false is
// an answer, not a missing value.
func missing(payload map[string]any, name string) bool {
	v, ok := payload[name]
	if !ok || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
