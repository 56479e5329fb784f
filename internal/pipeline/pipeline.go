package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/unburden/solvency/internal/audit"
	"github.com/unburden/solvency/internal/breaker"
	"github.com/unburden/solvency/internal/cache"
	"github.com/unburden/solvency/internal/model"
)

// ErrUnknownStage is returned when a route names a stage nobody registered
var ErrUnknownStage = errors.New("unknown stage")

// Invoker runs one downstream stage call under retry and breaker policy
type Invoker interface {
	Invoke(ctx context.Context, stage string, fn breaker.CallFunc) (model.GateResult, error)
}

type directInvoker struct{}

func (directInvoker) Invoke(ctx context.Context, _ string, fn breaker.CallFunc) (model.GateResult, error) {
	res, err := fn(ctx)
	if err == nil {
		res.Attempts = 1
	}
	return res, err
}

// runState is what the pipeline remembers about a request between
// submissions: where it halted and what earlier revisions established
type runState struct {
	RequestID    string                `json:"request_id"`
	Revision     int                   `json:"revision"`
	Route        []string              `json:"route"`
	Next         int                   `json:"next"`     // Stage index to resume from
	Passed       []model.GateResult    `json:"passed"`   // Ok results before Next
	Handoffs     map[string]any        `json:"handoffs"` // Merged handoffs of Passed
	ReviseCounts map[string]int        `json:"revise_counts"`
	Result       *model.PipelineResult `json:"result,omitempty"`
}

// DefaultStateTTL bounds how long a request's run state, revision budgets
// included, is remembered after its last submission
const DefaultStateTTL = 30 * 24 * time.Hour

// Pipeline runs a request through its precomputed route of gates. Stages
// run strictly in order, every execution is audited before the pipeline
// advances, and the first block halts the run.
type Pipeline struct {
	registry     *Registry
	invoker      Invoker
	audit        audit.Store
	state        cache.Cache
	stateTTL     time.Duration
	maxRevisions int
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithInvoker routes every stage call through inv (normally the breaker
// controller)
func WithInvoker(inv Invoker) Option {
	return func(p *Pipeline) {
		if inv != nil {
			p.invoker = inv
		}
	}
}

// WithStateCache keeps run state in c instead of a private memory cache,
// so resumes and replays survive restarts when c is persistent
func WithStateCache(c cache.Cache) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.state = c
		}
	}
}

// WithStateTTL sets how long run state lives after its last write. It must
// outlast a request's whole revise cycle or its revision budget resets.
func WithStateTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl > 0 {
			p.stateTTL = ttl
		}
	}
}

// WithMaxRevisions sets how many revise verdicts one stage may return for
// a request before the next one becomes a block
func WithMaxRevisions(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxRevisions = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces the clock used for result timestamps (tests)
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) { p.now = fn }
}

// New creates a pipeline over the given stages and audit store
func New(registry *Registry, store audit.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:     registry,
		invoker:      directInvoker{},
		audit:        store,
		stateTTL:     DefaultStateTTL,
		maxRevisions: 3,
		logger:       slog.New(slog.DiscardHandler),
		now:          func() time.Time { return time.Now().UTC() },
		inFlight:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.state == nil {
		p.state = cache.NewMemoryCache(p.stateTTL, 10*time.Minute)
	}
	return p
}

// Run executes the route of an accepted decision.
//
// A request that halted on revise resumes from the revising stage when it
// is resubmitted with a higher revision. Resubmitting a finished request
// with the same revision replays the stored result without touching the
// audit log; a blocked verdict stays blocked for every later revision.
func (p *Pipeline) Run(ctx context.Context, req model.Request, decision model.RouteDecision) (model.PipelineResult, error) {
	if req.RequestID == "" {
		req.RequestID = decision.RequestID
	}
	if req.RequestID == "" {
		return model.PipelineResult{}, model.InvalidRequest(model.CodeMalformed, "request_id is required")
	}
	if decision.Status != model.RouteAccepted {
		return model.PipelineResult{}, model.InvalidRequest(model.CodeMalformed,
			"route for %s is %s, not accepted", req.RequestID, decision.Status)
	}
	route := decision.Stages()
	if err := p.registry.Require(route...); err != nil {
		return model.PipelineResult{}, err
	}

	if err := p.acquire(req.RequestID); err != nil {
		return model.PipelineResult{}, err
	}
	defer p.release(req.RequestID)

	st := p.load(req.RequestID)
	if st != nil {
		if req.Revision < st.Revision {
			return model.PipelineResult{}, model.InvalidRequest(model.CodeStaleRevision,
				"revision %d is older than recorded revision %d", req.Revision, st.Revision)
		}
		if replay, ok := p.replay(st, req); ok {
			p.logger.Info("replaying pipeline result",
				slog.String("request_id", req.RequestID),
				slog.Int("revision", req.Revision),
				slog.String("status", string(replay.Status)),
			)
			return replay, nil
		}
	}
	st = p.resumeState(st, req, route)

	if req.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *req.Deadline)
		defer cancel()
	}

	result, err := p.execute(ctx, req, st)
	if err != nil {
		return model.PipelineResult{}, err
	}
	return result, nil
}

// Status reports where a request stands: its route, the stages it passed,
// where and why the latest run halted, and the audit trail of its gate
// executions. Requests no run has finished for are ErrUnknownRequest
// unless one is in flight.
func (p *Pipeline) Status(ctx context.Context, requestID string) (model.RequestStatus, error) {
	if requestID == "" {
		return model.RequestStatus{}, model.InvalidRequest(model.CodeMalformed, "request_id is required")
	}
	p.mu.Lock()
	running := p.inFlight[requestID]
	p.mu.Unlock()

	st := p.load(requestID)
	if st == nil && !running {
		return model.RequestStatus{}, fmt.Errorf("%w: %s", model.ErrUnknownRequest, requestID)
	}

	trail, err := p.audit.QueryByArtifact(ctx, requestID)
	if err != nil {
		return model.RequestStatus{}, fmt.Errorf("query audit trail: %w", err)
	}
	status := model.RequestStatus{
		RequestID:  requestID,
		InFlight:   running,
		Completed:  []string{},
		Failed:     []string{},
		AuditTrail: append([]model.AuditRecord{}, trail...),
	}
	if st == nil || st.Result == nil {
		return status, nil
	}

	res := st.Result
	status.Status = res.Status
	status.Revision = st.Revision
	status.Route = append([]string(nil), st.Route...)
	status.HaltedAt = res.HaltedAt
	status.Reason = res.Reason
	status.Terminal = res.Status.Terminal() && !res.Retryable()
	status.ReviseCounts = cloneCounts(st.ReviseCounts)
	for _, passed := range st.Passed {
		status.Completed = append(status.Completed, passed.StageName)
	}
	for _, r := range res.Results {
		if r.Status != model.GateOK {
			status.Failed = append(status.Failed, r.StageName)
		}
	}
	if n := len(res.Results); n > 0 {
		last := res.Results[n-1]
		status.LastResult = &last
	}
	if len(st.Route) > 0 {
		status.Progress = math.Round(float64(len(status.Completed))/float64(len(st.Route))*1000) / 10
	}
	return status, nil
}

// replay returns the stored result when the submission cannot change it
func (p *Pipeline) replay(st *runState, req model.Request) (model.PipelineResult, bool) {
	if st.Result == nil {
		return model.PipelineResult{}, false
	}
	res := *st.Result
	switch {
	case res.Retryable():
		return model.PipelineResult{}, false
	case res.Status == model.PipelineBlocked:
		return cloneResult(res), true
	case req.Revision == st.Revision:
		return cloneResult(res), true
	}
	return model.PipelineResult{}, false
}

// resumeState decides where this submission starts: a higher revision of a
// revised run resumes at the revising stage, a retryable halt resumes
// where it stopped, anything else starts from the first stage
func (p *Pipeline) resumeState(prev *runState, req model.Request, route []string) *runState {
	if prev != nil && sameRoute(prev.Route, route) && prev.Result != nil {
		resumable := prev.Result.Retryable() ||
			(prev.Result.Status == model.PipelineRevise && req.Revision > prev.Revision)
		if resumable {
			return &runState{
				RequestID:    prev.RequestID,
				Revision:     req.Revision,
				Route:        append([]string(nil), prev.Route...),
				Next:         prev.Next,
				Passed:       append([]model.GateResult(nil), prev.Passed...),
				Handoffs:     cloneMap(prev.Handoffs),
				ReviseCounts: cloneCounts(prev.ReviseCounts),
			}
		}
	}

	st := &runState{
		RequestID:    req.RequestID,
		Revision:     req.Revision,
		Route:        route,
		Handoffs:     map[string]any{},
		ReviseCounts: map[string]int{},
	}
	if prev != nil {
		// Revision budgets are per request, not per run
		st.ReviseCounts = cloneCounts(prev.ReviseCounts)
	}
	return st
}

func (p *Pipeline) execute(ctx context.Context, req model.Request, st *runState) (model.PipelineResult, error) {
	artifact := cloneMap(req.Payload)
	mergeInto(artifact, st.Handoffs)

	results := append([]model.GateResult(nil), st.Passed...)
	finish := func(status model.PipelineStatus, haltedAt, reason string) model.PipelineResult {
		res := model.PipelineResult{
			RequestID: req.RequestID,
			Status:    status,
			Results:   results,
			HaltedAt:  haltedAt,
			Revision:  req.Revision,
			Reason:    reason,
		}
		st.Result = &res
		p.store(st)
		p.logger.Info("pipeline finished",
			slog.String("request_id", req.RequestID),
			slog.String("intent", string(req.Intent)),
			slog.String("priority", string(req.Priority)),
			slog.Int("revision", req.Revision),
			slog.String("status", string(status)),
			slog.String("halted_at", haltedAt),
			slog.String("reason", reason),
		)
		return cloneResult(res)
	}

	for i := st.Next; i < len(st.Route); i++ {
		name := st.Route[i]
		st.Next = i

		if err := ctx.Err(); err != nil {
			return finish(model.PipelineCancelled, name, cancelReason(err)), nil
		}

		stage, _ := p.registry.Get(name)
		in := StageInput{
			Request:  req,
			Artifact: cloneMap(artifact),
			Prior:    append([]model.GateResult(nil), results...),
			Revision: req.Revision,
		}
		res, err := p.invoker.Invoke(ctx, name, func(callCtx context.Context) (model.GateResult, error) {
			return stage.Evaluate(callCtx, in)
		})

		reason := ""
		if err != nil {
			if ctx.Err() != nil {
				return finish(model.PipelineCancelled, name, cancelReason(ctx.Err())), nil
			}
			res, reason = p.failedResult(name, err)
		} else if res, err = p.normalize(name, req.Revision, res); err != nil {
			res, reason = p.failedResult(name, err)
		}

		if res.Status == model.GateRevise {
			st.ReviseCounts[name]++
			if st.ReviseCounts[name] > p.maxRevisions {
				res.Status = model.GateBlock
				res.Issues = append(res.Issues, model.Issue{
					Severity: model.SeverityCritical,
					Note:     fmt.Sprintf("revision limit exceeded: %d revisions requested by %s", st.ReviseCounts[name], name),
				})
				reason = model.ReasonRevisionLimit
			}
		}

		if err := p.record(ctx, req, name, artifact, res); err != nil {
			if res.Status == model.GateRevise {
				st.ReviseCounts[name]--
			}
			return model.PipelineResult{}, err
		}
		results = append(results, res)

		switch res.Status {
		case model.GateOK:
			mergeInto(artifact, res.Handoff)
			mergeInto(st.Handoffs, res.Handoff)
			st.Passed = append(st.Passed, res)
		case model.GateRevise:
			return finish(model.Aggregate(results), name, ""), nil
		case model.GateBlock:
			if reason == "" {
				reason = model.ReasonVerificationFailed
			}
			return finish(model.Aggregate(results), name, reason), nil
		}
	}

	st.Next = len(st.Route)
	return finish(model.Aggregate(results), "", ""), nil
}

// failedResult turns a stage call error into a block verdict
func (p *Pipeline) failedResult(name string, err error) (model.GateResult, string) {
	reason := model.ReasonStageFailed
	note := fmt.Sprintf("stage failed: %v", err)
	if errors.Is(err, model.ErrCircuitOpen) {
		reason = model.ReasonStageUnavailable
		note = fmt.Sprintf("stage unavailable: %v", err)
	}
	p.logger.Warn("stage call failed",
		slog.String("stage", name),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return model.GateResult{
		StageName: name,
		Status:    model.GateBlock,
		Issues:    []model.Issue{{Severity: model.SeverityCritical, Note: note}},
		Timestamp: p.now(),
	}, reason
}

// normalize fills the fields the pipeline owns and rejects unknown
// statuses. A result without a status takes the one its issues imply, and
// a critical issue blocks whatever status the stage claimed.
func (p *Pipeline) normalize(name string, revision int, res model.GateResult) (model.GateResult, error) {
	if res.Status == "" {
		res.Status = model.StatusFromIssues(res.Issues)
	}
	if !res.Status.Valid() {
		return res, fmt.Errorf("stage %s returned unknown status %q", name, res.Status)
	}
	if res.Status != model.GateBlock && res.HasBlocking() {
		p.logger.Warn("critical issue overrides stage status",
			slog.String("stage", name),
			slog.String("claimed", string(res.Status)),
		)
		res.Status = model.GateBlock
	}
	res.StageName = name
	res.Revision = revision
	if res.Timestamp.IsZero() {
		res.Timestamp = p.now()
	}
	return res, nil
}

// record durably appends the audit record of one stage execution. It runs
// even when ctx was cancelled during the stage so the execution is never
// lost.
func (p *Pipeline) record(ctx context.Context, req model.Request, name string, artifact map[string]any, res model.GateResult) error {
	hash, err := audit.ContentHash(artifact)
	if err != nil {
		return fmt.Errorf("%w: hash artifact: %v", model.ErrAuditWrite, err)
	}
	_, err = p.audit.Append(context.WithoutCancel(ctx), model.AuditRecord{
		ArtifactID:  req.RequestID,
		RequestID:   req.RequestID,
		Stage:       name,
		Status:      string(res.Status),
		Revision:    req.Revision,
		ContentHash: hash,
		Citations:   res.Citations,
		Issues:      res.Issues,
		Timestamp:   res.Timestamp,
	})
	if err != nil {
		if !errors.Is(err, model.ErrAuditWrite) {
			err = fmt.Errorf("%w: %v", model.ErrAuditWrite, err)
		}
		return err
	}
	return nil
}

func (p *Pipeline) acquire(requestID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[requestID] {
		return model.InvalidRequest(model.CodeInFlight, "request %s is already running", requestID)
	}
	p.inFlight[requestID] = true
	return nil
}

func (p *Pipeline) release(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, requestID)
}

func (p *Pipeline) load(requestID string) *runState {
	var restored runState
	if !cache.GetJSON(p.state, runKey(requestID), &restored) {
		return nil
	}
	if restored.Handoffs == nil {
		restored.Handoffs = map[string]any{}
	}
	if restored.ReviseCounts == nil {
		restored.ReviseCounts = map[string]int{}
	}
	return &restored
}

func (p *Pipeline) store(st *runState) {
	if err := cache.SetJSON(p.state, runKey(st.RequestID), st, p.stateTTL); err != nil {
		p.logger.Error("persist run state",
			slog.String("request_id", st.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

func runKey(requestID string) string {
	return cache.CacheKey("run", requestID)
}

func cancelReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ReasonDeadlineExceeded
	}
	return model.ReasonCancelled
}

func sameRoute(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneResult(r model.PipelineResult) model.PipelineResult {
	r.Results = append([]model.GateResult(nil), r.Results...)
	return r
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
