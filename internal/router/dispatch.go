package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/worker"
)

// Runner runs an accepted request through its gates and reports where a
// request stands
type Runner interface {
	Run(ctx context.Context, req model.Request, decision model.RouteDecision) (model.PipelineResult, error)
	Status(ctx context.Context, requestID string) (model.RequestStatus, error)
}

// Dispatcher routes a request and, when the route is accepted, runs it
// through the gate pipeline
type Dispatcher struct {
	router   *Router
	pipeline Runner
	logger   *slog.Logger
}

var _ worker.Submitter = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher
func NewDispatcher(r *Router, p Runner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{router: r, pipeline: p, logger: logger}
}

// Route only routes; nothing runs
func (d *Dispatcher) Route(ctx context.Context, req model.Request) (model.RouteDecision, error) {
	return d.router.Route(ctx, req)
}

// Submit routes req and runs accepted routes. Needs-info and blocked
// decisions come back without a pipeline result.
func (d *Dispatcher) Submit(ctx context.Context, req model.Request) (model.Submission, error) {
	decision, err := d.router.Route(ctx, req)
	if err != nil {
		return model.Submission{}, err
	}
	sub := model.Submission{Decision: decision}
	if decision.Status != model.RouteAccepted {
		return sub, nil
	}

	req.Normalize()
	req.RequestID = decision.RequestID
	req.Intent = decision.Intent

	result, err := d.pipeline.Run(ctx, req, decision)
	if err != nil {
		d.logger.Error("pipeline run failed",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		return sub, err
	}
	if blocked := result.Err(); blocked != nil {
		d.logger.Warn("request blocked",
			slog.String("request_id", req.RequestID),
			slog.Bool("verdict", errors.Is(blocked, model.ErrVerificationFailed)),
			slog.String("error", blocked.Error()),
		)
	}
	sub.Result = &result
	return sub, nil
}

// Status reports the pipeline state of a request
func (d *Dispatcher) Status(ctx context.Context, requestID string) (model.RequestStatus, error) {
	return d.pipeline.Status(ctx, requestID)
}
