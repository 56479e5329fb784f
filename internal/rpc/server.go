// Package rpc exposes the router over a small JSON-RPC endpoint.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unburden/solvency/internal/audit"
	"github.com/unburden/solvency/internal/model"
)

// Method names accepted on /rpc
const (
	MethodRoute      = "route_intent"
	MethodSubmit     = "submit"
	MethodQueryAudit = "query_audit"
	MethodStatus     = "request_status"
)

// Error codes returned in the error envelope
const (
	CodeInvalidRequest = "invalid_request"
	CodeMethodNotFound = "method_not_found"
	CodeNotFound       = "not_found"
	CodeAuditWrite     = "audit_write_failed"
	CodeInternal       = "internal_error"
)

// Service is what the server dispatches to
type Service interface {
	Route(ctx context.Context, req model.Request) (model.RouteDecision, error)
	Submit(ctx context.Context, req model.Request) (model.Submission, error)
	Status(ctx context.Context, requestID string) (model.RequestStatus, error)
}

// Envelope is one JSON-RPC call
type Envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Response carries either a result or an error
type Response struct {
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Error is the error member of a response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"` // RequestError code, when there is one
}

// AuditQuery is the params object of query_audit
type AuditQuery struct {
	ArtifactID string `json:"artifact_id"`
}

// StatusQuery is the params object of request_status
type StatusQuery struct {
	RequestID string `json:"request_id"`
}

// Health is returned by GET /health
type Health struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Server serves /rpc and /health
type Server struct {
	cfg     model.ServerConfig
	service Service
	audit   audit.Store
	version string
	logger  *slog.Logger
	now     func() time.Time
	started time.Time
	http    *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces the clock used for uptime (tests)
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithVersion sets the version reported by /health
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a server. Call Handler for tests or ListenAndServe to bind.
func New(cfg model.ServerConfig, service Service, store audit.Store, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		audit:   store,
		version: "dev",
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = model.DefaultConfig().Server.MaxBodyBytes
	}
	s.started = s.now()
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.limitBody)
	r.Get("/health", s.handleHealth)
	r.Post("/rpc", s.handleRPC)
	return r
}

// Addr is the configured listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc server listening", slog.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	case <-ctx.Done():
	}
	return s.Shutdown(context.Background())
}

// Shutdown stops accepting connections and waits up to 10s for handlers
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s.logger.Info("rpc server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := s.now().Sub(s.started)
	writeJSON(w, http.StatusOK, Health{
		Status:        "ok",
		Version:       s.version,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&env); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, nil, http.StatusRequestEntityTooLarge, &Error{
				Code:    CodeInvalidRequest,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		s.fail(w, nil, http.StatusBadRequest, &Error{Code: CodeInvalidRequest, Message: "malformed envelope: " + err.Error()})
		return
	}
	method := strings.TrimSpace(env.Method)
	if method == "" {
		s.fail(w, env.ID, http.StatusBadRequest, &Error{Code: CodeInvalidRequest, Message: "method is required"})
		return
	}

	var (
		result any
		err    error
	)
	switch method {
	case MethodRoute:
		var req model.Request
		if err = decodeParams(env.Params, &req); err == nil {
			result, err = s.service.Route(r.Context(), req)
		}
	case MethodSubmit:
		var req model.Request
		if err = decodeParams(env.Params, &req); err == nil {
			result, err = s.service.Submit(r.Context(), req)
		}
	case MethodQueryAudit:
		result, err = s.queryAudit(r.Context(), env.Params)
	case MethodStatus:
		var q StatusQuery
		if err = decodeParams(env.Params, &q); err == nil {
			result, err = s.service.Status(r.Context(), strings.TrimSpace(q.RequestID))
		}
	default:
		s.fail(w, env.ID, http.StatusNotFound, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)})
		return
	}

	if err != nil {
		status, rpcErr := classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed",
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
		}
		s.fail(w, env.ID, status, rpcErr)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: result, ID: env.ID})
}

func (s *Server) queryAudit(ctx context.Context, params json.RawMessage) ([]model.AuditRecord, error) {
	var q AuditQuery
	if err := decodeParams(params, &q); err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.ArtifactID) == "" {
		return nil, model.InvalidRequest(model.CodeMalformed, "artifact_id is required")
	}
	records, err := s.audit.QueryByArtifact(ctx, q.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	if records == nil {
		records = []model.AuditRecord{}
	}
	return records, nil
}

func (s *Server) fail(w http.ResponseWriter, id json.RawMessage, status int, rpcErr *Error) {
	writeJSON(w, status, Response{Error: rpcErr, ID: id})
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return model.InvalidRequest(model.CodeMalformed, "params are required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return model.InvalidRequest(model.CodeMalformed, "params: %v", err)
	}
	return nil
}

// classify maps an error onto an HTTP status and error member
func classify(err error) (int, *Error) {
	var reqErr *model.RequestError
	switch {
	case errors.As(err, &reqErr):
		status := http.StatusBadRequest
		if reqErr.Code == model.CodeInFlight || reqErr.Code == model.CodeImmutable {
			status = http.StatusConflict
		}
		return status, &Error{Code: CodeInvalidRequest, Message: reqErr.Message, Reason: reqErr.Code}
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, model.ErrUnknownRequest):
		return http.StatusNotFound, &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, model.ErrAuditWrite):
		return http.StatusInternalServerError, &Error{Code: CodeAuditWrite, Message: err.Error()}
	default:
		return http.StatusInternalServerError, &Error{Code: CodeInternal, Message: err.Error()}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
