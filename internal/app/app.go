// Package app wires configuration into a running router, pipeline and
// their supporting stores.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/unburden/solvency/internal/audit"
	"github.com/unburden/solvency/internal/breaker"
	"github.com/unburden/solvency/internal/cache"
	"github.com/unburden/solvency/internal/llm"
	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
	"github.com/unburden/solvency/internal/router"
	"github.com/unburden/solvency/internal/stages"
	"github.com/unburden/solvency/internal/util"
	"github.com/unburden/solvency/internal/validate"
	"github.com/unburden/solvency/internal/worker"
)

// App holds the wired components
type App struct {
	Config     *model.Config
	Logger     *slog.Logger
	Audit      audit.Store
	Breakers   *breaker.Controller
	Registry   *pipeline.Registry
	Pipeline   *pipeline.Pipeline
	Router     *router.Router
	Dispatcher *router.Dispatcher

	closers []func() error
}

// New builds every component from cfg. Close releases the audit file.
func New(cfg *model.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{Config: cfg, Logger: logger}

	if cfg.State.Dir != "" {
		if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	store, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	a.Audit = audit.Observe(store, func(rec model.AuditRecord) {
		logger.Debug("audit record appended",
			slog.String("artifact_id", rec.ArtifactID),
			slog.String("stage", rec.Stage),
			slog.String("status", rec.Status),
			slog.Uint64("sequence", rec.Sequence),
		)
	})

	breakerOpts := []breaker.Option{
		breaker.WithLimiter(worker.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)),
		breaker.WithLogger(logger),
	}
	if cfg.State.Dir != "" {
		breakerOpts = append(breakerOpts, breaker.WithStateStore(breaker.NewFileStateStore(cfg.State.Dir)))
	}
	a.Breakers, err = breaker.NewController(cfg.Retry, cfg.Breaker, breakerOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Registry, err = a.buildRegistry()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	idempotency := cache.New(cfg.Cache, cfg.State.Dir)
	a.Router, err = router.New(a.Audit, cfg.Routes,
		router.WithBreakers(a.Breakers),
		router.WithCache(idempotency, cfg.Cache.TTL),
		router.WithLogger(logger),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build router: %w", err)
	}
	if err := a.Registry.Require(a.Router.StageNames()...); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("route references %w", err)
	}

	a.Pipeline = pipeline.New(a.Registry, a.Audit,
		pipeline.WithInvoker(a.Breakers),
		pipeline.WithStateCache(idempotency),
		pipeline.WithMaxRevisions(cfg.Pipeline.MaxRevisions),
		pipeline.WithStateTTL(cfg.Pipeline.StateTTL),
		pipeline.WithLogger(logger),
	)
	a.Dispatcher = router.NewDispatcher(a.Router, a.Pipeline, logger)
	return a, nil
}

func (a *App) openAudit() (audit.Store, error) {
	switch a.Config.Audit.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "", "file":
		path := a.Config.Audit.Path
		if path == "" {
			path = filepath.Join(a.Config.State.Dir, "audit.jsonl")
		}
		fs, err := audit.OpenFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		if n := fs.Skipped(); n > 0 {
			a.Logger.Warn("skipped unreadable audit lines",
				slog.String("path", fs.Path()),
				slog.Int("count", n),
			)
		}
		a.closers = append(a.closers, fs.Close)
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q (supported: file, memory)", a.Config.Audit.Backend)
	}
}

// buildRegistry registers the built-in gates, then lets remote agents and
// the LLM reviewer take over the stage names configured for them
func (a *App) buildRegistry() (*pipeline.Registry, error) {
	cfg := a.Config
	verifier := validate.NewVerifier(cfg.Citation)
	checker := validate.NewLinkChecker(cfg.HTTP, worker.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	registry := pipeline.NewRegistry(stages.Builtin(verifier, checker)...)

	if len(cfg.Stages.Remote) > 0 {
		client := util.NewHTTPClient(cfg.HTTP)
		names := make([]string, 0, len(cfg.Stages.Remote))
		for name := range cfg.Stages.Remote {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			registry.Register(stages.NewRemoteStage(name, cfg.Stages.Remote[name], client))
			a.Logger.Info("remote stage registered",
				slog.String("stage", name),
				slog.String("url", cfg.Stages.Remote[name]),
			)
		}
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	if provider == nil {
		if len(cfg.LLM.Stages) > 0 {
			return nil, fmt.Errorf("llm.stages set but no llm.provider configured")
		}
		return registry, nil
	}
	switch p := provider.(type) {
	case *llm.OpenAIProvider:
		p.WithLogger(a.Logger)
	case *llm.OllamaProvider:
		p.WithLogger(a.Logger)
	}
	for _, name := range cfg.LLM.Stages {
		registry.Register(llm.NewStage(name, provider, cfg.LLM.MaxTokens))
		a.Logger.Info("llm reviewer registered",
			slog.String("stage", name),
			slog.String("provider", provider.Name()),
		)
	}
	return registry, nil
}

// Close releases open files
func (a *App) Close() error {
	var first error
	for _, fn := range a.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
