package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/unburden/solvency/internal/model"
)

// StageInput is what a gate sees when it evaluates an artifact
type StageInput struct {
	Request  model.Request
	Artifact map[string]any     // Payload merged with the handoffs of earlier ok stages
	Prior    []model.GateResult // Results of the stages that already passed
	Revision int
}

// Stage is one verification gate
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, in StageInput) (model.GateResult, error)
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, in StageInput) (model.GateResult, error)
}

// StageFunc adapts a function to the Stage interface
func StageFunc(name string, fn func(ctx context.Context, in StageInput) (model.GateResult, error)) Stage {
	return &stageFunc{name: name, fn: fn}
}

func (s *stageFunc) Name() string { return s.name }

func (s *stageFunc) Evaluate(ctx context.Context, in StageInput) (model.GateResult, error) {
	return s.fn(ctx, in)
}

type namedStage struct {
	Stage
	name string
}

func (s *namedStage) Name() string { return s.name }

// Registry maps stage names to implementations
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry creates a registry holding stages
func NewRegistry(stages ...Stage) *Registry {
	r := &Registry{stages: make(map[string]Stage)}
	for _, s := range stages {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a stage under its own name
func (r *Registry) Register(s Stage) {
	r.RegisterAs(s.Name(), s)
}

// RegisterAs adds or replaces a stage under name (remote agents and the
// LLM reviewer take over built-in names this way)
func (r *Registry) RegisterAs(name string, s Stage) {
	if s.Name() != name {
		s = &namedStage{Stage: s, name: name}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = s
}

// Get returns the stage registered under name
func (r *Registry) Get(name string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Names returns the registered stage names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require returns an error naming the first stage that is not registered
func (r *Registry) Require(names ...string) error {
	for _, name := range names {
		if _, ok := r.Get(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
	}
	return nil
}
