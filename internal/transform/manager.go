package transform

import (
	"fmt"
	"log/slog"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
)

// DefaultMaxSteps bounds re-iteration of a level. A level that keeps
// reporting modifications past this bound has a non-terminating pass and the
// pipeline fails rather than looping.
const DefaultMaxSteps = 10

// Manager drives registered passes over a graph, level by level, re-running
// each level until it reaches a fixed point.
type Manager struct {
	passes   map[Level][]Transformer
	maxSteps int
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSteps overrides the per-level iteration bound.
func WithMaxSteps(n int) Option {
	return func(m *Manager) { m.maxSteps = n }
}

// WithLogger attaches a structured logger; pass applications that modify the
// graph are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager with no passes registered.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		passes:   make(map[Level][]Transformer),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDefaultManager creates a manager with the standard pass set: identity
// elimination and transpose composition at level 1, matmul-transpose fusion
// at level 2. The provider registry gates fusions to operators the node's
// assigned backend supports; compatible restricts fusion to nodes assigned
// to the listed providers (empty means any).
func NewDefaultManager(reg *providers.Registry, compatible []string, opts ...Option) *Manager {
	m := NewManager(opts...)
	m.Register(NewIdentityElimination())
	m.Register(NewTransposeComposition())
	m.Register(NewMatMulTransposeFusion(reg, compatible))
	return m
}

// Register appends a pass to its level's pipeline. Within a level, passes
// run in registration order.
func (m *Manager) Register(t Transformer) {
	m.passes[t.Level()] = append(m.passes[t.Level()], t)
}

// ApplyLevel runs the level's passes to a fixed point and reports whether
// any pass modified the graph. The graph is re-resolved after every
// modifying pass so invariant violations surface at the pass that caused
// them.
func (m *Manager) ApplyLevel(g *ir.Graph, level Level) (bool, error) {
	passes := m.passes[level]
	if len(passes) == 0 {
		return false, nil
	}

	anyModified := false
	for step := 0; ; step++ {
		if step >= m.maxSteps {
			return anyModified, fmt.Errorf("%s did not reach a fixed point within %d steps", level, m.maxSteps)
		}

		stepModified := false
		for _, t := range passes {
			modified, err := t.Apply(g)
			if err != nil {
				return anyModified, fmt.Errorf("transformer %s: %w", t.Name(), err)
			}
			if !modified {
				continue
			}
			stepModified = true
			anyModified = true
			if m.logger != nil {
				m.logger.Debug("graph modified", "transformer", t.Name(), "level", level.String(), "step", step)
			}
			if err := g.Resolve(); err != nil {
				return anyModified, fmt.Errorf("transformer %s left invalid graph: %w", t.Name(), err)
			}
		}

		if !stepModified {
			return anyModified, nil
		}
	}
}

// ApplyAll runs every level in order and reports whether any level modified
// the graph.
func (m *Manager) ApplyAll(g *ir.Graph) (bool, error) {
	anyModified := false
	for level := Level1; level <= MaxLevel; level++ {
		modified, err := m.ApplyLevel(g, level)
		anyModified = anyModified || modified
		if err != nil {
			return anyModified, err
		}
	}
	return anyModified, nil
}
