// Package evaluator executes a graph on host tensors. It walks the nodes in
// topological order with a feed map and dispatches each node to a cpu
// kernel. It exists as the numeric oracle for the rewrite passes and the
// gradient builder, and as the engine behind the CLI run command; it is not
// an execution provider.
package evaluator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// Contract errors. Callers match these with errors.Is.
var (
	// ErrMissingFeed is returned when a graph input has no fed tensor.
	ErrMissingFeed = errors.New("graph input has no feed")
	// ErrNoKernel is returned when a node's operator has no registered kernel.
	ErrNoKernel = errors.New("no kernel for operator")
)

// Evaluator runs one graph. It holds no tensor state between calls; every
// Run starts from a fresh environment, so an Evaluator is safe to reuse
// across feed sets.
type Evaluator struct {
	graph  *ir.Graph
	logger *slog.Logger
}

// New creates an evaluator for g. A nil logger falls back to slog.Default.
func New(g *ir.Graph, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{graph: g, logger: logger}
}

// Run executes the graph and returns its outputs by name.
//
// The environment starts from the graph's initializers, overlaid with the
// feeds; every graph input must be covered by one or the other. A feed may
// also name an interior value, in which case the node that would produce it
// is skipped once all of its outputs are covered. Gradient graphs rely on
// this: feeding the seed values skips the yield node that owns them.
func (e *Evaluator) Run(feeds map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	order, err := e.graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	env := make(map[string]*tensor.RawTensor, len(feeds)+e.graph.NumNodes())
	for _, name := range e.graph.InitializerNames() {
		t, _ := e.graph.Initializer(name)
		env[name] = t
	}
	for name, t := range feeds {
		env[name] = t
	}
	for _, in := range e.graph.Inputs() {
		if _, ok := env[in.Name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingFeed, in.Name)
		}
	}

	ex := &execution{graph: e.graph, env: env}
	for _, idx := range order {
		n := e.graph.NodeAt(idx)
		if n == nil || ex.outputsCovered(n) {
			continue
		}
		k, ok := kernels[opKey{n.OpType, n.Domain}]
		if !ok {
			return nil, fmt.Errorf("%w: %s (domain %q) at node %q", ErrNoKernel, n.OpType, n.Domain, n.Name)
		}
		if err := k(ex, n); err != nil {
			return nil, fmt.Errorf("node %q (%s): %w", n.Name, n.OpType, err)
		}
		e.logger.Debug("evaluated node", "node", n.Name, "op", n.OpType)
	}

	outs := make(map[string]*tensor.RawTensor, len(e.graph.Outputs()))
	for _, o := range e.graph.Outputs() {
		t, ok := env[o.Name]
		if !ok {
			return nil, fmt.Errorf("graph output %q was never computed", o.Name)
		}
		outs[o.Name] = t
	}
	return outs, nil
}

// execution is the per-Run state handed to kernels.
type execution struct {
	graph *ir.Graph
	env   map[string]*tensor.RawTensor
}

func (ex *execution) input(n *ir.Node, i int) (*tensor.RawTensor, error) {
	if i >= len(n.Inputs) || n.Inputs[i] == nil || n.Inputs[i].Name == "" {
		return nil, fmt.Errorf("missing input %d", i)
	}
	t, ok := ex.env[n.Inputs[i].Name]
	if !ok {
		return nil, fmt.Errorf("input %q has no value", n.Inputs[i].Name)
	}
	return t, nil
}

// optionalInput returns nil without error for absent trailing inputs.
func (ex *execution) optionalInput(n *ir.Node, i int) (*tensor.RawTensor, error) {
	if i >= len(n.Inputs) || n.Inputs[i] == nil || n.Inputs[i].Name == "" {
		return nil, nil
	}
	return ex.input(n, i)
}

func (ex *execution) set(n *ir.Node, i int, t *tensor.RawTensor) {
	if i < len(n.Outputs) && n.Outputs[i] != nil && n.Outputs[i].Name != "" {
		ex.env[n.Outputs[i].Name] = t
	}
}

func (ex *execution) outputsCovered(n *ir.Node) bool {
	if len(n.Outputs) == 0 {
		return false
	}
	for _, o := range n.Outputs {
		if o == nil || o.Name == "" {
			continue
		}
		if _, ok := ex.env[o.Name]; !ok {
			return false
		}
	}
	return true
}
