package gradient

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrshu/onnxruntime/internal/ir"
)

// ErrNoGradientRule is returned when a node on a differentiable path has no
// registered derivative rule.
var ErrNoGradientRule = errors.New("no gradient rule registered")

// Options configure adjoint construction.
type Options struct {
	// UseInvertibleLayerNormGrad selects the layer-normalization gradient
	// kernel that reconstructs its input from the forward output.
	UseInvertibleLayerNormGrad bool
}

// stopGradientInputs lists operator input slots carrying structural data
// (shapes, reduction axes) rather than differentiable tensors. Reachability
// walks and gradient accumulation skip these edges.
var stopGradientInputs = map[string]map[int]bool{
	"Reshape":   {1: true},
	"ReduceSum": {1: true},
	"Shape":     {0: true},
}

func stopSlot(opType string, slot int) bool {
	slots, ok := stopGradientInputs[opType]
	return ok && slots[slot]
}

// GradientGraphBuilder appends the reverse-mode adjoint of a resolved graph
// to the graph itself: one gradient subgraph per forward node that lies on
// a path from a requested value to a differentiated output, with fan-out
// accumulated through Sum nodes.
//
// The gradient seeds of the differentiated outputs are created as values
// without producers; the caller decides how they are fed (the training
// builder synthesizes a YieldOp, tests may pin them as graph inputs). The
// graph does not resolve until that happens.
type GradientGraphBuilder struct {
	g      *ir.Graph
	yNames []string
	xNames []string
	opts   Options
	logger *slog.Logger
	rules  map[opKey]Rule

	xSet map[string]bool
	ySet map[string]bool
	// d holds the nodes requiring gradients: backward-reachable from the
	// outputs and forward-reachable from the requested values.
	d map[ir.NodeIndex]bool
	// expected counts the gradient contributions each value will receive;
	// contribs collects their names in emission order.
	expected  map[string]int
	contribs  map[string][]string
	finalized map[string]bool
}

// NewGradientGraphBuilder prepares adjoint construction over g for the
// gradients of yNames with respect to xNames. The graph must be resolved.
// A nil logger disables diagnostics.
func NewGradientGraphBuilder(g *ir.Graph, yNames, xNames []string, opts Options, logger *slog.Logger) *GradientGraphBuilder {
	b := &GradientGraphBuilder{
		g:         g,
		yNames:    yNames,
		xNames:    xNames,
		opts:      opts,
		logger:    logger,
		rules:     defaultRules(),
		xSet:      make(map[string]bool, len(xNames)),
		ySet:      make(map[string]bool, len(yNames)),
		d:         make(map[ir.NodeIndex]bool),
		expected:  make(map[string]int),
		contribs:  make(map[string][]string),
		finalized: make(map[string]bool),
	}
	for _, x := range xNames {
		b.xSet[x] = true
	}
	for _, y := range yNames {
		b.ySet[y] = true
	}
	return b
}

// Build constructs the adjoint subgraphs and returns, for each requested
// value that a gradient actually reached, the name of its accumulated
// gradient value. Requested values with no differentiable path to any
// output are simply absent from the result; callers with a hard requirement
// check for themselves.
func (b *GradientGraphBuilder) Build() (map[string]string, error) {
	for _, y := range b.yNames {
		if _, ok := b.g.ValueRef(y); !ok {
			return nil, fmt.Errorf("differentiated output %q not found in graph", y)
		}
	}
	for _, x := range b.xNames {
		if _, ok := b.g.ValueRef(x); !ok {
			return nil, fmt.Errorf("gradient requested for unknown value %q", x)
		}
	}

	order, err := b.g.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("ordering forward graph: %w", err)
	}

	b.computeReachable()
	b.countContributions(order)
	b.seedOutputGradients()

	for i := len(order) - 1; i >= 0; i-- {
		n := b.g.NodeAt(order[i])
		if n == nil || !b.d[order[i]] {
			continue
		}
		for _, out := range n.Outputs {
			if out == nil || out.Name == "" {
				continue
			}
			if err := b.finalizeValue(out.Name); err != nil {
				return nil, err
			}
		}

		rule, ok := b.rules[opKey{n.OpType, n.Domain}]
		if !ok {
			return nil, fmt.Errorf("%w for operator %s", ErrNoGradientRule, qualifiedOpType(n))
		}
		ctx := &Context{b: b, node: n, gi: make(map[int]string)}
		def, err := rule(ctx)
		if err != nil {
			return nil, fmt.Errorf("building gradient for node %q: %w", n.Name, err)
		}
		if err := b.materialize(def); err != nil {
			return nil, err
		}
	}

	grads := make(map[string]string, len(b.xNames))
	for _, x := range b.xNames {
		if err := b.finalizeValue(x); err != nil {
			return nil, err
		}
		if b.gradAvailable(x) {
			grads[x] = GradientName(x)
		}
	}
	if b.logger != nil {
		b.logger.Debug("adjoint construction complete",
			"differentiated_nodes", len(b.d), "gradients", len(grads))
	}
	return grads, nil
}

func qualifiedOpType(n *ir.Node) string {
	if n.Domain == "" {
		return n.OpType
	}
	return n.Domain + "." + n.OpType
}

// valueNeedsGrad reports whether a gradient for v is wanted: v is one of
// the requested values, or its producer needs gradients itself.
func (b *GradientGraphBuilder) valueNeedsGrad(v *ir.Value) bool {
	if v == nil || v.Name == "" {
		return false
	}
	if b.xSet[v.Name] {
		return true
	}
	p, ok := b.g.Producer(v.Name)
	return ok && b.d[p.Index()]
}

// gradAvailable reports whether a gradient value exists for name: either a
// seed (name is a differentiated output) or at least one contribution.
func (b *GradientGraphBuilder) gradAvailable(name string) bool {
	return b.ySet[name] || b.expected[name] > 0
}

// computeReachable intersects the nodes backward-reachable from the
// differentiated outputs with those forward-reachable from the requested
// values, both walks skipping stop-gradient slots.
func (b *GradientGraphBuilder) computeReachable() {
	backward := make(map[ir.NodeIndex]bool)
	var work []ir.NodeIndex
	for _, y := range b.yNames {
		if p, ok := b.g.Producer(y); ok && !backward[p.Index()] {
			backward[p.Index()] = true
			work = append(work, p.Index())
		}
	}
	for len(work) > 0 {
		n := b.g.NodeAt(work[len(work)-1])
		work = work[:len(work)-1]
		for slot, in := range n.Inputs {
			if in == nil || in.Name == "" || stopSlot(n.OpType, slot) {
				continue
			}
			if p, ok := b.g.Producer(in.Name); ok && !backward[p.Index()] {
				backward[p.Index()] = true
				work = append(work, p.Index())
			}
		}
	}

	forward := make(map[ir.NodeIndex]bool)
	seen := make(map[string]bool, len(b.xNames))
	var values []string
	for _, x := range b.xNames {
		if !seen[x] {
			seen[x] = true
			values = append(values, x)
		}
	}
	for len(values) > 0 {
		name := values[len(values)-1]
		values = values[:len(values)-1]
		for _, consumer := range b.g.Consumers(name) {
			if forward[consumer.Index()] {
				continue
			}
			entered := false
			for slot, in := range consumer.Inputs {
				if in != nil && in.Name == name && !stopSlot(consumer.OpType, slot) {
					entered = true
					break
				}
			}
			if !entered {
				continue
			}
			forward[consumer.Index()] = true
			for _, out := range consumer.Outputs {
				if out != nil && out.Name != "" && !seen[out.Name] {
					seen[out.Name] = true
					values = append(values, out.Name)
				}
			}
		}
	}

	for idx := range backward {
		if forward[idx] {
			b.d[idx] = true
		}
	}
}

// countContributions precomputes how many partial gradients each value will
// receive, so contribution names can be chosen before the Sum that folds
// them exists.
func (b *GradientGraphBuilder) countContributions(order []ir.NodeIndex) {
	for _, idx := range order {
		if !b.d[idx] {
			continue
		}
		n := b.g.NodeAt(idx)
		for slot, in := range n.Inputs {
			if in == nil || in.Name == "" || stopSlot(n.OpType, slot) {
				continue
			}
			if !b.valueNeedsGrad(in) {
				continue
			}
			b.expected[in.Name]++
		}
	}
}

// seedOutputGradients creates the producer-less gradient values of the
// differentiated outputs, typed and shaped like the outputs themselves.
func (b *GradientGraphBuilder) seedOutputGradients() {
	for _, y := range b.yNames {
		yv, ok := b.g.ValueRef(y)
		if !ok {
			continue
		}
		b.g.NewValue(GradientName(y), yv.Type, yv.Shape.Clone())
	}
}

// finalizeValue folds the collected partial gradients of name into its
// canonical gradient value. With zero or one contribution there is nothing
// to fold; with more, a Sum node combines the numbered partials. A
// contribution count differing from the precomputed expectation means a
// rule broke the one-contribution-per-slot contract.
func (b *GradientGraphBuilder) finalizeValue(name string) error {
	if b.finalized[name] {
		return nil
	}
	b.finalized[name] = true

	contribs := b.contribs[name]
	if want := b.expected[name]; len(contribs) != want {
		return fmt.Errorf("gradient accumulation for %q expected %d contributions, got %d", name, want, len(contribs))
	}
	if len(contribs) <= 1 {
		return nil
	}

	inputs := make([]*ir.Value, len(contribs))
	for i, cn := range contribs {
		inputs[i] = b.g.GetOrCreateValue(cn)
	}
	out := b.g.GetOrCreateValue(GradientName(name))
	b.g.AddNode(b.g.GenerateNodeName(GradientName(name)+"_sum"), "Sum", "",
		inputs, []*ir.Value{out}, nil, "")
	return nil
}

// materialize appends the declared backward nodes to the graph, creating
// missing values and registering extension-domain opset imports on first
// use.
func (b *GradientGraphBuilder) materialize(def GradientDef) error {
	for _, nd := range def {
		inputs := make([]*ir.Value, len(nd.Inputs))
		for i, name := range nd.Inputs {
			if name == "" {
				continue
			}
			inputs[i] = b.g.GetOrCreateValue(name)
		}
		outputs := make([]*ir.Value, len(nd.Outputs))
		for i, name := range nd.Outputs {
			if name == "" {
				continue
			}
			if p, ok := b.g.Producer(name); ok {
				return fmt.Errorf("%w: gradient node output %q already produced by %q",
					ir.ErrDuplicateProducer, name, p.Name)
			}
			outputs[i] = b.g.GetOrCreateValue(name)
		}
		base := nd.Name
		if base == "" {
			base = nd.OpType
		}
		if nd.Domain != "" {
			if _, ok := b.g.OpsetImports[nd.Domain]; !ok {
				b.g.OpsetImports[nd.Domain] = 1
			}
		}
		b.g.AddNode(b.g.GenerateNodeName(base), nd.OpType, "", inputs, outputs, nd.Attrs, nd.Domain)
	}
	return nil
}
