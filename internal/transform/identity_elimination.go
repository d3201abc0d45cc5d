package transform

import "github.com/mrshu/onnxruntime/internal/ir"

// IdentityElimination removes Identity nodes, rewiring their consumers to
// read the identity's input directly. Identities producing a pinned graph
// output are left in place.
type IdentityElimination struct{}

// NewIdentityElimination creates the pass.
func NewIdentityElimination() *IdentityElimination { return &IdentityElimination{} }

// Name identifies the pass in pipeline logs and errors.
func (e *IdentityElimination) Name() string { return "EliminateIdentity" }

// Level places the pass with the basic standard-operator rewrites.
func (e *IdentityElimination) Level() Level { return Level1 }

// Apply removes eligible identities, deferring node deletion until the walk
// completes.
func (e *IdentityElimination) Apply(g *ir.Graph) (bool, error) {
	modified, err := ApplyToSubgraphs(g, e.Apply)
	if err != nil {
		return modified, err
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return modified, err
	}

	removals := newRemovalQueue()
	for _, idx := range order {
		n := g.NodeAt(idx)
		if n == nil || n.OpType != "Identity" || n.Domain != "" {
			continue
		}
		if len(n.Inputs) != 1 || n.Inputs[0] == nil || len(n.Outputs) != 1 {
			continue
		}
		if g.IsGraphOutput(n.Outputs[0].Name) {
			continue
		}

		g.RewireConsumers(n.Outputs[0], n.Inputs[0])
		removals.PushFront(idx)
		modified = true
	}

	if err := removals.Drain(g); err != nil {
		return modified, err
	}
	return modified, nil
}
