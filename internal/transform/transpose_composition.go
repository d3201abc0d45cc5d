package transform

import "github.com/mrshu/onnxruntime/internal/ir"

// TransposeComposition collapses back-to-back Transpose pairs into a single
// Transpose carrying the composed permutation. A pair composing to the
// identity is dropped entirely when its output is not pinned.
type TransposeComposition struct{}

// NewTransposeComposition creates the pass.
func NewTransposeComposition() *TransposeComposition { return &TransposeComposition{} }

// Name identifies the pass in pipeline logs and errors.
func (tc *TransposeComposition) Name() string { return "TransposeComposition" }

// Level places the pass with the basic standard-operator rewrites.
func (tc *TransposeComposition) Level() Level { return Level1 }

// Apply collapses eligible pairs, deferring node deletion until the walk
// completes.
func (tc *TransposeComposition) Apply(g *ir.Graph) (bool, error) {
	modified, err := ApplyToSubgraphs(g, tc.Apply)
	if err != nil {
		return modified, err
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return modified, err
	}

	removals := newRemovalQueue()
	for _, idx := range order {
		outer := g.NodeAt(idx)
		if outer == nil || outer.OpType != "Transpose" || outer.Domain != "" {
			continue
		}
		if len(outer.Inputs) != 1 || outer.Inputs[0] == nil || len(outer.Outputs) != 1 {
			continue
		}

		inner, ok := g.Producer(outer.Inputs[0].Name)
		if !ok || inner.OpType != "Transpose" || inner.Domain != "" {
			continue
		}
		if len(inner.Inputs) != 1 || inner.Inputs[0] == nil || len(inner.Outputs) != 1 {
			continue
		}
		if g.IsGraphOutput(inner.Outputs[0].Name) {
			continue
		}
		if consumers := g.Consumers(inner.Outputs[0].Name); len(consumers) != 1 || consumers[0] != outer {
			continue
		}

		combined, ok := composePerms(inner, outer)
		if !ok {
			continue
		}

		if isIdentityPerm(combined) && !g.IsGraphOutput(outer.Outputs[0].Name) {
			// The pair cancels out. Bypass both nodes; remove the outer one
			// first so the inner's output edge is already gone at drain time.
			g.RewireConsumers(outer.Outputs[0], inner.Inputs[0])
			removals.PushFront(inner.Index())
			removals.PushFront(outer.Index())
		} else {
			g.ReplaceInput(outer, 0, inner.Inputs[0])
			outer.SetAttr(ir.IntsAttr("perm", combined...))
			removals.PushFront(inner.Index())
		}
		modified = true
	}

	if err := removals.Drain(g); err != nil {
		return modified, err
	}
	return modified, nil
}

// composePerms composes outer(inner(x)): combined[i] = permInner[permOuter[i]].
// Fails when either permutation is unavailable, the ranks disagree, or an
// index is out of range.
func composePerms(inner, outer *ir.Node) ([]int64, bool) {
	permInner, ok := transposePerm(inner)
	if !ok {
		return nil, false
	}
	permOuter, ok := transposePerm(outer)
	if !ok {
		return nil, false
	}
	if len(permInner) != len(permOuter) {
		return nil, false
	}
	combined := make([]int64, len(permOuter))
	for i, p := range permOuter {
		if p < 0 || p >= int64(len(permInner)) {
			return nil, false
		}
		combined[i] = permInner[p]
	}
	return combined, true
}

func isIdentityPerm(perm []int64) bool {
	for i, p := range perm {
		if p != int64(i) {
			return false
		}
	}
	return true
}
