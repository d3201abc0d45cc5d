package transform

import (
	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
)

// MatMulTransposeFusion folds Transpose operators feeding a matmul into the
// matmul itself, replacing the pair with a FusedMatMul extension operator
// whose transA/transB attributes carry the transpose semantics. A Cast
// sitting between the transpose and the matmul is first interchanged with
// the transpose so the transpose becomes adjacent and can be absorbed.
type MatMulTransposeFusion struct {
	registry   *providers.Registry
	compatible map[string]bool
}

// NewMatMulTransposeFusion creates the pass. compatible restricts the pass
// to matmuls assigned to the listed providers; empty means any. A nil
// registry uses the process default.
func NewMatMulTransposeFusion(reg *providers.Registry, compatible []string) *MatMulTransposeFusion {
	if reg == nil {
		reg = providers.Default()
	}
	f := &MatMulTransposeFusion{registry: reg, compatible: make(map[string]bool, len(compatible))}
	for _, p := range compatible {
		f.compatible[p] = true
	}
	return f
}

// Name identifies the pass in pipeline logs and errors.
func (f *MatMulTransposeFusion) Name() string { return "MatMulTransposeFusion" }

// Level places the pass with the extension-domain fusions.
func (f *MatMulTransposeFusion) Level() Level { return Level2 }

// Apply walks the graph's matmul-like nodes in topological order, absorbing
// adjacent transposes. Transposes left without consumers are removed after
// the walk completes, last discovered first.
func (f *MatMulTransposeFusion) Apply(g *ir.Graph) (bool, error) {
	modified, err := ApplyToSubgraphs(g, f.Apply)
	if err != nil {
		return modified, err
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return modified, err
	}

	removals := newRemovalQueue()
	counts := make(map[string]int)
	// Lazily seeded per-slot fan-out counter. The same transpose output may
	// feed both matmul operands; it is released only when the last slot is
	// rebound.
	decrement := func(name string) bool {
		c, seeded := counts[name]
		if !seeded {
			c = g.EdgeCount(name)
		}
		c--
		counts[name] = c
		return c == 0
	}

	msOpset := int64(1)
	if v, ok := g.OpsetImports[providers.MicrosoftDomain]; ok {
		msOpset = v
	}

	for _, idx := range order {
		n := g.NodeAt(idx)
		if n == nil || !isMatMulLike(n) {
			continue
		}
		if !f.providerAllowed(n.Provider) {
			continue
		}
		if !f.registry.Supports(n.Provider, "FusedMatMul", providers.MicrosoftDomain, msOpset) {
			continue
		}
		if len(n.Inputs) != 2 || n.Inputs[0] == nil || n.Inputs[1] == nil {
			continue
		}

		leftTrans := f.matchTranspose(g, n.Inputs[0], n)
		rightTrans := f.matchTranspose(g, n.Inputs[1], n)

		if leftTrans == nil && rightTrans == nil {
			if cast, trans := f.matchCastTranspose(g, n.Inputs[0], n); cast != nil {
				leftTrans = f.reorderCastTranspose(g, cast, trans, removals)
			} else if cast, trans := f.matchCastTranspose(g, n.Inputs[1], n); cast != nil {
				rightTrans = f.reorderCastTranspose(g, cast, trans, removals)
			}
		}
		if leftTrans == nil && rightTrans == nil {
			continue
		}

		lhs, rhs := n.Inputs[0], n.Inputs[1]
		transLeft, transRight := false, false
		if leftTrans != nil {
			transLeft = true
			if decrement(lhs.Name) {
				removals.PushFront(leftTrans.Index())
			}
			lhs = leftTrans.Inputs[0]
		}
		if rightTrans != nil {
			transRight = true
			if decrement(rhs.Name) {
				removals.PushFront(rightTrans.Index())
			}
			rhs = rightTrans.Inputs[0]
		}

		// Re-fusing an already fused node composes the transpose flags.
		transA, transB := transLeft, transRight
		alpha := float32(1)
		if n.OpType == "FusedMatMul" {
			transA = transLeft != (n.AttrInt("transA", 0) != 0)
			transB = transRight != (n.AttrInt("transB", 0) != 0)
			alpha = n.AttrFloat("alpha", 1)
		}

		fused := g.AddNode(g.GenerateNodeName("MatMul_With_Transpose"), "FusedMatMul", "",
			[]*ir.Value{lhs, rhs}, nil,
			[]*ir.Attribute{
				ir.IntAttr("transA", boolToInt(transA)),
				ir.IntAttr("transB", boolToInt(transB)),
				ir.FloatAttr("alpha", alpha),
			}, providers.MicrosoftDomain)
		fused.Provider = n.Provider

		if err := g.FinalizeReplacement(fused, n); err != nil {
			return true, err
		}
		if _, ok := g.OpsetImports[providers.MicrosoftDomain]; !ok {
			g.OpsetImports[providers.MicrosoftDomain] = 1
		}
		modified = true
	}

	if err := removals.Drain(g); err != nil {
		return modified, err
	}
	return modified, nil
}

func (f *MatMulTransposeFusion) providerAllowed(provider string) bool {
	if len(f.compatible) == 0 {
		return true
	}
	if provider == "" {
		provider = providers.CPU
	}
	return f.compatible[provider]
}

// matchTranspose returns the transpose producing operand when the pattern
// holds: same provider as consumer, operand consumed only by consumer and
// not pinned as a graph output, and a permutation that is the identity on
// all leading axes and swaps exactly the last two. Any deviation is a
// silent non-match.
func (f *MatMulTransposeFusion) matchTranspose(g *ir.Graph, operand *ir.Value, consumer *ir.Node) *ir.Node {
	producer, ok := g.Producer(operand.Name)
	if !ok || producer.OpType != "Transpose" || producer.Domain != "" {
		return nil
	}
	if producer.Provider != consumer.Provider {
		return nil
	}
	if len(producer.Inputs) != 1 || producer.Inputs[0] == nil || len(producer.Outputs) != 1 {
		return nil
	}
	if g.IsGraphOutput(operand.Name) {
		return nil
	}
	consumers := g.Consumers(operand.Name)
	if len(consumers) != 1 || consumers[0] != consumer {
		return nil
	}
	perm, ok := transposePerm(producer)
	if !ok {
		return nil
	}
	if in := producer.Inputs[0]; in.Shape != nil && in.Shape.Rank() != len(perm) {
		return nil
	}
	if !swapsLastTwoOnly(perm) {
		return nil
	}
	return producer
}

// matchCastTranspose matches operand <- Cast <- Transpose where the cast is
// single-output, consumed only by the matmul, and itself the sole consumer
// of a matching transpose.
func (f *MatMulTransposeFusion) matchCastTranspose(g *ir.Graph, operand *ir.Value, matmul *ir.Node) (*ir.Node, *ir.Node) {
	cast, ok := g.Producer(operand.Name)
	if !ok || cast.OpType != "Cast" || cast.Domain != "" {
		return nil, nil
	}
	if cast.Provider != matmul.Provider {
		return nil, nil
	}
	if len(cast.Inputs) != 1 || cast.Inputs[0] == nil || len(cast.Outputs) != 1 {
		return nil, nil
	}
	if g.IsGraphOutput(operand.Name) {
		return nil, nil
	}
	consumers := g.Consumers(operand.Name)
	if len(consumers) != 1 || consumers[0] != matmul {
		return nil, nil
	}
	trans := f.matchTranspose(g, cast.Inputs[0], cast)
	if trans == nil {
		return nil, nil
	}
	return cast, trans
}

// reorderCastTranspose swaps a Transpose -> Cast chain into Cast ->
// Transpose so the transpose becomes adjacent to the matmul. The new cast
// reads the transpose's original input and keeps the cast's element type;
// the new transpose takes over the cast's output value so downstream edges
// stay untouched. The displaced pair is queued for removal, cast first.
func (f *MatMulTransposeFusion) reorderCastTranspose(g *ir.Graph, cast, trans *ir.Node, q *removalQueue) *ir.Node {
	castOut := cast.Outputs[0]
	src := trans.Inputs[0]

	newCastOut := g.NewValue(g.GenerateValueName(castOut.Name+"_transformed"), castOut.Type, src.Shape.Clone())
	newCast := g.AddNode(g.GenerateNodeName(cast.Name+"_transformed"), "Cast", "",
		[]*ir.Value{src}, []*ir.Value{newCastOut}, cloneAttrs(cast), "")
	newCast.Provider = cast.Provider

	g.DetachOutputs(cast)
	newTrans := g.AddNode(g.GenerateNodeName(trans.Name+"_transformed"), "Transpose", "",
		[]*ir.Value{newCastOut}, []*ir.Value{castOut}, cloneAttrs(trans), "")
	newTrans.Provider = trans.Provider

	q.PushFront(trans.Index())
	q.PushFront(cast.Index())
	return newTrans
}

func isMatMulLike(n *ir.Node) bool {
	if n.OpType == "MatMul" && n.Domain == "" {
		return true
	}
	return n.OpType == "FusedMatMul" && n.Domain == providers.MicrosoftDomain
}

// transposePerm returns the node's permutation: the perm attribute when
// present, else the implicit full reversal, which needs a known input rank.
func transposePerm(n *ir.Node) ([]int64, bool) {
	if perm, ok := n.AttrInts("perm"); ok {
		return perm, true
	}
	if len(n.Inputs) == 0 || n.Inputs[0] == nil || n.Inputs[0].Shape == nil {
		return nil, false
	}
	r := n.Inputs[0].Shape.Rank()
	perm := make([]int64, r)
	for i := range perm {
		perm[i] = int64(r - 1 - i)
	}
	return perm, true
}

// swapsLastTwoOnly reports whether perm is the identity on every leading
// axis and swaps exactly the trailing two. Rank below 2 never qualifies.
func swapsLastTwoOnly(perm []int64) bool {
	r := len(perm)
	if r < 2 {
		return false
	}
	for i := 0; i < r-2; i++ {
		if perm[i] != int64(i) {
			return false
		}
	}
	return perm[r-2] == int64(r-1) && perm[r-1] == int64(r-2)
}

func cloneAttrs(n *ir.Node) []*ir.Attribute {
	attrs := n.Attrs()
	if len(attrs) == 0 {
		return nil
	}
	out := make([]*ir.Attribute, len(attrs))
	for i, a := range attrs {
		out[i] = a.Clone()
	}
	return out
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
