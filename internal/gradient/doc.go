// Package gradient builds reverse-mode gradient graphs. Given a resolved
// forward graph, a set of outputs to differentiate and a set of values
// requiring gradients, it appends one adjoint subgraph per forward node on a
// useful path, accumulating partial gradients where values fan out.
//
// Two layers are exposed. GradientGraphBuilder is the core adjoint
// constructor operating on a graph in place; its output-gradient seeds are
// deliberately left without producers so the caller decides how they are
// fed. Builder wraps it into the full training-model pipeline: trainable
// initializers are promoted to graph inputs, concrete input shapes are
// applied, the optimizing pass pipeline runs, output-gradient seeds are
// reconciled with internally computed adjoints, a terminal YieldOp is
// synthesized, and the final output list is reordered into the training
// contract order.
package gradient
