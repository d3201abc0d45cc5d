// Package cpu implements host-memory reference kernels for the operators
// this engine rewrites: matrix products (plain, batched, and fused with
// transpose flags), elementwise arithmetic with numpy broadcasting,
// activations and their gradients, and the tensor manipulation ops the
// gradient builder emits.
//
// Kernels are float32/float64 only and favor clarity over throughput; the
// inner matrix product delegates to gonum's BLAS routines. They back the
// evaluator package, which is the numeric oracle for the rewrite passes.
package cpu
