// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph exposes the mutable computation-graph IR the engine
// rewrites: an arena of operator nodes joined through named values, with
// symbolic shapes, ordered attributes, and the Resolve validation pass.
//
// Graphs usually come from the onnx package and go back out through it;
// the transform and training packages operate on them in between.
//
// Example:
//
//	g := graph.New("net")
//	x := g.NewValue("x", tensor.Float32, graph.Shape{graph.DimNamed("batch"), graph.DimOf(3)})
//	g.AddInput(x)
//	y := g.NewValue("y", tensor.Float32, nil)
//	g.AddNode("relu", "Relu", "", []*graph.Value{x}, []*graph.Value{y}, nil, "")
//	g.AddOutput(y)
//	if err := g.Resolve(); err != nil {
//		log.Fatal(err)
//	}
package graph

import (
	"github.com/mrshu/onnxruntime/internal/ir"
)

// Graph is a mutable operator DAG with stable node indices.
type Graph = ir.Graph

// Node is an operator instance inside a Graph.
type Node = ir.Node

// NodeIndex addresses a node in the graph arena.
type NodeIndex = ir.NodeIndex

// InvalidNodeIndex marks a node that has been removed from its graph.
const InvalidNodeIndex = ir.InvalidNodeIndex

// Value is a named edge between nodes, carrying type and shape metadata.
type Value = ir.Value

// Dim is a single dimension of a value shape.
type Dim = ir.Dim

// Shape is a list of dimensions, possibly symbolic.
type Shape = ir.Shape

// Attribute is a named typed literal attached to a node.
type Attribute = ir.Attribute

// AttrKind discriminates attribute payloads.
type AttrKind = ir.AttrKind

// New creates an empty graph.
func New(name string) *Graph { return ir.NewGraph(name) }

// DimOf returns a concrete dimension.
func DimOf(v int64) Dim { return ir.DimOf(v) }

// DimNamed returns a symbolic dimension.
func DimNamed(param string) Dim { return ir.DimNamed(param) }

// DimUnknown returns a dimension with neither size nor name.
func DimUnknown() Dim { return ir.DimUnknown() }

// Attribute constructors.
var (
	FloatAttr   = ir.FloatAttr
	IntAttr     = ir.IntAttr
	StringAttr  = ir.StringAttr
	IntsAttr    = ir.IntsAttr
	FloatsAttr  = ir.FloatsAttr
	StringsAttr = ir.StringsAttr
	TensorAttr  = ir.TensorAttr
	GraphAttr   = ir.GraphAttr
)

// Validation errors surfaced by Resolve and the rewrite primitives.
var (
	ErrCycle             = ir.ErrCycle
	ErrDanglingValue     = ir.ErrDanglingValue
	ErrDuplicateProducer = ir.ErrDuplicateProducer
	ErrDeadOutput        = ir.ErrDeadOutput
	ErrNodeAttached      = ir.ErrNodeAttached
	ErrNodeRemoved       = ir.ErrNodeRemoved
	ErrNoConsumers       = ir.ErrNoConsumers
)
