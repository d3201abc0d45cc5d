package ir

import (
	"fmt"
	"strings"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// Dim is a single dimension of a value shape: a concrete size, a named
// symbolic parameter, or unknown.
type Dim struct {
	Value int64  // concrete size when >= 0
	Param string // symbolic name when Value < 0
}

// DimOf returns a concrete dimension.
func DimOf(v int64) Dim { return Dim{Value: v} }

// DimNamed returns a symbolic dimension.
func DimNamed(param string) Dim { return Dim{Value: -1, Param: param} }

// DimUnknown returns a dimension with neither size nor name.
func DimUnknown() Dim { return Dim{Value: -1} }

// Known reports whether the dimension has a concrete size.
func (d Dim) Known() bool { return d.Value >= 0 }

// Equal reports whether two dimensions agree: equal sizes, or the same
// symbolic name. Unknown dimensions never agree.
func (d Dim) Equal(other Dim) bool {
	if d.Known() && other.Known() {
		return d.Value == other.Value
	}
	if !d.Known() && !other.Known() {
		return d.Param != "" && d.Param == other.Param
	}
	return false
}

func (d Dim) String() string {
	if d.Known() {
		return fmt.Sprintf("%d", d.Value)
	}
	if d.Param != "" {
		return d.Param
	}
	return "?"
}

// Shape is the dimension list of a value reference. A nil Shape means the
// rank itself is unknown; an empty non-nil Shape is a scalar.
type Shape []Dim

// ShapeOf builds a fully concrete shape.
func ShapeOf(dims ...int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = DimOf(d)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Concrete returns the dimension sizes if every dimension is known.
func (s Shape) Concrete() ([]int64, bool) {
	dims := make([]int64, len(s))
	for i, d := range s {
		if !d.Known() {
			return nil, false
		}
		dims[i] = d.Value
	}
	return dims, true
}

// Clone returns a copy of the shape, preserving nil-ness.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Equal reports whether two shapes agree dimension by dimension.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !s[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Value is a named, typed, optionally shaped wire between nodes, or between
// a node and a graph input/output/initializer. The graph owns the canonical
// name-to-value mapping; nodes hold non-owning references into it.
type Value struct {
	Name  string
	Type  tensor.DataType
	Shape Shape
}

// ShapeKnown reports whether the value has a recorded shape (its rank is
// known; individual dimensions may still be symbolic).
func (v *Value) ShapeKnown() bool { return v.Shape != nil }

// Rank returns the value's rank, or -1 when the shape is unknown.
func (v *Value) Rank() int {
	if v.Shape == nil {
		return -1
	}
	return v.Shape.Rank()
}

func (v *Value) clone() *Value {
	return &Value{Name: v.Name, Type: v.Type, Shape: v.Shape.Clone()}
}
