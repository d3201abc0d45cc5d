package cpu

import (
	"testing"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

func TestAddBroadcastRows(t *testing.T) {
	x := f32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	bias := f32(t, tensor.Shape{3}, 10, 20, 30)

	out, err := Add(x, bias)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{2, 3}, 11, 22, 33, 14, 25, 36)
}

func TestAddBroadcastScalar(t *testing.T) {
	x := f32(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	one := f32(t, tensor.Shape{}, 1)

	out, err := Add(x, one)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{2, 2}, 2, 3, 4, 5)
}

func TestSubMulDiv(t *testing.T) {
	a := f32(t, tensor.Shape{4}, 8, 6, 4, 2)
	b := f32(t, tensor.Shape{4}, 2, 2, 2, 2)

	out, err := Sub(a, b)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{4}, 6, 4, 2, 0)

	out, err = Mul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{4}, 16, 12, 8, 4)

	out, err = Div(a, b)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{4}, 4, 3, 2, 1)
}

func TestMulBroadcastMidDim(t *testing.T) {
	a := f32(t, tensor.Shape{2, 1, 2}, 1, 2, 3, 4)
	b := f32(t, tensor.Shape{3, 1}, 1, 10, 100)

	out, err := Mul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{2, 3, 2},
		1, 2, 10, 20, 100, 200,
		3, 4, 30, 40, 300, 400)
}

func TestNeg(t *testing.T) {
	out, err := Neg(f32(t, tensor.Shape{3}, 1, -2, 0))
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{3}, -1, 2, 0)
}

func TestSumVariadic(t *testing.T) {
	a := f32(t, tensor.Shape{2}, 1, 2)
	b := f32(t, tensor.Shape{2}, 10, 20)
	c := f32(t, tensor.Shape{2}, 100, 200)

	out, err := Sum(a, b, c)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{2}, 111, 222)

	// A single operand passes through as a copy.
	out, err = Sum(a)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{2}, 1, 2)
	if &out.AsFloat32()[0] == &a.AsFloat32()[0] {
		t.Fatal("sum must not alias its input")
	}

	if _, err := Sum(); err == nil {
		t.Fatal("expected error for empty sum")
	}
}

func TestBinaryOpErrors(t *testing.T) {
	a := f32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := f32(t, tensor.Shape{4}, 1, 2, 3, 4)
	if _, err := Add(a, b); err == nil {
		t.Fatal("expected broadcast incompatibility error")
	}

	i64, err := tensor.NewRawFromInt64(tensor.Shape{2, 3}, []int64{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Add(a, i64); err == nil {
		t.Fatal("expected dtype mismatch error")
	}
}

func TestActivations(t *testing.T) {
	x := f32(t, tensor.Shape{3}, -1, 0, 2)

	out, err := Relu(x)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{3}, 0, 0, 2)

	out, err = Sigmoid(f32(t, tensor.Shape{1}, 0))
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{1}, 0.5)

	out, err = Tanh(f32(t, tensor.Shape{1}, 0))
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{1}, 0)
}

func TestActivationGradients(t *testing.T) {
	dy := f32(t, tensor.Shape{3}, 1, 1, 1)
	v := f32(t, tensor.Shape{3}, -1, 0, 2)

	out, err := ReluGrad(dy, v)
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{3}, 0, 0, 1)

	out, err = SigmoidGrad(f32(t, tensor.Shape{1}, 1), f32(t, tensor.Shape{1}, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{1}, 0.25)

	out, err = TanhGrad(f32(t, tensor.Shape{1}, 1), f32(t, tensor.Shape{1}, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	wantF32(t, out, tensor.Shape{1}, 0.75)
}
