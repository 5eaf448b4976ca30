package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64.
// Image batches use the [batch, channels, height, width] layout.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Batch returns the leading dimension.
func (t *Tensor) Batch() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// SampleSize returns the number of elements per leading-dimension entry.
func (t *Tensor) SampleSize() int {
	if t.Batch() == 0 {
		return 0
	}
	return len(t.Data) / t.Shape[0]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// ZerosLike allocates a zero tensor with t's shape.
func ZerosLike(t *Tensor) *Tensor { return New(t.Shape...) }

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Reshape returns a view sharing Data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Equal reports whether a and b have the same shape and bit-identical data.
func Equal(a, b *Tensor) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	floats.AddTo(out.Data, a.Data, b.Data)
	return out, nil
}

// AddScaledInPlace computes dst += alpha*src.
func AddScaledInPlace(dst *Tensor, alpha float64, src *Tensor) error {
	if len(dst.Data) != len(src.Data) {
		return fmt.Errorf("shape mismatch: %v vs %v", dst.Shape, src.Shape)
	}
	floats.AddScaled(dst.Data, alpha, src.Data)
	return nil
}

// Scale returns s*a.
func Scale(s float64, a *Tensor) *Tensor {
	out := a.Clone()
	floats.Scale(s, out.Data)
	return out
}

// Clamp returns a copy of a with every element limited to [lo, hi].
func Clamp(a *Tensor, lo, hi float64) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		switch {
		case v < lo:
			out.Data[i] = lo
		case v > hi:
			out.Data[i] = hi
		default:
			out.Data[i] = v
		}
	}
	return out
}

// ClampMask returns 1 where lo <= a <= hi and 0 elsewhere, i.e. the
// derivative of Clamp with respect to its input.
func ClampMask(a *Tensor, lo, hi float64) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		if v >= lo && v <= hi {
			out.Data[i] = 1
		}
	}
	return out
}

// MulElem returns the element-wise product a*b.
func MulElem(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	floats.MulTo(out.Data, a.Data, b.Data)
	return out, nil
}

// MatMul returns a×b (2-D only), or error if dims mismatch.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	r, k := a.Shape[0], a.Shape[1]
	k2, c := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, k2)
	}
	out := New(r, c)
	dst := mat.NewDense(r, c, out.Data)
	dst.Mul(mat.NewDense(r, k, a.Data), mat.NewDense(k2, c, b.Data))
	return out, nil
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}

func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
