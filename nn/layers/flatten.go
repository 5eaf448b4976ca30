package layers

import (
	"fmt"

	"advgan_lib/tensor"
)

// Flatten layer: reshapes [batch, ...] to [batch, features].
type Flatten struct {
	lastShape []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("Flatten: input needs a batch dimension, got %v", x.Shape)
	}
	f.lastShape = append([]int(nil), x.Shape...)
	y := tensor.New(x.Shape[0], x.SampleSize())
	copy(y.Data, x.Data)
	return y, nil
}

func (f *Flatten) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	if f.lastShape == nil {
		return nil, fmt.Errorf("Flatten: no cached shape for backward pass")
	}
	out := tensor.New(f.lastShape...)
	if len(out.Data) != len(g.Data) {
		return nil, fmt.Errorf("Flatten: gradient %v does not match %v", g.Shape, f.lastShape)
	}
	copy(out.Data, g.Data)
	return out, nil
}

func (f *Flatten) Params() []*Param { return nil }
func (f *Flatten) Kind() Kind       { return KindReshape }
func (f *Flatten) Tag() string      { return "Flatten" }
