package layers

import (
	"fmt"
	"strings"

	"advgan_lib/tensor"
)

// ResidualBlock computes Main(x) + x. Main must preserve the input shape.
type ResidualBlock struct {
	Main []Layer
}

func NewResidualBlock(mods ...Layer) *ResidualBlock {
	return &ResidualBlock{Main: mods}
}

func (r *ResidualBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	in := x
	var err error
	for _, m := range r.Main {
		in, err = m.Forward(in)
		if err != nil {
			return nil, err
		}
	}
	out, err := tensor.Add(in, x)
	if err != nil {
		return nil, fmt.Errorf("%s: skip connection: %w", r.Tag(), err)
	}
	return out, nil
}

func (r *ResidualBlock) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	grad := g
	var err error
	for i := len(r.Main) - 1; i >= 0; i-- {
		grad, err = r.Main[i].Backward(grad)
		if err != nil {
			return nil, err
		}
	}
	// gradient from both paths
	return tensor.Add(grad, g)
}

func (r *ResidualBlock) Params() []*Param {
	var ps []*Param
	for _, m := range r.Main {
		ps = append(ps, m.Params()...)
	}
	return ps
}

func (r *ResidualBlock) Kind() Kind { return KindComposite }

func (r *ResidualBlock) Tag() string {
	tags := make([]string, len(r.Main))
	for i, m := range r.Main {
		tags[i] = m.Tag()
	}
	return "ResidualBlock[" + strings.Join(tags, ",") + "]"
}
