package nn

import (
	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Backward computes gradients and propagates them.
	// It takes the gradient of the loss with respect to the module's output,
	// and returns the gradient of the loss with respect to the module's input.
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*layers.Param
	Tag() string
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

func NewSequential(mods ...Module) *Sequential {
	return &Sequential{Layers: mods}
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := x
	for _, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := grad
	for i := len(s.Layers) - 1; i >= 0; i-- {
		out, err = s.Layers[i].Backward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Params concatenates the parameters of all layers in order.
func (s *Sequential) Params() []*layers.Param {
	var ps []*layers.Param
	for _, layer := range s.Layers {
		ps = append(ps, layer.Params()...)
	}
	return ps
}

func (s *Sequential) Tag() string {
	return "Sequential"
}

// SetTraining toggles every layer that distinguishes train and eval mode.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.Layers {
		SetTraining(layer, training)
	}
}

// SetTraining toggles m (or the layers inside it) between train and eval.
func SetTraining(m Module, training bool) {
	switch v := m.(type) {
	case interface{ SetTraining(bool) }:
		v.SetTraining(training)
	case *layers.ResidualBlock:
		for _, inner := range v.Main {
			SetTraining(inner, training)
		}
	}
}

// ZeroGrad clears accumulated gradients.
func ZeroGrad(params []*layers.Param) {
	for _, p := range params {
		if p.Grad != nil {
			p.Grad.Fill(0)
		}
	}
}

// Freeze marks params as read-only: no gradient accumulation, no updates.
func Freeze(params []*layers.Param) {
	for _, p := range params {
		p.Frozen = true
	}
}

// CloneValues deep-copies parameter values, e.g. to compare before/after a step.
func CloneValues(params []*layers.Param) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Value.Clone()
	}
	return out
}
