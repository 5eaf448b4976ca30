package models

import (
	"fmt"

	"advgan_lib/nn"
	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
	"advgan_lib/utils"

	"github.com/pkg/errors"
)

// TargetModel is the frozen classifier under attack. Its parameters never
// receive gradients; Backward only yields gradients w.r.t. the input.
type TargetModel struct {
	net     *nn.Sequential
	nLabels int
}

func newTargetNet(channels, nLabels int) *nn.Sequential {
	return nn.NewSequential(
		layers.NewConv2D("t.conv1", channels, 8, 3, 3, 1, 1),
		layers.MustActivation("relu"),
		layers.NewAvgPool2D(2),
		layers.NewConv2D("t.conv2", 8, 16, 3, 3, 1, 1),
		layers.MustActivation("relu"),
		layers.NewGlobalAvgPool2D(),
		layers.NewFlatten(),
		layers.NewLinear("t.fc", 16, nLabels),
	)
}

// NewTargetModel returns a randomly initialised, frozen classifier.
func NewTargetModel(channels, nLabels int, seed uint64) *TargetModel {
	net := newTargetNet(channels, nLabels)
	nn.InitWeights(net.Params(), seed)
	nn.Freeze(net.Params())
	return &TargetModel{net: net, nLabels: nLabels}
}

// LoadTargetModel restores a classifier from a weights snapshot and freezes it.
func LoadTargetModel(path string, channels, nLabels int) (*TargetModel, error) {
	mw, err := utils.LoadWeights(path)
	if err != nil {
		return nil, errors.Wrap(err, "load target model")
	}
	net := newTargetNet(channels, nLabels)
	if err := utils.ApplyWeights(mw, net.Params()); err != nil {
		return nil, errors.Wrapf(err, "load target model from %s", path)
	}
	nn.Freeze(net.Params())
	return &TargetModel{net: net, nLabels: nLabels}, nil
}

// Save writes the classifier weights so LoadTargetModel can restore them.
func (m *TargetModel) Save(path string) error {
	return utils.SaveWeights(path, utils.CollectWeights(m.Tag(), m.Params()))
}

// Forward returns class logits [N, nLabels].
func (m *TargetModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.net.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("target forward: %w", err)
	}
	return out, nil
}

// Backward maps a logit gradient to an input gradient.
func (m *TargetModel) Backward(gradLogits *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.net.Backward(gradLogits)
	if err != nil {
		return nil, fmt.Errorf("target backward: %w", err)
	}
	return out, nil
}

// Modules exposes the layers in execution order.
func (m *TargetModel) Modules() []nn.Module { return m.net.Layers }

func (m *TargetModel) Params() []*layers.Param { return m.net.Params() }

func (m *TargetModel) NumLabels() int { return m.nLabels }

func (m *TargetModel) Tag() string { return "TargetModel" }
