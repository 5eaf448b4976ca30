// Package models holds the concrete networks trained or attacked by the
// AdvGAN trainer.
package models

import (
	"fmt"

	"advgan_lib/nn"
	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
)

// generatorWidth is the feature-map width of every hidden conv.
const generatorWidth = 16

// Generator maps an image batch to a perturbation batch of the same shape.
// Outputs are in (-1, 1); the caller clamps them to the L∞ bound.
type Generator struct {
	net    *nn.Sequential
	target string
}

// NewGenerator builds conv-BN-ReLU → residual block → conv-tanh. The target
// tag only names snapshots and plots.
func NewGenerator(inChannels, outChannels int, target string) *Generator {
	w := generatorWidth
	net := nn.NewSequential(
		layers.NewConv2D("g.enc.conv", inChannels, w, 3, 3, 1, 1),
		layers.NewBatchNorm2D("g.enc.bn", w),
		layers.MustActivation("relu"),
		layers.NewResidualBlock(
			layers.NewConv2D("g.res.conv1", w, w, 3, 3, 1, 1),
			layers.NewBatchNorm2D("g.res.bn1", w),
			layers.MustActivation("relu"),
			layers.NewConv2D("g.res.conv2", w, w, 3, 3, 1, 1),
			layers.NewBatchNorm2D("g.res.bn2", w),
		),
		layers.NewConv2D("g.dec.conv", w, outChannels, 3, 3, 1, 1),
		layers.MustActivation("tanh"),
	)
	return &Generator{net: net, target: target}
}

func (g *Generator) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := g.net.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("generator forward: %w", err)
	}
	return out, nil
}

// Backward takes the gradient w.r.t. the perturbation of the most recent
// Forward and accumulates parameter gradients.
func (g *Generator) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := g.net.Backward(gradOut)
	if err != nil {
		return nil, fmt.Errorf("generator backward: %w", err)
	}
	return out, nil
}

// Modules exposes the layers in execution order.
func (g *Generator) Modules() []nn.Module { return g.net.Layers }

func (g *Generator) Params() []*layers.Param { return g.net.Params() }

func (g *Generator) ZeroGrad() { nn.ZeroGrad(g.Params()) }

func (g *Generator) Target() string { return g.target }

func (g *Generator) Tag() string { return "Generator_" + g.target }
