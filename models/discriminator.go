package models

import (
	"fmt"

	"advgan_lib/nn"
	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
)

const discriminatorWidth = 8

// Discriminator scores images as clean (1) or adversarial (0). It returns
// both the raw logit and its sigmoid.
type Discriminator struct {
	net *nn.Sequential

	lastProbs *tensor.Tensor
}

func NewDiscriminator(channels int) *Discriminator {
	w := discriminatorWidth
	net := nn.NewSequential(
		layers.NewConv2D("d.conv1", channels, w, 4, 4, 2, 1),
		layers.MustActivation("leaky_relu"),
		layers.NewConv2D("d.conv2", w, 2*w, 4, 4, 2, 1),
		layers.NewBatchNorm2D("d.bn2", 2*w),
		layers.MustActivation("leaky_relu"),
		layers.NewGlobalAvgPool2D(),
		layers.NewFlatten(),
		layers.NewLinear("d.fc", 2*w, 1),
	)
	return &Discriminator{net: net}
}

// Forward returns logits [N,1] and probabilities sigmoid(logits) [N,1].
func (d *Discriminator) Forward(x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	logits, err := d.net.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("discriminator forward: %w", err)
	}
	probs := tensor.New(logits.Shape...)
	for i, v := range logits.Data {
		probs.Data[i] = layers.Sigmoid(v)
	}
	d.lastProbs = probs
	return logits, probs, nil
}

// Backward combines the gradients w.r.t. logits and probabilities of the
// most recent Forward (either may be nil) and returns the input gradient.
func (d *Discriminator) Backward(gradLogits, gradProbs *tensor.Tensor) (*tensor.Tensor, error) {
	if d.lastProbs == nil {
		return nil, fmt.Errorf("discriminator backward: no cached forward")
	}
	g := tensor.ZerosLike(d.lastProbs)
	if gradLogits != nil {
		if err := tensor.AddScaledInPlace(g, 1, gradLogits); err != nil {
			return nil, fmt.Errorf("discriminator backward: %w", err)
		}
	}
	if gradProbs != nil {
		if !tensor.SameShape(gradProbs, d.lastProbs) {
			return nil, fmt.Errorf("discriminator backward: gradProbs shape %v, want %v", gradProbs.Shape, d.lastProbs.Shape)
		}
		for i, p := range d.lastProbs.Data {
			g.Data[i] += gradProbs.Data[i] * p * (1 - p)
		}
	}
	out, err := d.net.Backward(g)
	if err != nil {
		return nil, fmt.Errorf("discriminator backward: %w", err)
	}
	return out, nil
}

// Modules exposes the layers in execution order.
func (d *Discriminator) Modules() []nn.Module { return d.net.Layers }

func (d *Discriminator) Params() []*layers.Param { return d.net.Params() }

func (d *Discriminator) ZeroGrad() { nn.ZeroGrad(d.Params()) }

func (d *Discriminator) Tag() string { return "Discriminator" }
