// Package bench measures per-layer forward, backward and update cost of the
// networks used in training.
package bench

import (
	"fmt"
	"time"

	"advgan_lib/nn"
	"advgan_lib/tensor"
)

// LayerTiming is the mean cost of one layer over the profiled runs.
type LayerTiming struct {
	Layer  string
	Params int
	Fwd    time.Duration
	Bwd    time.Duration
	Upd    time.Duration
}

// Profile runs net forward then backward on x numRuns times, timing each
// layer. Updates use a zero learning rate, so parameter values are kept;
// gradients and running statistics are not.
func Profile(net BuiltNet, x *tensor.Tensor, numRuns int) ([]LayerTiming, error) {
	if numRuns < 1 {
		return nil, fmt.Errorf("numRuns must be positive, got %d", numRuns)
	}
	timings := make([]LayerTiming, len(net.Layers))
	opts := make([]*nn.Adam, len(net.Layers))
	for i, layer := range net.Layers {
		timings[i].Layer = fmt.Sprintf("%d:%s", i, layer.Tag())
		for _, p := range layer.Params() {
			if p.Trainable() {
				timings[i].Params += p.Value.Size()
			}
		}
		opts[i] = nn.NewAdamDefault(layer.Params(), 0)
	}

	for r := 0; r < numRuns; r++ {
		out := x
		for i, layer := range net.Layers {
			start := time.Now()
			next, err := layer.Forward(out)
			if err != nil {
				return nil, fmt.Errorf("%s forward at %s: %w", net.Name, timings[i].Layer, err)
			}
			timings[i].Fwd += time.Since(start)
			out = next
		}

		grad := tensor.ZerosLike(out)
		grad.Fill(1)
		for i := len(net.Layers) - 1; i >= 0; i-- {
			start := time.Now()
			prev, err := net.Layers[i].Backward(grad)
			if err != nil {
				return nil, fmt.Errorf("%s backward at %s: %w", net.Name, timings[i].Layer, err)
			}
			timings[i].Bwd += time.Since(start)
			grad = prev
		}

		for i, opt := range opts {
			start := time.Now()
			opt.Step()
			timings[i].Upd += time.Since(start)
			opt.ZeroGrad()
		}
	}

	for i := range timings {
		timings[i].Fwd /= time.Duration(numRuns)
		timings[i].Bwd /= time.Duration(numRuns)
		timings[i].Upd /= time.Duration(numRuns)
	}
	return timings, nil
}
