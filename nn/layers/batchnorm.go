package layers

import (
	"fmt"
	"math"

	"advgan_lib/tensor"

	"gonum.org/v1/gonum/stat"
)

const (
	bnEps      = 1e-5
	bnMomentum = 0.1
)

// BatchNorm2D normalises each channel of a [batch, C, H, W] tensor with
// batch statistics in training mode and running statistics otherwise.
type BatchNorm2D struct {
	channels int
	training bool

	Gamma       *Param // [C]
	Beta        *Param // [C]
	RunningMean *Param // [C], buffer
	RunningVar  *Param // [C], buffer

	// Cached for backward pass
	lastXHat   *tensor.Tensor
	lastInvStd []float64
}

func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		channels:    channels,
		training:    true,
		Gamma:       newParam(name+".weight", KindNorm, RoleWeight, channels),
		Beta:        newParam(name+".bias", KindNorm, RoleBias, channels),
		RunningMean: newParam(name+".running_mean", KindNorm, RoleBuffer, channels),
		RunningVar:  newParam(name+".running_var", KindNorm, RoleBuffer, channels),
	}
	bn.Gamma.Value.Fill(1)
	bn.RunningVar.Value.Fill(1)
	return bn
}

// SetTraining switches between batch statistics (true) and running
// statistics (false).
func (bn *BatchNorm2D) SetTraining(training bool) { bn.training = training }

func (bn *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != bn.channels {
		return nil, fmt.Errorf("%s: expected [batch, %d, H, W] input, got %v", bn.Tag(), bn.channels, x.Shape)
	}
	batch, plane := x.Shape[0], x.Shape[2]*x.Shape[3]
	m := batch * plane

	xhat := tensor.New(x.Shape...)
	y := tensor.New(x.Shape...)
	invStd := make([]float64, bn.channels)
	buf := make([]float64, m)

	for c := 0; c < bn.channels; c++ {
		var mean, variance float64
		if bn.training {
			for b := 0; b < batch; b++ {
				off := (b*bn.channels + c) * plane
				copy(buf[b*plane:(b+1)*plane], x.Data[off:off+plane])
			}
			mean, variance = stat.PopMeanVariance(buf, nil)

			unbiased := variance
			if m > 1 {
				unbiased = variance * float64(m) / float64(m-1)
			}
			bn.RunningMean.Value.Data[c] = (1-bnMomentum)*bn.RunningMean.Value.Data[c] + bnMomentum*mean
			bn.RunningVar.Value.Data[c] = (1-bnMomentum)*bn.RunningVar.Value.Data[c] + bnMomentum*unbiased
		} else {
			mean = bn.RunningMean.Value.Data[c]
			variance = bn.RunningVar.Value.Data[c]
		}

		inv := 1 / math.Sqrt(variance+bnEps)
		invStd[c] = inv
		g, be := bn.Gamma.Value.Data[c], bn.Beta.Value.Data[c]
		for b := 0; b < batch; b++ {
			off := (b*bn.channels + c) * plane
			for i := off; i < off+plane; i++ {
				h := (x.Data[i] - mean) * inv
				xhat.Data[i] = h
				y.Data[i] = g*h + be
			}
		}
	}

	bn.lastXHat = xhat
	bn.lastInvStd = invStd
	return y, nil
}

func (bn *BatchNorm2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if bn.lastXHat == nil {
		return nil, fmt.Errorf("%s: no cached input for backward pass", bn.Tag())
	}
	if !tensor.SameShape(gradOut, bn.lastXHat) {
		return nil, fmt.Errorf("%s: gradOut shape %v does not match %v", bn.Tag(), gradOut.Shape, bn.lastXHat.Shape)
	}
	shape := bn.lastXHat.Shape
	batch, plane := shape[0], shape[2]*shape[3]
	m := float64(batch * plane)
	gradIn := tensor.New(shape...)

	for c := 0; c < bn.channels; c++ {
		var sumDy, sumDyXHat float64
		for b := 0; b < batch; b++ {
			off := (b*bn.channels + c) * plane
			for i := off; i < off+plane; i++ {
				sumDy += gradOut.Data[i]
				sumDyXHat += gradOut.Data[i] * bn.lastXHat.Data[i]
			}
		}
		if bn.Gamma.accumulates() {
			bn.Gamma.Grad.Data[c] += sumDyXHat
		}
		if bn.Beta.accumulates() {
			bn.Beta.Grad.Data[c] += sumDy
		}

		g := bn.Gamma.Value.Data[c]
		inv := bn.lastInvStd[c]
		for b := 0; b < batch; b++ {
			off := (b*bn.channels + c) * plane
			for i := off; i < off+plane; i++ {
				if bn.training {
					gradIn.Data[i] = g * inv / m * (m*gradOut.Data[i] - sumDy - bn.lastXHat.Data[i]*sumDyXHat)
				} else {
					gradIn.Data[i] = g * inv * gradOut.Data[i]
				}
			}
		}
	}
	return gradIn, nil
}

func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta, bn.RunningMean, bn.RunningVar}
}

func (bn *BatchNorm2D) Kind() Kind { return KindNorm }

func (bn *BatchNorm2D) Tag() string { return fmt.Sprintf("BatchNorm2D_%d", bn.channels) }
