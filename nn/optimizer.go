package nn

import (
	"math"

	"advgan_lib/nn/layers"
)

// Optimizer updates a fixed set of parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies gradients to the parameters.
	Step()
	// ZeroGrad clears the gradients of the parameters.
	ZeroGrad()
	Name() string
}

// Adam implements Adam (Kingma & Ba) with bias correction. Each instance owns
// the moment estimates for exactly the parameters it was created with.
type Adam struct {
	params  []*layers.Param
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64
	step    int

	// First moment estimates (momentum)
	m map[*layers.Param][]float64

	// Second moment estimates (variance)
	v map[*layers.Param][]float64
}

func NewAdam(params []*layers.Param, lr, beta1, beta2, epsilon float64) *Adam {
	var trainable []*layers.Param
	for _, p := range params {
		if p.Trainable() {
			trainable = append(trainable, p)
		}
	}
	return &Adam{
		params:  trainable,
		lr:      lr,
		beta1:   beta1,
		beta2:   beta2,
		epsilon: epsilon,
		m:       make(map[*layers.Param][]float64),
		v:       make(map[*layers.Param][]float64),
	}
}

// NewAdamDefault uses the usual betas (0.9, 0.999) and epsilon 1e-8.
func NewAdamDefault(params []*layers.Param, lr float64) *Adam {
	return NewAdam(params, lr, 0.9, 0.999, 1e-8)
}

func (opt *Adam) Step() {
	opt.step++

	// Bias correction factors
	biasCorrection1 := 1.0 - math.Pow(opt.beta1, float64(opt.step))
	biasCorrection2 := 1.0 - math.Pow(opt.beta2, float64(opt.step))

	for _, p := range opt.params {
		if !p.Trainable() {
			continue
		}
		if opt.m[p] == nil {
			opt.m[p] = make([]float64, len(p.Value.Data))
			opt.v[p] = make([]float64, len(p.Value.Data))
		}
		m, v := opt.m[p], opt.v[p]
		for j, grad := range p.Grad.Data {
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2
			p.Value.Data[j] -= opt.lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

func (opt *Adam) ZeroGrad() { ZeroGrad(opt.params) }

func (opt *Adam) Name() string { return "Adam" }

// Steps returns how many updates have been applied.
func (opt *Adam) Steps() int { return opt.step }
