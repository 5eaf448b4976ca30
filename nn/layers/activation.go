package layers

import (
	"fmt"
	"math"

	"advgan_lib/tensor"
)

// Func holds an element-wise nonlinearity and its derivative. Deriv
// receives both the input x and the output y so each function can use
// whichever is cheaper.
type Func struct {
	Name  string
	Apply func(x float64) float64
	Deriv func(x, y float64) float64
}

const leakySlope = 0.2

// SupportedActivations lists the nonlinearities available by name.
var SupportedActivations = map[string]Func{
	"relu": {
		Name:  "relu",
		Apply: func(x float64) float64 { return math.Max(x, 0) },
		Deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	},
	"leaky_relu": {
		Name: "leaky_relu",
		Apply: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return leakySlope * x
		},
		Deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return leakySlope
		},
	},
	"tanh": {
		Name:  "tanh",
		Apply: math.Tanh,
		Deriv: func(_, y float64) float64 { return 1 - y*y },
	},
	"sigmoid": {
		Name:  "sigmoid",
		Apply: Sigmoid,
		Deriv: func(_, y float64) float64 { return y * (1 - y) },
	},
}

// Sigmoid is the logistic function, split by sign to avoid overflow.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Activation is a parameter-free layer applying a Func element-wise.
type Activation struct {
	fn         Func
	lastInput  *tensor.Tensor
	lastOutput *tensor.Tensor
}

// NewActivation creates a new activation layer.
func NewActivation(name string) (*Activation, error) {
	fn, ok := SupportedActivations[name]
	if !ok {
		return nil, fmt.Errorf("unsupported activation: %s", name)
	}
	return &Activation{fn: fn}, nil
}

// MustActivation is NewActivation for names known at compile time.
func MustActivation(name string) *Activation {
	a, err := NewActivation(name)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Activation) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		y.Data[i] = a.fn.Apply(v)
	}
	a.lastInput = x
	a.lastOutput = y
	return y, nil
}

func (a *Activation) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if a.lastInput == nil {
		return nil, fmt.Errorf("%s: no cached input for backward pass", a.Tag())
	}
	if len(gradOut.Data) != len(a.lastInput.Data) {
		return nil, fmt.Errorf("%s: gradOut shape %v does not match input %v", a.Tag(), gradOut.Shape, a.lastInput.Shape)
	}
	gradIn := tensor.New(a.lastInput.Shape...)
	for i, g := range gradOut.Data {
		gradIn.Data[i] = g * a.fn.Deriv(a.lastInput.Data[i], a.lastOutput.Data[i])
	}
	return gradIn, nil
}

func (a *Activation) Params() []*Param { return nil }

func (a *Activation) Kind() Kind { return KindActivation }

func (a *Activation) Tag() string { return a.fn.Name }
