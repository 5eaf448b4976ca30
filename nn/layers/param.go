package layers

import (
	"advgan_lib/tensor"
)

// Kind identifies what a layer computes. Weight initialisation and
// snapshot naming switch on it.
type Kind int

const (
	KindConv Kind = iota
	KindNorm
	KindLinear
	KindActivation
	KindReshape
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindConv:
		return "conv"
	case KindNorm:
		return "norm"
	case KindLinear:
		return "linear"
	case KindActivation:
		return "activation"
	case KindReshape:
		return "reshape"
	case KindComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// Role says how a parameter tensor is used by its layer.
type Role int

const (
	RoleWeight Role = iota
	RoleBias
	// RoleBuffer marks running statistics: persisted, never optimised.
	RoleBuffer
)

// Param is a named tensor owned by a layer together with its gradient.
type Param struct {
	Name  string
	Kind  Kind
	Role  Role
	Value *tensor.Tensor
	Grad  *tensor.Tensor // nil for buffers

	// Frozen parameters receive no gradient and are skipped by optimisers.
	Frozen bool
}

func newParam(name string, kind Kind, role Role, shape ...int) *Param {
	p := &Param{Name: name, Kind: kind, Role: role, Value: tensor.New(shape...)}
	if role != RoleBuffer {
		p.Grad = tensor.New(shape...)
	}
	return p
}

// Trainable reports whether an optimiser should update p.
func (p *Param) Trainable() bool {
	return p.Role != RoleBuffer && !p.Frozen
}

// accumulates reports whether backward passes should write into p.Grad.
func (p *Param) accumulates() bool {
	return p.Grad != nil && !p.Frozen
}

// Layer is a single differentiable stage. Forward caches what Backward
// needs; Backward adds into parameter gradients (gradients accumulate until
// zeroed) and returns the gradient with respect to the layer input.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*Param
	Kind() Kind
	Tag() string
}
