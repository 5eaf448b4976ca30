package layers

import (
	"fmt"

	"advgan_lib/tensor"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer: y = x·Wᵀ + B for x of shape [batch, inDim].
type Linear struct {
	inDim, outDim int

	W *Param // [outDim, inDim]
	B *Param // [outDim]

	lastInput *tensor.Tensor
}

// NewLinear creates a Linear layer with zeroed parameters.
func NewLinear(name string, inDim, outDim int) *Linear {
	return &Linear{
		inDim:  inDim,
		outDim: outDim,
		W:      newParam(name+".weight", KindLinear, RoleWeight, outDim, inDim),
		B:      newParam(name+".bias", KindLinear, RoleBias, outDim),
	}
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.inDim {
		return nil, fmt.Errorf("%s: expected [batch, %d] input, got %v", l.Tag(), l.inDim, x.Shape)
	}
	batch := x.Shape[0]
	l.lastInput = x

	out := tensor.New(batch, l.outDim)
	y := mat.NewDense(batch, l.outDim, out.Data)
	y.Mul(mat.NewDense(batch, l.inDim, x.Data), mat.NewDense(l.outDim, l.inDim, l.W.Value.Data).T())
	for b := 0; b < batch; b++ {
		row := y.RawRowView(b)
		for j := range row {
			row[j] += l.B.Value.Data[j]
		}
	}
	return out, nil
}

// Backward computes gradients for the batched case. Gradients are summed
// over the batch; the loss is responsible for any averaging.
func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	input := l.lastInput
	if input == nil {
		return nil, fmt.Errorf("%s: no cached input for backward pass", l.Tag())
	}
	batch := input.Shape[0]
	if len(gradOut.Data) != batch*l.outDim {
		return nil, fmt.Errorf("%s: gradOut shape %v does not match [%d, %d]", l.Tag(), gradOut.Shape, batch, l.outDim)
	}
	g := mat.NewDense(batch, l.outDim, gradOut.Data)
	x := mat.NewDense(batch, l.inDim, input.Data)

	if l.W.accumulates() {
		gradW := mat.NewDense(l.outDim, l.inDim, l.W.Grad.Data)
		var tmp mat.Dense
		tmp.Mul(g.T(), x)
		gradW.Add(gradW, &tmp)
	}
	if l.B.accumulates() {
		for b := 0; b < batch; b++ {
			for j, v := range g.RawRowView(b) {
				l.B.Grad.Data[j] += v
			}
		}
	}

	// dL/dx = gradOut · W
	gradIn := tensor.New(input.Shape...)
	dx := mat.NewDense(batch, l.inDim, gradIn.Data)
	dx.Mul(g, mat.NewDense(l.outDim, l.inDim, l.W.Value.Data))
	return gradIn, nil
}

func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }

func (l *Linear) Kind() Kind { return KindLinear }

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%d_%d", l.inDim, l.outDim)
}
