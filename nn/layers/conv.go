package layers

import (
	"fmt"

	"advgan_lib/tensor"

	"gonum.org/v1/gonum/mat"
)

// Conv2D is a 2D convolutional layer over [batch, inChan, height, width]
// tensors, computed as an im2col product.
type Conv2D struct {
	// Layer parameters
	inChan, outChan int // number of input/output channels
	kh, kw          int // kernel height and width
	stride, pad     int

	W *Param // weights: [outChan, inChan, kh, kw]
	B *Param // bias: [outChan]

	// Cached for backward pass
	lastInShape []int
	lastCols    []*mat.Dense // one [inChan*kh*kw, outH*outW] matrix per sample
	outH, outW  int
}

// NewConv2D creates a new Conv2D layer with zeroed parameters.
func NewConv2D(name string, inChan, outChan, kh, kw, stride, pad int) *Conv2D {
	if stride < 1 {
		stride = 1
	}
	return &Conv2D{
		inChan:  inChan,
		outChan: outChan,
		kh:      kh,
		kw:      kw,
		stride:  stride,
		pad:     pad,
		W:       newParam(name+".weight", KindConv, RoleWeight, outChan, inChan, kh, kw),
		B:       newParam(name+".bias", KindConv, RoleBias, outChan),
	}
}

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	return (inH+2*c.pad-c.kh)/c.stride + 1, (inW+2*c.pad-c.kw)/c.stride + 1
}

func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("%s: input must be 4D tensor, got %v", c.Tag(), x.Shape)
	}
	batch, ch, height, width := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if ch != c.inChan {
		return nil, fmt.Errorf("%s: expected %d input channels, got %d", c.Tag(), c.inChan, ch)
	}
	outH, outW := c.GetOutputShape(height, width)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%s: input %dx%d too small for kernel", c.Tag(), height, width)
	}

	k := c.inChan * c.kh * c.kw
	w := mat.NewDense(c.outChan, k, c.W.Value.Data)
	output := tensor.New(batch, c.outChan, outH, outW)
	plane := outH * outW

	c.lastInShape = append([]int(nil), x.Shape...)
	c.lastCols = make([]*mat.Dense, batch)
	c.outH, c.outW = outH, outW

	sample := ch * height * width
	for b := 0; b < batch; b++ {
		cols := c.im2col(x.Data[b*sample:(b+1)*sample], height, width)
		c.lastCols[b] = cols

		out := mat.NewDense(c.outChan, plane, output.Data[b*c.outChan*plane:(b+1)*c.outChan*plane])
		out.Mul(w, cols)
		for oc := 0; oc < c.outChan; oc++ {
			bias := c.B.Value.Data[oc]
			row := out.RawRowView(oc)
			for i := range row {
				row[i] += bias
			}
		}
	}
	return output, nil
}

func (c *Conv2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastCols == nil {
		return nil, fmt.Errorf("%s: no cached input for backward pass", c.Tag())
	}
	batch := c.lastInShape[0]
	plane := c.outH * c.outW
	if len(gradOut.Data) != batch*c.outChan*plane {
		return nil, fmt.Errorf("%s: gradOut shape %v does not match output", c.Tag(), gradOut.Shape)
	}

	k := c.inChan * c.kh * c.kw
	w := mat.NewDense(c.outChan, k, c.W.Value.Data)
	var gradW *mat.Dense
	if c.W.accumulates() {
		gradW = mat.NewDense(c.outChan, k, c.W.Grad.Data)
	}

	height, width := c.lastInShape[2], c.lastInShape[3]
	sample := c.inChan * height * width
	inputGrad := tensor.New(c.lastInShape...)
	var tmp mat.Dense
	var gradCols mat.Dense

	for b := 0; b < batch; b++ {
		g := mat.NewDense(c.outChan, plane, gradOut.Data[b*c.outChan*plane:(b+1)*c.outChan*plane])

		if gradW != nil {
			tmp.Reset()
			tmp.Mul(g, c.lastCols[b].T())
			gradW.Add(gradW, &tmp)
		}
		if c.B.accumulates() {
			for oc := 0; oc < c.outChan; oc++ {
				for _, v := range g.RawRowView(oc) {
					c.B.Grad.Data[oc] += v
				}
			}
		}

		gradCols.Reset()
		gradCols.Mul(w.T(), g)
		c.col2im(&gradCols, inputGrad.Data[b*sample:(b+1)*sample], height, width)
	}
	return inputGrad, nil
}

// im2col unrolls one sample into a [inChan*kh*kw, outH*outW] matrix.
func (c *Conv2D) im2col(in []float64, height, width int) *mat.Dense {
	k := c.inChan * c.kh * c.kw
	plane := c.outH * c.outW
	cols := mat.NewDense(k, plane, nil)
	raw := cols.RawMatrix()
	for ic := 0; ic < c.inChan; ic++ {
		for dy := 0; dy < c.kh; dy++ {
			for dx := 0; dx < c.kw; dx++ {
				row := (ic*c.kh+dy)*c.kw + dx
				dst := raw.Data[row*raw.Stride : row*raw.Stride+plane]
				for oy := 0; oy < c.outH; oy++ {
					iy := oy*c.stride + dy - c.pad
					if iy < 0 || iy >= height {
						continue
					}
					for ox := 0; ox < c.outW; ox++ {
						ix := ox*c.stride + dx - c.pad
						if ix < 0 || ix >= width {
							continue
						}
						dst[oy*c.outW+ox] = in[(ic*height+iy)*width+ix]
					}
				}
			}
		}
	}
	return cols
}

// col2im scatters column gradients back onto one input sample.
func (c *Conv2D) col2im(cols *mat.Dense, dst []float64, height, width int) {
	for ic := 0; ic < c.inChan; ic++ {
		for dy := 0; dy < c.kh; dy++ {
			for dx := 0; dx < c.kw; dx++ {
				src := cols.RawRowView((ic*c.kh+dy)*c.kw + dx)
				for oy := 0; oy < c.outH; oy++ {
					iy := oy*c.stride + dy - c.pad
					if iy < 0 || iy >= height {
						continue
					}
					for ox := 0; ox < c.outW; ox++ {
						ix := ox*c.stride + dx - c.pad
						if ix < 0 || ix >= width {
							continue
						}
						dst[(ic*height+iy)*width+ix] += src[oy*c.outW+ox]
					}
				}
			}
		}
	}
}

func (c *Conv2D) Params() []*Param { return []*Param{c.W, c.B} }

func (c *Conv2D) Kind() Kind { return KindConv }

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D_%d_%d_%d_%d", c.inChan, c.outChan, c.kh, c.kw)
}
