package layers

import (
	"fmt"

	"advgan_lib/tensor"
)

// AvgPool2D averages non-overlapping p×p windows of a [B,C,H,W] tensor.
// A global pool averages the whole plane, producing [B,C,1,1].
type AvgPool2D struct {
	poolSize int
	global   bool

	// input dims cached for backward
	inShape []int
}

func NewAvgPool2D(p int) *AvgPool2D {
	return &AvgPool2D{poolSize: p}
}

// NewGlobalAvgPool2D pools each channel down to a single value, so the
// layers after it do not depend on the image size.
func NewGlobalAvgPool2D() *AvgPool2D {
	return &AvgPool2D{global: true}
}

func (a *AvgPool2D) window(H, W int) (ph, pw int) {
	if a.global {
		return H, W
	}
	return a.poolSize, a.poolSize
}

func (a *AvgPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("%s: expected [B,C,H,W] input, got %v", a.Tag(), x.Shape)
	}
	B, C, H, W := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	ph, pw := a.window(H, W)
	if ph <= 0 || pw <= 0 || H < ph || W < pw {
		return nil, fmt.Errorf("%s: input %dx%d smaller than window", a.Tag(), H, W)
	}
	outH, outW := H/ph, W/pw
	out := tensor.New(B, C, outH, outW)
	inv := 1.0 / float64(ph*pw)
	for bc := 0; bc < B*C; bc++ {
		in := x.Data[bc*H*W : (bc+1)*H*W]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				sum := 0.0
				for i := 0; i < ph; i++ {
					row := (oh*ph + i) * W
					for j := 0; j < pw; j++ {
						sum += in[row+ow*pw+j]
					}
				}
				out.Data[(bc*outH+oh)*outW+ow] = sum * inv
			}
		}
	}
	a.inShape = append(a.inShape[:0], x.Shape...)
	return out, nil
}

// Backward spreads each output gradient evenly over its window. Rows and
// columns dropped by the floor division get zero gradient.
func (a *AvgPool2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if a.inShape == nil {
		return nil, fmt.Errorf("%s: no cached input for backward pass", a.Tag())
	}
	B, C, H, W := a.inShape[0], a.inShape[1], a.inShape[2], a.inShape[3]
	ph, pw := a.window(H, W)
	outH, outW := H/ph, W/pw
	if len(gradOut.Data) != B*C*outH*outW {
		return nil, fmt.Errorf("%s: gradOut shape %v does not match output [%d %d %d %d]", a.Tag(), gradOut.Shape, B, C, outH, outW)
	}
	gradIn := tensor.New(a.inShape...)
	inv := 1.0 / float64(ph*pw)
	for bc := 0; bc < B*C; bc++ {
		dst := gradIn.Data[bc*H*W : (bc+1)*H*W]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				g := gradOut.Data[(bc*outH+oh)*outW+ow] * inv
				for i := 0; i < ph; i++ {
					row := (oh*ph + i) * W
					for j := 0; j < pw; j++ {
						dst[row+ow*pw+j] += g
					}
				}
			}
		}
	}
	return gradIn, nil
}

func (a *AvgPool2D) Params() []*Param { return nil }

func (a *AvgPool2D) Kind() Kind { return KindReshape }

func (a *AvgPool2D) Tag() string {
	if a.global {
		return "GlobalAvgPool2D"
	}
	return fmt.Sprintf("AvgPool2D_%d", a.poolSize)
}
