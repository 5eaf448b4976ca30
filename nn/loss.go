package nn

import (
	"fmt"
	"math"

	"advgan_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// Softmax applies a numerically stable softmax to each row of a
// [batch, classes] tensor.
func Softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("Softmax expects [batch, classes], got %v", logits.Shape)
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	out := tensor.New(batch, classes)
	for b := 0; b < batch; b++ {
		row := logits.Data[b*classes : (b+1)*classes]
		dst := out.Data[b*classes : (b+1)*classes]
		maxLogit := floats.Max(row)
		for i, v := range row {
			dst[i] = math.Exp(v - maxLogit)
		}
		floats.Scale(1/floats.Sum(dst), dst)
	}
	return out, nil
}

// SoftmaxBackward maps a gradient w.r.t. softmax probabilities to a
// gradient w.r.t. the logits: dz = p ⊙ (g - <g, p>) per row.
func SoftmaxBackward(probs, gradProbs *tensor.Tensor) (*tensor.Tensor, error) {
	if !tensor.SameShape(probs, gradProbs) || len(probs.Shape) != 2 {
		return nil, fmt.Errorf("SoftmaxBackward: shapes %v and %v", probs.Shape, gradProbs.Shape)
	}
	batch, classes := probs.Shape[0], probs.Shape[1]
	out := tensor.New(batch, classes)
	for b := 0; b < batch; b++ {
		p := probs.Data[b*classes : (b+1)*classes]
		g := gradProbs.Data[b*classes : (b+1)*classes]
		dot := floats.Dot(g, p)
		for i := range p {
			out.Data[b*classes+i] = p[i] * (g[i] - dot)
		}
	}
	return out, nil
}

// MSE returns mean((pred - target)^2) and its gradient w.r.t. pred.
func MSE(pred *tensor.Tensor, target float64) (float64, *tensor.Tensor) {
	n := float64(len(pred.Data))
	grad := tensor.New(pred.Shape...)
	loss := 0.0
	for i, v := range pred.Data {
		d := v - target
		loss += d * d
		grad.Data[i] = 2 * d / n
	}
	return loss / n, grad
}
