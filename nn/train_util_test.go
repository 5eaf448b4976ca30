package nn

import (
	"math"
	"testing"

	"advgan_lib/nn/layers"
	"advgan_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits := &tensor.Tensor{Data: []float64{1, 2, 3, 1000, 1000, 1000}, Shape: []int{2, 3}}
	p, err := Softmax(logits)
	require.NoError(t, err)
	for b := 0; b < 2; b++ {
		row := p.Data[b*3 : (b+1)*3]
		assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-12)
	}
	assert.InDelta(t, 1.0/3, p.Data[3], 1e-12, "large logits stay finite")
	assert.Greater(t, p.Data[2], p.Data[1])

	_, err = Softmax(tensor.New(3))
	assert.Error(t, err)
}

func TestSoftmaxBackwardMatchesFiniteDifference(t *testing.T) {
	logits := &tensor.Tensor{Data: []float64{0.3, -1.2, 0.7, 2.0}, Shape: []int{1, 4}}
	// loss = p[2]
	upstream := &tensor.Tensor{Data: []float64{0, 0, 1, 0}, Shape: []int{1, 4}}
	p, err := Softmax(logits)
	require.NoError(t, err)
	grad, err := SoftmaxBackward(p, upstream)
	require.NoError(t, err)

	const h = 1e-6
	for i := range logits.Data {
		plus := logits.Clone()
		plus.Data[i] += h
		minus := logits.Clone()
		minus.Data[i] -= h
		pp, _ := Softmax(plus)
		pm, _ := Softmax(minus)
		assert.InDelta(t, (pp.Data[2]-pm.Data[2])/(2*h), grad.Data[i], 1e-6)
	}
}

func TestMSE(t *testing.T) {
	pred := &tensor.Tensor{Data: []float64{1, 3}, Shape: []int{2, 1}}
	loss, grad := MSE(pred, 1)
	assert.Equal(t, 2.0, loss)
	assert.Equal(t, []float64{0, 2}, grad.Data)
}

func TestInitWeightsDispatchesOnKind(t *testing.T) {
	conv := layers.NewConv2D("c", 8, 16, 3, 3, 1, 1)
	bn := layers.NewBatchNorm2D("bn", 512)
	bn.Beta.Value.Fill(5)
	lin := layers.NewLinear("fc", 200, 300)
	lin.B.Value.Fill(0.25)

	var params []*layers.Param
	params = append(params, conv.Params()...)
	params = append(params, bn.Params()...)
	params = append(params, lin.Params()...)
	InitWeights(params, 1)

	mean, std := stat.MeanStdDev(conv.W.Value.Data, nil)
	assert.InDelta(t, 0, mean, 0.005)
	assert.InDelta(t, 0.02, std, 0.003)
	assert.Equal(t, 0.0, conv.B.Value.Data[0], "conv bias untouched")

	mean, std = stat.MeanStdDev(bn.Gamma.Value.Data, nil)
	assert.InDelta(t, 1, mean, 0.005)
	assert.InDelta(t, 0.02, std, 0.003)
	assert.Equal(t, 0.0, floatsMaxAbs(bn.Beta.Value.Data))
	assert.Equal(t, 1.0, bn.RunningVar.Value.Data[0], "buffers untouched")

	mean, std = stat.MeanStdDev(lin.W.Value.Data, nil)
	assert.InDelta(t, 0, mean, 0.005)
	assert.InDelta(t, math.Sqrt(2.0/500), std, 0.003)
	assert.Equal(t, 0.25, lin.B.Value.Data[0])
}

func TestInitWeightsIsDeterministic(t *testing.T) {
	a := layers.NewConv2D("c", 2, 2, 3, 3, 1, 1)
	b := layers.NewConv2D("c", 2, 2, 3, 3, 1, 1)
	InitWeights(a.Params(), 7)
	InitWeights(b.Params(), 7)
	assert.Equal(t, a.W.Value.Data, b.W.Value.Data)
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	lin := layers.NewLinear("fc", 1, 1)
	lin.W.Value.Data[0] = 3
	opt := NewAdamDefault(lin.Params(), 0.1)
	assert.Equal(t, "Adam", opt.Name())

	for i := 0; i < 300; i++ {
		opt.ZeroGrad()
		// d/dw (w-1)^2
		lin.W.Grad.Data[0] = 2 * (lin.W.Value.Data[0] - 1)
		opt.Step()
	}
	assert.InDelta(t, 1.0, lin.W.Value.Data[0], 0.05)
	assert.Equal(t, 300, opt.Steps())
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	lin := layers.NewLinear("fc", 1, 1)
	lin.W.Grad.Data[0] = 10
	opt := NewAdamDefault(lin.Params(), 0.01)
	opt.Step()
	// bias-corrected first step is lr * sign(grad)
	assert.InDelta(t, -0.01, lin.W.Value.Data[0], 1e-9)
}

func TestAdamSkipsFrozenAndBuffers(t *testing.T) {
	lin := layers.NewLinear("fc", 1, 1)
	Freeze(lin.Params())
	lin.W.Grad.Data[0] = 1
	bn := layers.NewBatchNorm2D("bn", 1)

	params := append(lin.Params(), bn.Params()...)
	opt := NewAdamDefault(params, 0.1)
	opt.Step()
	assert.Equal(t, 0.0, lin.W.Value.Data[0])
	assert.Equal(t, 0.0, bn.RunningMean.Value.Data[0])
	assert.Equal(t, 1.0, bn.RunningVar.Value.Data[0])
}

func floatsMaxAbs(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
