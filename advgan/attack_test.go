package advgan

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"advgan_lib/models"
	"advgan_lib/nn"
	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
	"advgan_lib/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) utils.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := utils.DefaultConfig()
	cfg.ModelsDir = filepath.Join(dir, "models")
	cfg.LossesDir = filepath.Join(dir, "losses")
	cfg.LInfBound = 0.05
	cfg.LR = 0.01
	return cfg
}

func testBatch(seed int64, n, c, h, w, nLabels int) (*tensor.Tensor, []int) {
	x := randImages(seed, n, c, h, w)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % nLabels
	}
	return x, labels
}

func randImages(seed int64, shape ...int) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return x
}

// changed ignores running statistics, which move on every forward pass.
func changed(before []*tensor.Tensor, params []*layers.Param) bool {
	for i, p := range params {
		if p.Trainable() && !tensor.Equal(before[i], p.Value) {
			return true
		}
	}
	return false
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	target := models.NewTargetModel(3, 10, 1)

	cfg := testConfig(t)
	cfg.Device = "cuda"
	_, err := New(cfg, target, Options{})
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.LInfBound = -0.05
	_, err = New(cfg, target, Options{})
	assert.Error(t, err)

	_, err = New(testConfig(t), nil, Options{})
	assert.Error(t, err)
}

func TestNewCreatesOutputDirs(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)
	assert.DirExists(t, cfg.ModelsDir)
	assert.DirExists(t, a.PlotDir())
	assert.NotEmpty(t, a.RunID())
	assert.Equal(t, cfg, a.Config())
}

func TestPerturbationIsBounded(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)

	// a large first-layer scale pushes the raw output well past the bound
	for _, p := range a.G.Params() {
		if p.Role == layers.RoleWeight && p.Kind == layers.KindConv {
			for i := range p.Value.Data {
				p.Value.Data[i] *= 50
			}
		}
	}
	x, _ := testBatch(1, 4, 3, 8, 8, 10)
	res, err := a.perturb(x)
	require.NoError(t, err)

	for i, v := range res.adv.Data {
		assert.True(t, v >= 0 && v <= 1, "adv[%d]=%v", i, v)
		assert.LessOrEqual(t, math.Abs(res.clamped.Data[i]), cfg.LInfBound)
		assert.LessOrEqual(t, math.Abs(v-x.Data[i]), cfg.LInfBound+1e-12)
	}
}

func TestZeroBoundLeavesImagesClean(t *testing.T) {
	cfg := testConfig(t)
	cfg.LInfBound = 0
	a, err := New(cfg, models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)

	x, labels := testBatch(6, 4, 3, 8, 8, 10)
	res, err := a.perturb(x)
	require.NoError(t, err)
	assert.Equal(t, x.Data, res.adv.Data)

	losses, err := a.TrainBatch(x, labels)
	require.NoError(t, err)
	for _, v := range []float64{losses.D, losses.G, losses.GGAN, losses.Hinge, losses.Adv} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

// generatorLoss recomputes the total generator loss of one G step from the
// current network state.
func generatorLoss(t *testing.T, a *Attack, target TargetModel, x *tensor.Tensor, labels []int) float64 {
	t.Helper()
	res, err := a.perturb(x)
	require.NoError(t, err)
	hinge, _ := HingeLoss(res.perturbation, a.cfg.C)

	logits, err := target.Forward(res.adv)
	require.NoError(t, err)
	probs, err := nn.Softmax(logits)
	require.NoError(t, err)
	adv, err := AdversarialLoss(probs, labels, a.cfg.Kappa)
	require.NoError(t, err)

	var gan float64
	if a.cfg.IsRelativistic {
		logitsReal, _, err := a.D.Forward(x)
		require.NoError(t, err)
		logitsFake, _, err := a.D.Forward(res.adv)
		require.NoError(t, err)
		gan, _ = GeneratorGANLossRelativistic(logitsReal, logitsFake)
	} else {
		_, probsFake, err := a.D.Forward(res.adv)
		require.NoError(t, err)
		gan, _ = GeneratorGANLossStandard(probsFake)
	}
	return TotalGeneratorLoss(adv.Loss, gan, hinge, a.cfg.Alpha, a.cfg.Beta, a.cfg.Gamma)
}

func TestGeneratorGradientMatchesFiniteDifference(t *testing.T) {
	for _, relativistic := range []bool{false, true} {
		cfg := testConfig(t)
		cfg.IsRelativistic = relativistic
		cfg.Alpha, cfg.Beta, cfg.Gamma = 0.7, 2, 1.3
		target := models.NewTargetModel(3, 10, 8)
		a, err := New(cfg, target, Options{})
		require.NoError(t, err)

		x, labels := testBatch(8, 4, 3, 8, 8, 10)
		before := nn.CloneValues(a.G.Params())
		_, err = a.TrainBatch(x, labels)
		require.NoError(t, err)

		// D is not touched by the G step, so only G needs rewinding
		params := a.G.Params()
		grads := make([][]float64, len(params))
		for i, p := range params {
			if p.Grad != nil {
				grads[i] = append([]float64(nil), p.Grad.Data...)
			}
			copy(p.Value.Data, before[i].Data)
		}

		const h = 1e-6
		for i, p := range params {
			if !p.Trainable() {
				continue
			}
			n := len(p.Value.Data)
			for _, j := range []int{0, n / 3, 2 * n / 3, n - 1} {
				orig := p.Value.Data[j]
				p.Value.Data[j] = orig + h
				up := generatorLoss(t, a, target, x, labels)
				p.Value.Data[j] = orig - h
				down := generatorLoss(t, a, target, x, labels)
				p.Value.Data[j] = orig

				num := (up - down) / (2 * h)
				tol := 1e-6 + 1e-2*math.Max(math.Abs(num), math.Abs(grads[i][j]))
				assert.InDelta(t, num, grads[i][j], tol, "relativistic=%v %s[%d]", relativistic, p.Name, j)
			}
		}
	}
}

func TestTrainBatchUpdatesGAndDOnly(t *testing.T) {
	cfg := testConfig(t)
	target := models.NewTargetModel(3, 10, 7)
	a, err := New(cfg, target, Options{})
	require.NoError(t, err)

	gBefore := nn.CloneValues(a.G.Params())
	dBefore := nn.CloneValues(a.D.Params())
	tBefore := nn.CloneValues(target.Params())

	x, labels := testBatch(2, 4, 3, 32, 32, 10)
	losses, err := a.TrainBatch(x, labels)
	require.NoError(t, err)

	for name, v := range map[string]float64{
		"D": losses.D, "G": losses.G, "GGAN": losses.GGAN, "Hinge": losses.Hinge, "Adv": losses.Adv,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", name, v)
	}
	assert.GreaterOrEqual(t, losses.D, 0.0)
	assert.GreaterOrEqual(t, losses.Hinge, 0.0)
	assert.GreaterOrEqual(t, losses.Adv, -cfg.Kappa*float64(len(labels)))
	assert.InDelta(t, TotalGeneratorLoss(losses.Adv, losses.GGAN, losses.Hinge, cfg.Alpha, cfg.Beta, cfg.Gamma), losses.G, 1e-12)

	assert.True(t, changed(gBefore, a.G.Params()), "generator not updated")
	assert.True(t, changed(dBefore, a.D.Params()), "discriminator not updated")
	for i, p := range target.Params() {
		assert.Equal(t, tBefore[i].Data, p.Value.Data, "target param %s changed", p.Name)
	}

	timing := a.Timing()
	assert.Equal(t, 1, timing.BatchesRun)
	assert.Positive(t, timing.DStepTime)
	assert.Positive(t, timing.GStepTime)
}

func TestTrainBatchRejectsBadInput(t *testing.T) {
	a, err := New(testConfig(t), models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)

	x, labels := testBatch(1, 2, 1, 8, 8, 10)
	_, err = a.TrainBatch(x, labels)
	assert.Error(t, err, "wrong channel count")

	x, _ = testBatch(1, 2, 3, 8, 8, 10)
	_, err = a.TrainBatch(x, []int{0})
	assert.Error(t, err, "label count mismatch")

	_, err = a.TrainBatch(x, []int{0, 10})
	assert.Error(t, err, "label out of range")
}

func TestGeneratorReusesDiscriminatorPerturbation(t *testing.T) {
	cfg := testConfig(t)
	cfg.StepsG = 2
	a, err := New(cfg, models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)

	x, labels := testBatch(3, 4, 3, 8, 8, 10)
	// G is untouched by the D step, so this equals the reused perturbation
	p, err := a.G.Forward(x)
	require.NoError(t, err)
	wantHinge, _ := HingeLoss(p, cfg.C)

	losses, err := a.TrainBatch(x, labels)
	require.NoError(t, err)
	assert.Equal(t, wantHinge, losses.Hinge)
}

func TestRelativisticToggleAffectsOnlyGANTerms(t *testing.T) {
	x, labels := testBatch(4, 4, 3, 8, 8, 10)
	run := func(relativistic bool) BatchLosses {
		cfg := testConfig(t)
		cfg.IsRelativistic = relativistic
		a, err := New(cfg, models.NewTargetModel(3, 10, 1), Options{})
		require.NoError(t, err)
		losses, err := a.TrainBatch(x, labels)
		require.NoError(t, err)
		return losses
	}
	std, rel := run(false), run(true)

	assert.Equal(t, std.Adv, rel.Adv)
	assert.Equal(t, std.Hinge, rel.Hinge)
	assert.NotEqual(t, std.D, rel.D)
	assert.NotEqual(t, std.GGAN, rel.GGAN)
}

func TestZeroInnerStepsReportNaN(t *testing.T) {
	x, labels := testBatch(5, 2, 3, 8, 8, 10)

	cfg := testConfig(t)
	cfg.StepsD = 0
	a, err := New(cfg, models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)
	dBefore := nn.CloneValues(a.D.Params())
	losses, err := a.TrainBatch(x, labels)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(losses.D))
	assert.False(t, math.IsNaN(losses.G), "G step draws its own perturbation")
	assert.False(t, changed(dBefore, a.D.Params()))

	cfg = testConfig(t)
	cfg.StepsG = 0
	a, err = New(cfg, models.NewTargetModel(3, 10, 1), Options{})
	require.NoError(t, err)
	gBefore := nn.CloneValues(a.G.Params())
	losses, err = a.TrainBatch(x, labels)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(losses.D))
	for _, v := range []float64{losses.G, losses.GGAN, losses.Hinge, losses.Adv} {
		assert.True(t, math.IsNaN(v))
	}
	assert.False(t, changed(gBefore, a.G.Params()))
}

func TestCustomNetworksAreUsed(t *testing.T) {
	g := models.NewGenerator(3, 3, "mnist")
	d := models.NewDiscriminator(3)
	a, err := New(testConfig(t), models.NewTargetModel(3, 10, 1), Options{Generator: g, Discriminator: d})
	require.NoError(t, err)
	assert.Same(t, g, a.G)
	assert.Same(t, d, a.D)
}
