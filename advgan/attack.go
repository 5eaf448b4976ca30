// Package advgan trains a perturbation generator against a frozen target
// classifier (AdvGAN), alternating discriminator and generator updates.
package advgan

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"advgan_lib/models"
	"advgan_lib/nn"
	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
	"advgan_lib/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TargetModel is the classifier under attack. It is never updated; Backward
// only maps logit gradients to input gradients.
type TargetModel interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradLogits *tensor.Tensor) (*tensor.Tensor, error)
}

// Generator maps images to perturbations of the same shape.
type Generator interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*layers.Param
	ZeroGrad()
}

// Discriminator returns raw scores and probabilities for an image batch.
type Discriminator interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
	Backward(gradLogits, gradProbs *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*layers.Param
	ZeroGrad()
}

// Options carries optional collaborators. Zero values are replaced by
// silent defaults.
type Options struct {
	Logger  *logrus.Logger
	Metrics *utils.TrainingMetrics
	Tracer  trace.Tracer

	// Generator and Discriminator override the default networks. They are
	// initialised with the same scheme.
	Generator     Generator
	Discriminator Discriminator
}

// BatchLosses are the scalars reported for one batch. Values of a step that
// ran zero inner iterations are NaN.
type BatchLosses struct {
	D     float64
	G     float64
	GGAN  float64
	Hinge float64
	Adv   float64
}

// Attack owns the networks, optimisers and settings of one training run.
type Attack struct {
	cfg    utils.Config
	target TargetModel

	G    Generator
	D    Discriminator
	optG *nn.Adam
	optD *nn.Adam

	runID   string
	logger  *logrus.Logger
	metrics *utils.TrainingMetrics
	tracer  trace.Tracer
	timing  utils.TimingStats
}

// New validates cfg, creates the output directories, builds and initialises
// both networks and their optimisers.
func New(cfg utils.Config, target TargetModel, opts Options) (*Attack, error) {
	start := time.Now()
	if err := utils.ValidateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if target == nil {
		return nil, errors.New("target model is required")
	}

	if err := os.MkdirAll(cfg.ModelsDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create models dir %s", cfg.ModelsDir)
	}
	if err := os.MkdirAll(filepath.Join(cfg.LossesDir, cfg.Target), 0755); err != nil {
		return nil, errors.Wrapf(err, "create losses dir %s", cfg.LossesDir)
	}

	a := &Attack{
		cfg:     cfg,
		target:  target,
		G:       opts.Generator,
		D:       opts.Discriminator,
		runID:   uuid.NewString(),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
	if a.G == nil {
		a.G = models.NewGenerator(cfg.NumChannels, cfg.NumChannels, cfg.Target)
	}
	if a.D == nil {
		a.D = models.NewDiscriminator(cfg.NumChannels)
	}
	if a.logger == nil {
		a.logger = utils.DiscardLogger()
	}
	if a.metrics == nil {
		// unregistered collectors keep the update paths uniform
		a.metrics, _ = utils.NewTrainingMetrics(nil)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("advgan_lib/advgan")
	}

	nn.InitWeights(a.G.Params(), cfg.Seed)
	nn.InitWeights(a.D.Params(), cfg.Seed+1)
	a.optG = nn.NewAdamDefault(a.G.Params(), cfg.LR)
	a.optD = nn.NewAdamDefault(a.D.Params(), cfg.LR)

	a.timing.SetupTime = time.Since(start)
	a.logger.WithFields(logrus.Fields{
		"run_id":       a.runID,
		"target":       cfg.Target,
		"relativistic": cfg.IsRelativistic,
		"models_dir":   cfg.ModelsDir,
	}).Info("AdvGAN initialised")
	return a, nil
}

func (a *Attack) RunID() string { return a.runID }

func (a *Attack) Config() utils.Config { return a.cfg }

// Timing returns a copy of the accumulated phase durations.
func (a *Attack) Timing() utils.TimingStats { return a.timing }

// dStepResult carries the perturbation of the final discriminator iteration
// into the generator step, which reuses it instead of regenerating.
type dStepResult struct {
	lossD float64

	// raw generator output, its clamp to the L∞ bound, the unclamped sum
	// with the clean batch, and the final adversarial image
	perturbation *tensor.Tensor
	clamped      *tensor.Tensor
	preClamp     *tensor.Tensor
	adv          *tensor.Tensor
}

// perturb runs G on x and builds the adversarial image
// clamp(clamp(p, -bound, bound) + x, 0, 1).
func (a *Attack) perturb(x *tensor.Tensor) (*dStepResult, error) {
	p, err := a.G.Forward(x)
	if err != nil {
		return nil, err
	}
	if !tensor.SameShape(p, x) {
		return nil, errors.Errorf("generator output shape %v differs from input %v", p.Shape, x.Shape)
	}
	clamped := tensor.Clamp(p, -a.cfg.LInfBound, a.cfg.LInfBound)
	sum, err := tensor.Add(clamped, x)
	if err != nil {
		return nil, err
	}
	return &dStepResult{
		lossD:        math.NaN(),
		perturbation: p,
		clamped:      clamped,
		preClamp:     sum,
		adv:          tensor.Clamp(sum, 0, 1),
	}, nil
}

// TrainBatch runs the discriminator step then the generator step on one
// batch and returns the five loss scalars.
func (a *Attack) TrainBatch(x *tensor.Tensor, labels []int) (BatchLosses, error) {
	if len(x.Shape) != 4 || x.Shape[1] != a.cfg.NumChannels {
		return BatchLosses{}, errors.Errorf("images must be [N,%d,H,W], got %v", a.cfg.NumChannels, x.Shape)
	}
	if len(labels) != x.Shape[0] {
		return BatchLosses{}, errors.Errorf("%d labels for %d images", len(labels), x.Shape[0])
	}

	start := time.Now()
	dres, err := a.discriminatorStep(x)
	if err != nil {
		return BatchLosses{}, errors.Wrap(err, "discriminator step")
	}
	dDur := time.Since(start)

	start = time.Now()
	losses, err := a.generatorStep(x, labels, dres)
	if err != nil {
		return BatchLosses{}, errors.Wrap(err, "generator step")
	}
	gDur := time.Since(start)

	a.timing.DStepTime += dDur
	a.timing.GStepTime += gDur
	a.timing.BatchesRun++
	a.metrics.StepDuration.WithLabelValues("D").Observe(dDur.Seconds())
	a.metrics.StepDuration.WithLabelValues("G").Observe(gDur.Seconds())
	a.metrics.Batches.Inc()
	return losses, nil
}

// discriminatorStep performs StepsD updates of D. Each iteration draws a
// fresh perturbation; the adversarial image is treated as a constant.
// Layers cache only their latest forward pass, so the fake branch is
// back-propagated first and the real batch is forwarded again before its
// own backward pass.
func (a *Attack) discriminatorStep(x *tensor.Tensor) (*dStepResult, error) {
	res := &dStepResult{lossD: math.NaN()}
	for i := 0; i < a.cfg.StepsD; i++ {
		step, err := a.perturb(x)
		if err != nil {
			return nil, err
		}
		a.D.ZeroGrad()

		logitsReal, probsReal, err := a.D.Forward(x)
		if err != nil {
			return nil, err
		}
		logitsFake, probsFake, err := a.D.Forward(step.adv)
		if err != nil {
			return nil, err
		}

		var gradLR, gradLF, gradPR, gradPF *tensor.Tensor
		if a.cfg.IsRelativistic {
			step.lossD, gradLR, gradLF = DiscriminatorLossRelativistic(logitsReal, logitsFake)
		} else {
			step.lossD, gradPR, gradPF = DiscriminatorLossStandard(probsReal, probsFake)
		}

		if _, err := a.D.Backward(gradLF, gradPF); err != nil {
			return nil, err
		}
		if _, _, err := a.D.Forward(x); err != nil {
			return nil, err
		}
		if _, err := a.D.Backward(gradLR, gradPR); err != nil {
			return nil, err
		}
		a.optD.Step()
		res = step
	}
	return res, nil
}

// generatorStep performs StepsG updates of G on the perturbation carried in
// dres. When no discriminator iteration ran, a perturbation is drawn here.
func (a *Attack) generatorStep(x *tensor.Tensor, labels []int, dres *dStepResult) (BatchLosses, error) {
	nan := math.NaN()
	losses := BatchLosses{D: dres.lossD, G: nan, GGAN: nan, Hinge: nan, Adv: nan}
	if a.cfg.StepsG <= 0 {
		return losses, nil
	}
	if dres.perturbation == nil {
		fresh, err := a.perturb(x)
		if err != nil {
			return losses, err
		}
		fresh.lossD = dres.lossD
		dres = fresh
	}

	// d adv / d perturbation: both clamps pass gradient only inside their range
	mask := tensor.ClampMask(dres.preClamp, 0, 1)
	boundMask := tensor.ClampMask(dres.perturbation, -a.cfg.LInfBound, a.cfg.LInfBound)
	mask, err := tensor.MulElem(mask, boundMask)
	if err != nil {
		return losses, err
	}

	for i := 0; i < a.cfg.StepsG; i++ {
		a.G.ZeroGrad()

		lossHinge, gradHinge := HingeLoss(dres.perturbation, a.cfg.C)

		logits, err := a.target.Forward(dres.adv)
		if err != nil {
			return losses, err
		}
		probs, err := nn.Softmax(logits)
		if err != nil {
			return losses, err
		}
		adv, err := AdversarialLoss(probs, labels, a.cfg.Kappa)
		if err != nil {
			return losses, err
		}

		var lossGAN float64
		var gradLF, gradPF *tensor.Tensor
		if a.cfg.IsRelativistic {
			logitsReal, _, err := a.D.Forward(x)
			if err != nil {
				return losses, err
			}
			logitsFake, _, err := a.D.Forward(dres.adv)
			if err != nil {
				return losses, err
			}
			lossGAN, gradLF = GeneratorGANLossRelativistic(logitsReal, logitsFake)
		} else {
			_, probsFake, err := a.D.Forward(dres.adv)
			if err != nil {
				return losses, err
			}
			lossGAN, gradPF = GeneratorGANLossStandard(probsFake)
		}

		// gradient w.r.t. the adversarial image
		gradLogits, err := nn.SoftmaxBackward(probs, adv.GradProbs)
		if err != nil {
			return losses, err
		}
		gradFromTarget, err := a.target.Backward(gradLogits)
		if err != nil {
			return losses, err
		}
		gradFromD, err := a.D.Backward(gradLF, gradPF)
		if err != nil {
			return losses, err
		}
		gradImg := tensor.Scale(a.cfg.Gamma, gradFromTarget)
		if err := tensor.AddScaledInPlace(gradImg, a.cfg.Alpha, gradFromD); err != nil {
			return losses, err
		}

		gradP, err := tensor.MulElem(gradImg, mask)
		if err != nil {
			return losses, err
		}
		if err := tensor.AddScaledInPlace(gradP, a.cfg.Beta, gradHinge); err != nil {
			return losses, err
		}
		if _, err := a.G.Backward(gradP); err != nil {
			return losses, err
		}
		a.optG.Step()

		losses.G = TotalGeneratorLoss(adv.Loss, lossGAN, lossHinge, a.cfg.Alpha, a.cfg.Beta, a.cfg.Gamma)
		losses.GGAN = lossGAN
		losses.Hinge = lossHinge
		losses.Adv = adv.Loss
	}
	return losses, nil
}
