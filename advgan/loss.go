package advgan

import (
	"fmt"

	"advgan_lib/nn"
	"advgan_lib/tensor"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// HingeLoss returns max(0, mean_i ||p_i||_2 - c) over the samples of p and
// its gradient w.r.t. p.
func HingeLoss(p *tensor.Tensor, c float64) (float64, *tensor.Tensor) {
	n := p.Batch()
	size := p.SampleSize()
	grad := tensor.ZerosLike(p)
	if n == 0 {
		return 0, grad
	}
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		norms[i] = floats.Norm(p.Data[i*size:(i+1)*size], 2)
	}
	excess := stat.Mean(norms, nil) - c
	if excess <= 0 {
		return 0, grad
	}
	for i := 0; i < n; i++ {
		if norms[i] == 0 {
			continue
		}
		row := grad.Data[i*size : (i+1)*size]
		floats.ScaleTo(row, 1/(float64(n)*norms[i]), p.Data[i*size:(i+1)*size])
	}
	return excess, grad
}

// AdversarialTerms is the Carlini-Wagner style margin loss of a batch.
type AdversarialTerms struct {
	// Loss is the sum of PerSample.
	Loss      float64
	PerSample []float64
	// GradProbs is dLoss/dprobs.
	GradProbs *tensor.Tensor
}

// AdversarialLoss computes, per sample, max(p_true - max_{k != true} p_k, -kappa)
// from softmax probabilities [N, classes], summed over the batch.
func AdversarialLoss(probs *tensor.Tensor, labels []int, kappa float64) (*AdversarialTerms, error) {
	if len(probs.Shape) != 2 {
		return nil, fmt.Errorf("adversarial loss expects [batch, classes] probabilities, got %v", probs.Shape)
	}
	n, classes := probs.Shape[0], probs.Shape[1]
	if len(labels) != n {
		return nil, fmt.Errorf("adversarial loss: %d labels for a batch of %d", len(labels), n)
	}
	if classes < 2 {
		return nil, fmt.Errorf("adversarial loss needs at least 2 classes, got %d", classes)
	}
	terms := &AdversarialTerms{
		PerSample: make([]float64, n),
		GradProbs: tensor.ZerosLike(probs),
	}
	for i, label := range labels {
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("label %d of sample %d outside [0, %d)", label, i, classes)
		}
		row := probs.Data[i*classes : (i+1)*classes]
		best := -1
		for k, p := range row {
			if k != label && (best < 0 || p > row[best]) {
				best = k
			}
		}
		margin := row[label] - row[best]
		if margin > -kappa {
			terms.PerSample[i] = margin
			terms.GradProbs.Data[i*classes+label] = 1
			terms.GradProbs.Data[i*classes+best] = -1
		} else {
			terms.PerSample[i] = -kappa
		}
	}
	terms.Loss = floats.Sum(terms.PerSample)
	return terms, nil
}

// relativistic computes ((mean (lr - mean(lf) - s)^2) + mean((lf - mean(lr) + s)^2)) / 2
// and its gradients w.r.t. lr and lf. s = 1 is the discriminator objective,
// s = -1 the generator one.
func relativistic(lr, lf *tensor.Tensor, s float64) (float64, *tensor.Tensor, *tensor.Tensor) {
	nr, nf := float64(len(lr.Data)), float64(len(lf.Data))
	mr, mf := stat.Mean(lr.Data, nil), stat.Mean(lf.Data, nil)

	a := make([]float64, len(lr.Data))
	for i, v := range lr.Data {
		a[i] = v - mf - s
	}
	b := make([]float64, len(lf.Data))
	for j, v := range lf.Data {
		b[j] = v - mr + s
	}
	loss := (floats.Dot(a, a)/nr + floats.Dot(b, b)/nf) / 2

	sumA, sumB := floats.Sum(a), floats.Sum(b)
	gradR := tensor.ZerosLike(lr)
	for i := range a {
		gradR.Data[i] = a[i]/nr - sumB/(nr*nf)
	}
	gradF := tensor.ZerosLike(lf)
	for j := range b {
		gradF.Data[j] = b[j]/nf - sumA/(nr*nf)
	}
	return loss, gradR, gradF
}

// DiscriminatorLossRelativistic is the relativistic least-squares loss on
// real logits lr and fake logits lf, with gradients for both.
func DiscriminatorLossRelativistic(lr, lf *tensor.Tensor) (float64, *tensor.Tensor, *tensor.Tensor) {
	return relativistic(lr, lf, 1)
}

// DiscriminatorLossStandard is mse(pr, 1) + mse(pf, 0) on probabilities.
func DiscriminatorLossStandard(pr, pf *tensor.Tensor) (float64, *tensor.Tensor, *tensor.Tensor) {
	lossR, gradR := nn.MSE(pr, 1)
	lossF, gradF := nn.MSE(pf, 0)
	return lossR + lossF, gradR, gradF
}

// GeneratorGANLossRelativistic swaps the roles of real and fake in the
// relativistic loss. Only the gradient w.r.t. the fake logits is returned;
// the real path does not depend on the generator.
func GeneratorGANLossRelativistic(lr, lf *tensor.Tensor) (float64, *tensor.Tensor) {
	loss, _, gradF := relativistic(lr, lf, -1)
	return loss, gradF
}

// GeneratorGANLossStandard is mse(pf, 1).
func GeneratorGANLossStandard(pf *tensor.Tensor) (float64, *tensor.Tensor) {
	return nn.MSE(pf, 1)
}

// TotalGeneratorLoss is gamma*adv + alpha*gan + beta*hinge.
func TotalGeneratorLoss(adv, gan, hinge, alpha, beta, gamma float64) float64 {
	return gamma*adv + alpha*gan + beta*hinge
}
