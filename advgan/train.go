package advgan

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"advgan_lib/data"
	"advgan_lib/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/stat"
)

// History holds one mean value per completed epoch for each loss.
type History struct {
	LossD     []float64
	LossG     []float64
	LossAdv   []float64
	LossGGAN  []float64
	LossHinge []float64
}

type lossCurve struct {
	name   string
	values []float64
}

// curves pairs each history with the file stem of its plot.
func (h *History) curves() []lossCurve {
	return []lossCurve{
		{"loss_D", h.LossD},
		{"loss_G", h.LossG},
		{"loss_adv", h.LossAdv},
		{"loss_G_gan", h.LossGGAN},
		{"loss_hinge", h.LossHinge},
	}
}

// SnapshotPath is where the generator of the given epoch is written.
func (a *Attack) SnapshotPath(epoch int) string {
	return filepath.Join(a.cfg.ModelsDir, fmt.Sprintf("G_epoch_%d.json", epoch))
}

// PlotDir is the directory holding the loss curves of this run's target.
func (a *Attack) PlotDir() string {
	return filepath.Join(a.cfg.LossesDir, a.cfg.Target)
}

// Train runs epochs passes over ds. After each epoch it reports the mean
// losses and snapshots the generator; after the last one it plots the five
// loss histories. It stops early only on error or context cancellation.
func (a *Attack) Train(ctx context.Context, ds data.Dataset, epochs int) (*History, error) {
	start := time.Now()
	defer func() { a.timing.TotalTime += time.Since(start) }()

	hist := &History{}
	for epoch := 1; epoch <= epochs; epoch++ {
		if err := a.trainEpoch(ctx, ds, epoch, hist); err != nil {
			return hist, err
		}
	}

	plotStart := time.Now()
	for _, c := range hist.curves() {
		path := filepath.Join(a.PlotDir(), c.name+".png")
		if err := utils.SaveLossPlot(path, c.name, c.values); err != nil {
			return hist, err
		}
		a.logger.WithField("path", path).Debug("loss plot written")
	}
	a.timing.PlotTime += time.Since(plotStart)

	a.logger.WithFields(logrus.Fields{
		"run_id": a.runID,
		"epochs": epochs,
	}).Info("training finished")
	return hist, nil
}

func (a *Attack) trainEpoch(ctx context.Context, ds data.Dataset, epoch int, hist *History) error {
	ctx, span := a.tracer.Start(ctx, "epoch")
	span.SetAttributes(attribute.Int("epoch", epoch))
	defer span.End()

	batches := ds.Batches()
	var lossD, lossG, lossAdv, lossGGAN, lossHinge []float64
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "epoch %d interrupted", epoch)
		}
		_, bspan := a.tracer.Start(ctx, "batch")
		bspan.SetAttributes(attribute.Int("batch", i))
		l, err := a.TrainBatch(b.Images, b.Labels)
		bspan.End()
		if err != nil {
			return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
		}
		lossD = append(lossD, l.D)
		lossG = append(lossG, l.G)
		lossAdv = append(lossAdv, l.Adv)
		lossGGAN = append(lossGGAN, l.GGAN)
		lossHinge = append(lossHinge, l.Hinge)
	}

	// mean over the batch count; an empty dataset yields NaN
	means := [5]float64{
		stat.Mean(lossD, nil),
		stat.Mean(lossG, nil),
		stat.Mean(lossAdv, nil),
		stat.Mean(lossGGAN, nil),
		stat.Mean(lossHinge, nil),
	}
	hist.LossD = append(hist.LossD, means[0])
	hist.LossG = append(hist.LossG, means[1])
	hist.LossAdv = append(hist.LossAdv, means[2])
	hist.LossGGAN = append(hist.LossGGAN, means[3])
	hist.LossHinge = append(hist.LossHinge, means[4])

	utils.PrintEpochStats(epoch, means[0], means[1], means[2], means[3], means[4])
	a.logger.WithFields(logrus.Fields{
		"epoch":      epoch,
		"loss_D":     means[0],
		"loss_G":     means[1],
		"loss_adv":   means[2],
		"loss_G_gan": means[3],
		"loss_hinge": means[4],
	}).Info("epoch complete")
	for _, c := range hist.curves() {
		a.metrics.EpochLoss.WithLabelValues(c.name).Set(c.values[len(c.values)-1])
	}
	a.metrics.Epochs.Inc()

	return a.saveSnapshot(epoch)
}

// saveSnapshot writes the generator parameters (buffers included) of the
// given epoch.
func (a *Attack) saveSnapshot(epoch int) error {
	start := time.Now()
	mw := utils.CollectWeights("generator", a.G.Params())
	mw.Epoch = epoch
	mw.RunID = a.runID
	mw.Target = a.cfg.Target

	path := a.SnapshotPath(epoch)
	if err := utils.SaveWeights(path, mw); err != nil {
		return errors.Wrapf(err, "snapshot epoch %d", epoch)
	}
	a.timing.SnapshotTime += time.Since(start)
	a.timing.Snapshots++
	a.metrics.Snapshots.Inc()
	a.logger.WithFields(logrus.Fields{"epoch": epoch, "path": path}).Debug("generator snapshot written")
	return nil
}
