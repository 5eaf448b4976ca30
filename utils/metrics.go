package utils

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TrainingMetrics are the Prometheus collectors updated by the trainer.
type TrainingMetrics struct {
	EpochLoss    *prometheus.GaugeVec
	Epochs       prometheus.Counter
	Batches      prometheus.Counter
	StepDuration *prometheus.HistogramVec
	Snapshots    prometheus.Counter
}

// NewTrainingMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewTrainingMetrics(reg prometheus.Registerer) (*TrainingMetrics, error) {
	m := &TrainingMetrics{
		EpochLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "advgan", Subsystem: "train", Name: "epoch_loss", Help: "Mean loss of the last completed epoch, by loss term."},
			[]string{"loss"},
		),
		Epochs: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "advgan", Subsystem: "train", Name: "epochs_total", Help: "Completed training epochs."},
		),
		Batches: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "advgan", Subsystem: "train", Name: "batches_total", Help: "Processed training batches."},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: "advgan", Subsystem: "train", Name: "step_duration_seconds", Help: "Duration of discriminator and generator steps.", Buckets: prometheus.ExponentialBuckets(0.001, 4, 10)},
			[]string{"network"},
		),
		Snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "advgan", Subsystem: "train", Name: "snapshots_total", Help: "Generator snapshots written."},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.EpochLoss, m.Epochs, m.Batches, m.StepDuration, m.Snapshots} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
