// advgan-train: trains an AdvGAN perturbation generator against a frozen
// target classifier on synthetic data.
//
// Usage:
//
//	advgan-train --config=advgan.yaml --epochs=10 --relativistic
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"advgan_lib/advgan"
	"advgan_lib/data"
	"advgan_lib/models"
	"advgan_lib/nn/bench"
	"advgan_lib/tensor"
	"advgan_lib/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var (
	configFile    = flag.String("config", "", "YAML config file (defaults apply when empty)")
	epochs        = flag.Int("epochs", 10, "Number of training epochs")
	learningRate  = flag.Float64("lr", 0.001, "Adam learning rate for G and D")
	target        = flag.String("target", "cifar10", "Dataset tag: mnist, fmnist, cifar10, high_resolution")
	relativistic  = flag.Bool("relativistic", false, "Use the relativistic GAN loss")
	stepsD        = flag.Int("steps-d", 1, "Discriminator iterations per batch")
	stepsG        = flag.Int("steps-g", 1, "Generator iterations per batch")
	seed          = flag.Uint64("seed", 42, "Random seed")
	lInfBound     = flag.Float64("bound", 0.1, "L∞ bound on the perturbation")
	alpha         = flag.Float64("alpha", 1, "Weight of the GAN loss")
	beta          = flag.Float64("beta", 1, "Weight of the hinge loss")
	gamma         = flag.Float64("gamma", 1, "Weight of the adversarial loss")
	kappa         = flag.Float64("kappa", 0, "Confidence margin of the adversarial loss")
	hingeC        = flag.Float64("c", 0.1, "Hinge bound on the mean perturbation norm")
	numLabels     = flag.Int("labels", 10, "Number of target classes")
	numChannels   = flag.Int("channels", 3, "Image channels")
	modelsDir     = flag.String("models-dir", "./checkpoints/AdvGAN/", "Directory for generator snapshots")
	lossesDir     = flag.String("losses-dir", "./results/losses/", "Directory for loss curves")
	samples       = flag.Int("samples", 256, "Number of synthetic samples")
	batchSize     = flag.Int("batch", 32, "Batch size")
	imageSize     = flag.Int("size", 32, "Synthetic image height and width")
	targetWeights = flag.String("target-weights", "", "Target model weights JSON (random frozen target when empty)")
	saveTarget    = flag.String("save-target", "", "Write the target model weights here before training")
	metricsAddr   = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	profileRuns   = flag.Int("profile", 0, "Print per-layer timings averaged over this many runs before training")
	verbose       = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := utils.ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    AdvGAN Trainer                            ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Target:        %s (%d labels, %d channels)\n", cfg.Target, cfg.NumLabels, cfg.NumChannels)
	fmt.Printf("  Epochs:        %d\n", cfg.Epochs)
	fmt.Printf("  Learning Rate: %.4f\n", cfg.LR)
	fmt.Printf("  L∞ bound:      %.3f\n", cfg.LInfBound)
	fmt.Printf("  Weights:       alpha=%g beta=%g gamma=%g kappa=%g c=%g\n", cfg.Alpha, cfg.Beta, cfg.Gamma, cfg.Kappa, cfg.C)
	fmt.Printf("  Steps D/G:     %d/%d\n", cfg.StepsD, cfg.StepsG)
	fmt.Printf("  Relativistic:  %v\n", cfg.IsRelativistic)
	fmt.Printf("  Samples:       %d (batch %d, %dx%d)\n", *samples, *batchSize, *imageSize, *imageSize)
	fmt.Println()

	logger := utils.NewLogger(os.Stderr, *logLevel)
	tp := utils.NewTracerProvider(logger)
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	metrics, err := utils.NewTrainingMetrics(reg)
	if err != nil {
		logger.WithError(err).Fatal("register metrics")
	}
	if *metricsAddr != "" {
		serveMetrics(logger, reg, *metricsAddr)
	}

	targetModel, err := buildTarget(cfg)
	if err != nil {
		logger.WithError(err).Fatal("target model")
	}

	fmt.Printf("Generating %d synthetic samples...\n", *samples)
	ds, err := data.NewSynthetic(data.SyntheticConfig{
		Samples:   *samples,
		Channels:  cfg.NumChannels,
		Height:    *imageSize,
		Width:     *imageSize,
		NumLabels: cfg.NumLabels,
		BatchSize: *batchSize,
		Seed:      cfg.Seed,
	})
	if err != nil {
		logger.WithError(err).Fatal("dataset")
	}

	if *profileRuns > 0 {
		if err := profileNets(cfg, ds.Batches()[0].Images); err != nil {
			logger.WithError(err).Fatal("profile")
		}
	}

	attack, err := advgan.New(cfg, targetModel, advgan.Options{Logger: logger, Metrics: metrics})
	if err != nil {
		logger.WithError(err).Fatal("setup")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("\nStarting training...")
	if _, err := attack.Train(ctx, ds, cfg.Epochs); err != nil {
		logger.WithError(err).Error("training stopped")
		os.Exit(1)
	}

	timing := attack.Timing()
	utils.PrintTimingStats(&timing)
	fmt.Printf("\nSnapshots in %s, loss curves in %s\n", cfg.ModelsDir, attack.PlotDir())
}

// loadConfig reads the config file, if any, then applies the flags the user
// set explicitly.
func loadConfig() (utils.Config, error) {
	cfg := utils.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = utils.LoadConfig(*configFile); err != nil {
			return cfg, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "epochs":
			cfg.Epochs = *epochs
		case "lr":
			cfg.LR = *learningRate
		case "target":
			cfg.Target = *target
		case "relativistic":
			cfg.IsRelativistic = *relativistic
		case "steps-d":
			cfg.StepsD = *stepsD
		case "steps-g":
			cfg.StepsG = *stepsG
		case "seed":
			cfg.Seed = *seed
		case "bound":
			cfg.LInfBound = *lInfBound
		case "alpha":
			cfg.Alpha = *alpha
		case "beta":
			cfg.Beta = *beta
		case "gamma":
			cfg.Gamma = *gamma
		case "kappa":
			cfg.Kappa = *kappa
		case "c":
			cfg.C = *hingeC
		case "labels":
			cfg.NumLabels = *numLabels
		case "channels":
			cfg.NumChannels = *numChannels
		case "models-dir":
			cfg.ModelsDir = *modelsDir
		case "losses-dir":
			cfg.LossesDir = *lossesDir
		}
	})
	return cfg, nil
}

func buildTarget(cfg utils.Config) (*models.TargetModel, error) {
	var m *models.TargetModel
	if *targetWeights != "" {
		fmt.Printf("Loading target weights from %s...\n", *targetWeights)
		var err error
		if m, err = models.LoadTargetModel(*targetWeights, cfg.NumChannels, cfg.NumLabels); err != nil {
			return nil, err
		}
	} else {
		fmt.Println("No target weights. Using a random frozen target...")
		m = models.NewTargetModel(cfg.NumChannels, cfg.NumLabels, cfg.Seed+2)
	}
	if *saveTarget != "" {
		if err := m.Save(*saveTarget); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func serveMetrics(logger *logrus.Logger, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
}

func profileNets(cfg utils.Config, x *tensor.Tensor) error {
	for _, net := range bench.BuildAdvGANNets(cfg.NumChannels, cfg.NumLabels, cfg.Target, cfg.Seed) {
		timings, err := bench.Profile(net, x, *profileRuns)
		if err != nil {
			return err
		}
		bench.WriteTable(os.Stdout, net.Name, timings)
	}
	return nil
}
