package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds training configuration
type Config struct {
	Device      string `yaml:"device"`
	NumLabels   int    `yaml:"n_labels"`
	NumChannels int    `yaml:"n_channels"`
	Target      string `yaml:"target"`

	LR        float64 `yaml:"lr"`
	LInfBound float64 `yaml:"l_inf_bound"`

	// loss weights: total = Gamma*adv + Alpha*gan + Beta*hinge
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
	Kappa float64 `yaml:"kappa"`
	C     float64 `yaml:"c"`

	StepsD         int  `yaml:"n_steps_D"`
	StepsG         int  `yaml:"n_steps_G"`
	IsRelativistic bool `yaml:"is_relativistic"`

	Epochs    int    `yaml:"epochs"`
	ModelsDir string `yaml:"models_dir"`
	LossesDir string `yaml:"losses_dir"`
	Seed      uint64 `yaml:"seed"`
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Device:      "cpu",
		NumLabels:   10,
		NumChannels: 3,
		Target:      "cifar10",
		LR:          0.001,
		LInfBound:   0.1,
		Alpha:       1,
		Beta:        1,
		Gamma:       1,
		Kappa:       0,
		C:           0.1,
		StepsD:      1,
		StepsG:      1,
		Epochs:      10,
		ModelsDir:   "./checkpoints/AdvGAN/",
		LossesDir:   "./results/losses/",
		Seed:        42,
	}
}

// LoadConfig reads a YAML file over the defaults. Keys absent from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ValidateConfig validates training configuration
func ValidateConfig(config *Config) error {
	if config.Device != "cpu" {
		return fmt.Errorf("device %q is not supported (only \"cpu\")", config.Device)
	}

	if config.NumLabels < 2 {
		return fmt.Errorf("n_labels must be at least 2")
	}

	if config.NumChannels <= 0 {
		return fmt.Errorf("n_channels must be positive")
	}

	if config.Target == "" {
		return fmt.Errorf("target tag must not be empty")
	}

	if config.LR <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}

	if config.LInfBound < 0 {
		return fmt.Errorf("l_inf_bound must not be negative")
	}

	if config.Epochs < 0 {
		return fmt.Errorf("epochs must not be negative")
	}

	if config.ModelsDir == "" || config.LossesDir == "" {
		return fmt.Errorf("models_dir and losses_dir must be set")
	}

	return nil
}
