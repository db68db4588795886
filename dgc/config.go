package dgc

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default size-tier thresholds, in elements.
const (
	DefaultDenseThreshold     = 8192
	DefaultTrimmedThreshold   = 131072
	DefaultThresholdThreshold = 4194304
)

// Config controls an Engine.
type Config struct {
	// WorldSize is the number of workers. With 1 worker
	// nothing is sent over the network.
	WorldSize int `yaml:"world_size"`

	// UseCompression enables sparsification. When false,
	// every parameter takes the dense path.
	UseCompression bool `yaml:"use_compression"`

	// Thresholds are the ascending element counts at which
	// the medium, large and very-large tiers begin.
	Thresholds [3]int `yaml:"thresholds"`

	// Ratio is the fraction of elements sent per round.
	Ratio float64 `yaml:"ratio"`

	// Quantize selects the quantized-allgather exchange.
	// Otherwise indices are shared by every worker and only
	// values are reduced.
	Quantize bool `yaml:"quantize"`

	Momentum    float64 `yaml:"momentum"`
	WeightDecay float64 `yaml:"weight_decay"`
	Nesterov    bool    `yaml:"nesterov"`

	// Verify additionally reduces the dense buffer each
	// worker would have sent without compression and
	// records how far the reconstruction is from it.
	Verify bool `yaml:"verify"`
}

// DefaultConfig creates the configuration for a single
// worker with compression enabled.
func DefaultConfig() Config {
	return Config{
		WorldSize:      1,
		UseCompression: true,
		Thresholds: [3]int{
			DefaultDenseThreshold,
			DefaultTrimmedThreshold,
			DefaultThresholdThreshold,
		},
		Ratio:       0.001,
		Quantize:    true,
		Momentum:    0.9,
		WeightDecay: 1e-4,
		Nesterov:    true,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig().
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.WorldSize < 1 {
		return errors.Errorf("world size must be at least 1, got %d", c.WorldSize)
	}
	if c.Thresholds[0] <= 0 {
		return errors.Errorf("thresholds must be positive, got %v", c.Thresholds)
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if c.Thresholds[i] <= c.Thresholds[i-1] {
			return errors.Errorf("thresholds must be ascending, got %v", c.Thresholds)
		}
	}
	if !(c.Ratio > 0 && c.Ratio <= 1) {
		return errors.Errorf("ratio must be in (0, 1], got %v", c.Ratio)
	}
	if !(c.Momentum >= 0 && c.Momentum < 1) {
		return errors.Errorf("momentum must be in [0, 1), got %v", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("weight decay must be non-negative, got %v", c.WeightDecay)
	}
	return nil
}
