package training

import (
	"fmt"

	"github.com/opencil/ciltrain/tensor"
)

// Config carries every knob the trainer consumes. It is built once at
// startup and passed explicitly; there is no global configuration.
type Config struct {
	RunID string

	TrainDir string
	EvalDir  string
	SaveDir  string

	Epochs     int
	StartEpoch int
	BatchSize  int

	LearningRate float64
	LRGamma      float64
	LRStep       int
	WeightDecay  float64
	Optimizer    string

	BranchWeight float64
	SpeedWeight  float64

	PrintFreq    int
	Resume       string
	EvaluateOnly bool

	Workers      int
	WorldSize    int
	Seed         int64
	HasSeed      bool
	NetStructure int
	Pretrained   string

	ImageDim int
	Device   tensor.DeviceType
}

// DefaultConfig mirrors the stock trainer's defaults.
func DefaultConfig() Config {
	return Config{
		RunID:        "test",
		SaveDir:      "save_models",
		Epochs:       90,
		BatchSize:    256,
		LearningRate: 1e-4,
		LRGamma:      0.5,
		LRStep:       10,
		WeightDecay:  1e-4,
		Optimizer:    "adam",
		BranchWeight: 0.1,
		SpeedWeight:  0.1,
		PrintFreq:    10,
		Workers:      4,
		WorldSize:    1,
		NetStructure: 2,
		ImageDim:     512,
		Device:       tensor.CPU,
	}
}

func (c *Config) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("run id must not be empty")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.StartEpoch < 0 || c.StartEpoch >= c.Epochs {
		return fmt.Errorf("start epoch %d out of range [0, %d)", c.StartEpoch, c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	if c.LRGamma <= 0 {
		return fmt.Errorf("lr gamma must be positive, got %v", c.LRGamma)
	}
	if c.LRStep <= 0 {
		return fmt.Errorf("lr step must be positive, got %d", c.LRStep)
	}
	switch c.Optimizer {
	case "", "adam", "sgd":
	default:
		return fmt.Errorf("unknown optimizer %q", c.Optimizer)
	}
	if c.BranchWeight < 0 || c.SpeedWeight < 0 {
		return fmt.Errorf("loss weights must be non-negative")
	}
	if c.PrintFreq <= 0 {
		return fmt.Errorf("print frequency must be positive, got %d", c.PrintFreq)
	}
	if c.NetStructure < 1 || c.NetStructure > 4 {
		return fmt.Errorf("net structure must be 1..4, got %d", c.NetStructure)
	}
	if c.WorldSize < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", c.WorldSize)
	}
	if c.ImageDim <= 0 {
		return fmt.Errorf("image dim must be positive, got %d", c.ImageDim)
	}
	return nil
}

// LossMode returns the loss variant matching the network structure:
// the plain two-output net trains on squared error, every uncertainty
// structure trains on the weighted form.
func (c *Config) LossMode() LossMode {
	if c.NetStructure == 1 {
		return LossModeSimple
	}
	return LossModeUncertainty
}
