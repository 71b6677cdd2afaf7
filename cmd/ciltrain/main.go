// Command ciltrain trains the conditional imitation driving policy:
// uncertainty-weighted multi-task loss over command branches, epoch
// train/evaluate loop, checkpoint save/resume with best tracking.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/summary"
	"github.com/opencil/ciltrain/training"
)

type args struct {
	ID           string  `arg:"--id" help:"run identifier, random when empty"`
	TrainDir     string  `arg:"--train-dir" help:"training dataset file"`
	EvalDir      string  `arg:"--eval-dir" help:"evaluation dataset file"`
	Epochs       int     `arg:"--epochs" default:"90" help:"number of total epochs to run"`
	StartEpoch   int     `arg:"--start-epoch" default:"0" help:"manual epoch number, useful on restarts"`
	BatchSize    int     `arg:"-b,--batch-size" default:"256" help:"mini-batch size"`
	LearningRate float64 `arg:"--lr" default:"0.0001" help:"initial learning rate"`
	LRGamma      float64 `arg:"--lr-gamma" default:"0.5" help:"learning rate decay factor"`
	LRStep       int     `arg:"--lr-step" default:"10" help:"epochs between learning rate decays"`
	WeightDecay  float64 `arg:"--weight-decay" default:"0.0001"`
	Optimizer    string  `arg:"--optimizer" default:"adam" help:"optimizer: adam or sgd"`
	BranchWeight float64 `arg:"--branch-weight" default:"0.1"`
	SpeedWeight  float64 `arg:"--speed-weight" default:"0.1"`
	PrintFreq    int     `arg:"--print-freq" default:"10" help:"batches between progress snapshots"`
	Resume       string  `arg:"--resume" help:"checkpoint file name under the save directory"`
	Evaluate     bool    `arg:"-e,--evaluate" help:"evaluate the model on the validation set"`
	Workers      int     `arg:"-j,--workers" default:"4" help:"number of data loading workers"`
	WorldSize    int     `arg:"--world-size" default:"1" help:"number of distributed processes"`
	Seed         *int64  `arg:"--seed" help:"seed for initializing training"`
	NetStructure int     `arg:"--net-structure" default:"2" help:"network structure 1/2/3/4"`
	Pretrained   string  `arg:"--pretrained" help:"pretrained backbone checkpoint"`
	ImageDim     int     `arg:"--image-dim" default:"512" help:"flattened image feature width"`
	Sidecar      string  `arg:"--sidecar" help:"plotting sidecar base URL"`
}

func (args) Description() string {
	return "trains a conditional imitation driving policy with uncertainty-weighted losses"
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ciltrain:", err)
		os.Exit(1)
	}
}

func run() error {
	var a args
	arg.MustParse(&a)

	cfg, logDir, runDir := buildConfig(a)
	for _, dir := range []string{logDir, runDir, cfg.SaveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %v", dir, err)
		}
	}

	log, err := buildLogger(filepath.Join(logDir, "carla_training.log"))
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.HasSeed {
		nn.SetRandomSeed(cfg.Seed)
		log.Info("seeded training, restarts from checkpoints may behave differently",
			zap.Int64("seed", cfg.Seed))
	}

	if cfg.WorldSize > 1 {
		var group training.ProcessGroup = training.SingleProcess{}
		if err := group.Init(cfg.WorldSize); err != nil {
			return fmt.Errorf("failed to initialize process group: %v", err)
		}
	}

	writer, err := buildWriter(runDir, a.Sidecar, log)
	if err != nil {
		return err
	}
	defer writer.Close()

	model, err := nn.NewFinalNet(cfg.NetStructure, carlaConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build model: %v", err)
	}

	trainLoader, err := buildLoader(cfg.TrainDir, cfg)
	if err != nil {
		return fmt.Errorf("failed to load training data: %v", err)
	}
	evalLoader, err := buildLoader(cfg.EvalDir, cfg)
	if err != nil {
		return fmt.Errorf("failed to load evaluation data: %v", err)
	}

	trainer, err := training.NewTrainer(cfg, model, trainLoader, evalLoader, writer, log)
	if err != nil {
		return err
	}

	log.Info("starting run",
		zap.String("id", cfg.RunID),
		zap.Int("net_structure", cfg.NetStructure),
		zap.Bool("evaluate_only", cfg.EvaluateOnly))
	return trainer.Run()
}

// buildConfig derives the run configuration and directory layout. The
// checkpoint directory and resume path always come from the plain run
// id, so evaluation can resume what a training run saved; the _test
// suffix only renames the log and summary identity of evaluation runs.
func buildConfig(a args) (cfg training.Config, logDir, runDir string) {
	cfg = training.DefaultConfig()

	baseID := a.ID
	if baseID == "" {
		baseID = uuid.NewString()
	}
	cfg.SaveDir = filepath.Join("save_models", baseID)
	if a.Resume != "" {
		cfg.Resume = filepath.Join(cfg.SaveDir, a.Resume)
	}

	cfg.RunID = baseID
	if a.Evaluate {
		cfg.RunID = baseID + "_test"
	}

	cfg.TrainDir = a.TrainDir
	cfg.EvalDir = a.EvalDir
	cfg.Epochs = a.Epochs
	cfg.StartEpoch = a.StartEpoch
	cfg.BatchSize = a.BatchSize
	cfg.LearningRate = a.LearningRate
	cfg.LRGamma = a.LRGamma
	cfg.LRStep = a.LRStep
	cfg.WeightDecay = a.WeightDecay
	cfg.BranchWeight = a.BranchWeight
	cfg.SpeedWeight = a.SpeedWeight
	cfg.PrintFreq = a.PrintFreq
	cfg.EvaluateOnly = a.Evaluate
	cfg.Optimizer = a.Optimizer
	cfg.Workers = a.Workers
	cfg.WorldSize = a.WorldSize
	cfg.NetStructure = a.NetStructure
	cfg.Pretrained = a.Pretrained
	cfg.ImageDim = a.ImageDim
	if a.Seed != nil {
		cfg.Seed = *a.Seed
		cfg.HasSeed = true
	}

	logDir = filepath.Join("logs", cfg.RunID)
	runDir = filepath.Join("runs", cfg.RunID)
	return cfg, logDir, runDir
}

func carlaConfig(cfg training.Config) nn.CarlaConfig {
	c := nn.DefaultCarlaConfig()
	c.ImageDim = cfg.ImageDim
	c.Device = cfg.Device
	return c
}

func buildLoader(path string, cfg training.Config) (training.Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("dataset path is empty")
	}
	dataset, err := training.LoadJSONDataset(path)
	if err != nil {
		return nil, err
	}
	return training.NewDataLoader(dataset, cfg.BatchSize, cfg.ImageDim, cfg.Device)
}

func buildLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout", path}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %v", err)
	}
	return log, nil
}

func buildWriter(runDir, sidecarURL string, log *zap.Logger) (summary.Writer, error) {
	if sidecarURL != "" {
		sc := summary.DefaultSidecarConfig()
		sc.BaseURL = sidecarURL
		return summary.NewSidecarWriter(sc, log), nil
	}
	return summary.NewFileWriter(filepath.Join(runDir, "events.jsonl"))
}
