package training

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/opencil/ciltrain/checkpoints"
	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/summary"
	"github.com/opencil/ciltrain/tensor"
)

// Trainer owns the epoch loop: model, criterion, optimizer, schedule,
// checkpointing and the best-metric decision. Lower metric is better.
type Trainer struct {
	cfg       Config
	model     *nn.FinalNet
	criterion *Criterion
	optimizer Optimizer
	scheduler *StepLR

	trainLoader Loader
	evalLoader  Loader
	writer      summary.Writer
	log         *zap.Logger

	startEpoch int
	best       float64
	resumed    bool
}

func NewTrainer(cfg Config, model *nn.FinalNet, trainLoader, evalLoader Loader,
	writer summary.Writer, log *zap.Logger) (*Trainer, error) {

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid trainer configuration")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if writer == nil {
		writer = summary.NopWriter{}
	}

	criterion, err := NewCriterion(cfg.LossMode(), cfg.BranchWeight, cfg.SpeedWeight)
	if err != nil {
		return nil, err
	}

	// Only the uncertainty sub-net is optimized; the backbone stays
	// frozen at its pretrained weights.
	optimizer, err := newOptimizer(cfg, model.UncertainParameters())
	if err != nil {
		return nil, err
	}

	scheduler, err := NewStepLR(optimizer, cfg.LRStep, cfg.LRGamma)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:         cfg,
		model:       model,
		criterion:   criterion,
		optimizer:   optimizer,
		scheduler:   scheduler,
		trainLoader: trainLoader,
		evalLoader:  evalLoader,
		writer:      writer,
		log:         log,
		startEpoch:  cfg.StartEpoch,
		best:        math.Inf(1),
	}

	if cfg.Pretrained != "" {
		if err := t.loadPretrained(cfg.Pretrained); err != nil {
			return nil, errors.Wrapf(err, "failed to load pretrained backbone %s", cfg.Pretrained)
		}
		log.Info("loaded pretrained backbone", zap.String("path", cfg.Pretrained))
	}

	if cfg.Resume != "" {
		if err := t.resume(cfg.Resume); err != nil {
			if errors.Is(err, checkpoints.ErrNotFound) {
				log.Warn("no checkpoint found", zap.String("resume", cfg.Resume))
			} else {
				return nil, errors.Wrapf(err, "failed to resume from %s", cfg.Resume)
			}
		}
	}

	return t, nil
}

// newOptimizer builds the configured optimizer over the trainable
// parameters. Adam is the stock choice.
func newOptimizer(cfg Config, params []*tensor.Tensor) (Optimizer, error) {
	switch cfg.Optimizer {
	case "", "adam":
		return NewAdam(params, AdamConfig{
			LearningRate: cfg.LearningRate,
			Beta1:        0.7,
			Beta2:        0.85,
			Epsilon:      1e-8,
			WeightDecay:  cfg.WeightDecay,
		})
	case "sgd":
		return NewSGD(params, SGDConfig{
			LearningRate: cfg.LearningRate,
			Momentum:     0.9,
			WeightDecay:  cfg.WeightDecay,
		})
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
}

// Best returns the best evaluation metric seen so far.
func (t *Trainer) Best() float64 {
	return t.best
}

// StartEpoch returns the epoch the next Run will begin at.
func (t *Trainer) StartEpoch() int {
	return t.startEpoch
}

// Run dispatches to evaluation-only mode or the full training loop.
func (t *Trainer) Run() error {
	if t.cfg.EvaluateOnly {
		return t.evaluateOnly()
	}
	return t.fit()
}

// evaluateOnly runs exactly one evaluation pass against the restored
// checkpoint. Without a restored checkpoint there is nothing to
// evaluate; the misconfiguration is logged and nothing runs.
func (t *Trainer) evaluateOnly() error {
	if !t.resumed {
		t.log.Error("evaluate mode requires an existing checkpoint",
			zap.String("resume", t.cfg.Resume))
		return nil
	}

	_, err := Evaluate(t.model, t.evalLoader, t.criterion, t.writer, t.log, 0, t.cfg.Device)
	if err != nil {
		return errors.Wrap(err, "evaluation failed")
	}
	return t.writer.Flush()
}

func (t *Trainer) fit() error {
	for epoch := t.startEpoch; epoch < t.cfg.Epochs; epoch++ {
		// The schedule advances before the epoch trains, so epoch 0
		// already runs on the second schedule value. Kept as is: the
		// released models were trained this way.
		t.scheduler.Step()

		stats, err := TrainEpoch(t.model, t.trainLoader, t.criterion, t.optimizer,
			t.writer, t.log, epoch, t.cfg.PrintFreq, t.cfg.Device)
		if err != nil {
			return errors.Wrapf(err, "training failed at epoch %d", epoch)
		}

		metric, err := Evaluate(t.model, t.evalLoader, t.criterion,
			t.writer, t.log, epoch, t.cfg.Device)
		if err != nil {
			return errors.Wrapf(err, "evaluation failed at epoch %d", epoch)
		}

		isBest := t.observeMetric(metric)
		if err := t.saveCheckpoint(epoch+1, isBest); err != nil {
			return errors.Wrapf(err, "failed to checkpoint epoch %d", epoch)
		}
		if err := t.writer.Flush(); err != nil {
			t.log.Warn("failed to flush summaries", zap.Error(err))
		}

		t.log.Info("epoch finished",
			zap.Int("epoch", epoch+1),
			zap.Float64("lr", t.optimizer.GetLR()),
			zap.Float64("train_loss", stats.TotalLoss),
			zap.Float64("eval_loss", metric),
			zap.Float64("best", t.best),
			zap.Bool("is_best", isBest))
	}
	return nil
}

// observeMetric folds one evaluation metric into the best-seen value
// and reports whether it improved it.
func (t *Trainer) observeMetric(metric float64) bool {
	isBest := metric < t.best
	t.best = math.Min(metric, t.best)
	return isBest
}

func (t *Trainer) saveCheckpoint(epoch int, isBest bool) error {
	ckpt := &checkpoints.Checkpoint{
		RunID:     t.cfg.RunID,
		Epoch:     epoch,
		BestLoss:  t.best,
		Optimizer: t.optimizer.State(),
		Scheduler: t.scheduler.State(),
	}
	for _, np := range t.model.NamedParameters() {
		data, err := np.Tensor.GetFloat32Data()
		if err != nil {
			return err
		}
		ckpt.Weights = append(ckpt.Weights, checkpoints.WeightTensor{
			Name:  np.Name,
			Shape: np.Tensor.Size(),
			Data:  append([]float32(nil), data...),
		})
	}

	path := filepath.Join(t.cfg.SaveDir, fmt.Sprintf("%d_%s.json", epoch, t.cfg.RunID))
	return checkpoints.SaveWithBest(ckpt, t.cfg.RunID, isBest, path)
}

func (t *Trainer) resume(path string) error {
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return err
	}

	t.startEpoch = ckpt.Epoch
	t.best = ckpt.BestLoss
	if err := t.applyWeights(ckpt.Weights, ""); err != nil {
		return err
	}
	if ckpt.Optimizer != nil {
		if err := t.optimizer.LoadState(ckpt.Optimizer); err != nil {
			return err
		}
	}
	if ckpt.Scheduler != nil {
		if err := t.scheduler.LoadState(ckpt.Scheduler); err != nil {
			return err
		}
	}

	t.resumed = true
	t.log.Info("resumed from checkpoint",
		zap.String("path", path),
		zap.Int("epoch", t.startEpoch),
		zap.Float64("best", t.best))
	return nil
}

// loadPretrained restores only the backbone weights from a checkpoint,
// leaving the uncertainty sub-net at its fresh initialization.
func (t *Trainer) loadPretrained(path string) error {
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	return t.applyWeights(ckpt.Weights, "carla_net.")
}

func (t *Trainer) applyWeights(weights []checkpoints.WeightTensor, prefix string) error {
	var named []nn.NamedParameter
	for _, w := range weights {
		if prefix != "" && !strings.HasPrefix(w.Name, prefix) {
			continue
		}
		param, err := tensor.NewTensor(w.Shape, tensor.Float32, t.cfg.Device, w.Data)
		if err != nil {
			return errors.Wrapf(err, "weight %s", w.Name)
		}
		named = append(named, nn.NamedParameter{Name: w.Name, Tensor: param})
	}
	if prefix != "" && len(named) == 0 {
		return fmt.Errorf("checkpoint carries no %s* weights", prefix)
	}
	return t.model.LoadNamedParameters(named)
}
