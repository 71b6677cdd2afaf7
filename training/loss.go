package training

import (
	"fmt"

	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/tensor"
)

// LossMode selects how the multi-task driving loss is computed.
type LossMode int

const (
	// LossModeSimple is plain masked squared error over the branch
	// controls plus squared error over the predicted speed.
	LossModeSimple LossMode = iota + 1
	// LossModeUncertainty weights each squared error by the learned
	// per-output precision and adds the log-variance regularizer.
	LossModeUncertainty
)

func (m LossMode) String() string {
	switch m {
	case LossModeSimple:
		return "simple"
	case LossModeUncertainty:
		return "uncertainty"
	default:
		return "unknown"
	}
}

// Diagnostics are detached quantities recorded next to the training
// loss. They never carry gradients.
type Diagnostics struct {
	OriLoss            float64
	ControlUncertainty float64
	SpeedUncertainty   float64
}

// LossResult is the outcome of one training-side loss evaluation.
// Total stays on the autograd graph so the caller can backpropagate;
// the scalar fields feed the meters.
type LossResult struct {
	Total      *tensor.Tensor
	BranchLoss float64
	SpeedLoss  float64
	TotalLoss  float64
	Diag       *Diagnostics
}

// EvalResult is the outcome of one evaluation-side loss computation.
type EvalResult struct {
	UncertainLoss      float64
	OriLoss            float64
	ControlUncertainty float64
	SpeedUncertainty   float64
}

// Criterion computes the multi-task loss for a model output and batch.
// It is a pure function of its inputs: no meters, no summaries, no
// mutation.
type Criterion struct {
	Mode         LossMode
	BranchWeight float64
	SpeedWeight  float64
}

func NewCriterion(mode LossMode, branchWeight, speedWeight float64) (*Criterion, error) {
	if mode != LossModeSimple && mode != LossModeUncertainty {
		return nil, fmt.Errorf("unknown loss mode %d", mode)
	}
	if branchWeight < 0 || speedWeight < 0 {
		return nil, fmt.Errorf("loss weights must be non-negative, got branch=%v speed=%v", branchWeight, speedWeight)
	}
	return &Criterion{Mode: mode, BranchWeight: branchWeight, SpeedWeight: speedWeight}, nil
}

func (c *Criterion) validate(out *nn.Output, batch *Batch, wantUncertainty bool) error {
	if out == nil || out.Branches == nil || out.Speed == nil {
		return fmt.Errorf("model output is incomplete")
	}
	if wantUncertainty && !out.HasUncertainty() {
		return fmt.Errorf("%s loss requires log-variance outputs", LossModeUncertainty)
	}
	if !wantUncertainty && out.HasUncertainty() {
		return fmt.Errorf("%s loss got log-variance outputs", LossModeSimple)
	}

	rows := batch.Images.Shape[0]
	if out.Branches.Shape[0] != rows || out.Branches.Shape[1] != nn.BranchOutputDim {
		return fmt.Errorf("branch output must be [%d, %d], got %v", rows, nn.BranchOutputDim, out.Branches.Shape)
	}
	if out.Speed.Shape[0] != rows || out.Speed.Shape[1] != 1 {
		return fmt.Errorf("speed output must be [%d, 1], got %v", rows, out.Speed.Shape)
	}
	if wantUncertainty {
		if out.LogVarControl.Shape[0] != rows || out.LogVarControl.Shape[1] != nn.BranchOutputDim {
			return fmt.Errorf("control log variance must be [%d, %d], got %v", rows, nn.BranchOutputDim, out.LogVarControl.Shape)
		}
		if out.LogVarSpeed.Shape[0] != rows || out.LogVarSpeed.Shape[1] != 1 {
			return fmt.Errorf("speed log variance must be [%d, 1], got %v", rows, out.LogVarSpeed.Shape)
		}
	}
	return nil
}

// Compute evaluates the training-side loss on the autograd graph.
func (c *Criterion) Compute(out *nn.Output, batch *Batch) (*LossResult, error) {
	if err := c.validate(out, batch, c.Mode == LossModeUncertainty); err != nil {
		return nil, err
	}
	if c.Mode == LossModeSimple {
		return c.computeSimple(out, batch)
	}
	return c.computeUncertainty(out, batch)
}

func (c *Criterion) computeSimple(out *nn.Output, batch *Batch) (*LossResult, error) {
	maskedDiff := tensor.SubAutograd(tensor.MulAutograd(out.Branches, batch.Masks), batch.Targets)
	branchLoss := tensor.ScaleAutograd(
		tensor.MeanAutograd(tensor.MulAutograd(maskedDiff, maskedDiff)), 4)

	speedDiff := tensor.SubAutograd(out.Speed, batch.Speeds)
	speedLoss := tensor.MeanAutograd(tensor.MulAutograd(speedDiff, speedDiff))

	total := tensor.AddAutograd(
		tensor.ScaleAutograd(branchLoss, c.BranchWeight),
		tensor.ScaleAutograd(speedLoss, c.SpeedWeight))

	return newLossResult(total, branchLoss, speedLoss, nil)
}

func (c *Criterion) computeUncertainty(out *nn.Output, batch *Batch) (*LossResult, error) {
	branchDiff := tensor.SubAutograd(out.Branches, batch.Targets)
	branchSquare := tensor.MulAutograd(branchDiff, branchDiff)

	// The branch regularizer reads the speed log variance. That is how
	// the trained models were produced, so it stays.
	precision := tensor.ExpAutograd(tensor.ScaleAutograd(out.LogVarControl, -1))
	branchTerm := tensor.AddAutograd(tensor.MulAutograd(precision, branchSquare), out.LogVarSpeed)
	branchLoss := tensor.ScaleAutograd(
		tensor.MeanAutograd(tensor.MulAutograd(tensor.ScaleAutograd(branchTerm, 0.5), batch.Masks)), 4)

	speedDiff := tensor.SubAutograd(out.Speed, batch.Speeds)
	speedSquare := tensor.MulAutograd(speedDiff, speedDiff)
	speedPrecision := tensor.ExpAutograd(tensor.ScaleAutograd(out.LogVarSpeed, -1))
	speedTerm := tensor.AddAutograd(tensor.MulAutograd(speedPrecision, speedSquare), out.LogVarSpeed)
	speedLoss := tensor.MeanAutograd(tensor.ScaleAutograd(speedTerm, 0.5))

	total := tensor.AddAutograd(
		tensor.ScaleAutograd(branchLoss, c.BranchWeight),
		tensor.ScaleAutograd(speedLoss, c.SpeedWeight))

	diag, err := c.diagnostics(out, batch, branchSquare.Detach(), speedSquare.Detach())
	if err != nil {
		return nil, err
	}
	return newLossResult(total, branchLoss, speedLoss, diag)
}

// diagnostics computes the detached training-side quantities: the
// unweighted squared-error loss and the mean predicted variances.
func (c *Criterion) diagnostics(out *nn.Output, batch *Batch, branchSquare, speedSquare *tensor.Tensor) (*Diagnostics, error) {
	maskedSq, err := tensor.Mul(branchSquare, batch.Masks)
	if err != nil {
		return nil, err
	}
	oriBranch, err := meanScaled(maskedSq, 4)
	if err != nil {
		return nil, err
	}
	oriSpeed, err := meanScaled(speedSquare, 1)
	if err != nil {
		return nil, err
	}

	controlVar, err := tensor.Exp(out.LogVarControl.Detach())
	if err != nil {
		return nil, err
	}
	maskedVar, err := tensor.Mul(controlVar, batch.Masks)
	if err != nil {
		return nil, err
	}
	controlUncertainty, err := meanScaled(maskedVar, 4)
	if err != nil {
		return nil, err
	}

	speedVar, err := tensor.Exp(out.LogVarSpeed.Detach())
	if err != nil {
		return nil, err
	}
	speedUncertainty, err := meanScaled(speedVar, 1)
	if err != nil {
		return nil, err
	}

	return &Diagnostics{
		OriLoss:            c.BranchWeight*oriBranch + c.SpeedWeight*oriSpeed,
		ControlUncertainty: controlUncertainty,
		SpeedUncertainty:   speedUncertainty,
	}, nil
}

// ComputeEval evaluates the evaluation-side loss. It always expects the
// four-output signature, and the branch regularizer reads the control
// log variance here. Callers pass detached outputs; nothing is
// backpropagated.
func (c *Criterion) ComputeEval(out *nn.Output, batch *Batch) (*EvalResult, error) {
	if err := c.validate(out, batch, true); err != nil {
		return nil, err
	}

	branchDiff := tensor.SubAutograd(out.Branches, batch.Targets)
	branchSquare := tensor.MulAutograd(branchDiff, branchDiff)
	precision := tensor.ExpAutograd(tensor.ScaleAutograd(out.LogVarControl, -1))
	branchTerm := tensor.AddAutograd(tensor.MulAutograd(precision, branchSquare), out.LogVarControl)
	branchLoss := tensor.ScaleAutograd(
		tensor.MeanAutograd(tensor.MulAutograd(tensor.ScaleAutograd(branchTerm, 0.5), batch.Masks)), 4)

	speedDiff := tensor.SubAutograd(out.Speed, batch.Speeds)
	speedSquare := tensor.MulAutograd(speedDiff, speedDiff)
	speedPrecision := tensor.ExpAutograd(tensor.ScaleAutograd(out.LogVarSpeed, -1))
	speedTerm := tensor.AddAutograd(tensor.MulAutograd(speedPrecision, speedSquare), out.LogVarSpeed)
	speedLoss := tensor.MeanAutograd(tensor.ScaleAutograd(speedTerm, 0.5))

	branchVal, err := branchLoss.Item()
	if err != nil {
		return nil, err
	}
	speedVal, err := speedLoss.Item()
	if err != nil {
		return nil, err
	}

	// The squared-error reference here masks the prediction first, the
	// same form the simple loss trains on.
	maskedDiff := tensor.SubAutograd(tensor.MulAutograd(out.Branches, batch.Masks), batch.Targets)
	oriBranch, err := meanScaled(tensor.MulAutograd(maskedDiff, maskedDiff), 4)
	if err != nil {
		return nil, err
	}
	oriSpeed, err := meanScaled(speedSquare, 1)
	if err != nil {
		return nil, err
	}

	controlVar, err := tensor.Exp(out.LogVarControl)
	if err != nil {
		return nil, err
	}
	maskedVar, err := tensor.Mul(controlVar, batch.Masks)
	if err != nil {
		return nil, err
	}
	controlUncertainty, err := meanScaled(maskedVar, 4)
	if err != nil {
		return nil, err
	}
	speedVar, err := tensor.Exp(out.LogVarSpeed)
	if err != nil {
		return nil, err
	}
	speedUncertainty, err := meanScaled(speedVar, 1)
	if err != nil {
		return nil, err
	}

	return &EvalResult{
		UncertainLoss:      c.BranchWeight*branchVal + c.SpeedWeight*speedVal,
		OriLoss:            c.BranchWeight*oriBranch + c.SpeedWeight*oriSpeed,
		ControlUncertainty: controlUncertainty,
		SpeedUncertainty:   speedUncertainty,
	}, nil
}

func newLossResult(total, branchLoss, speedLoss *tensor.Tensor, diag *Diagnostics) (*LossResult, error) {
	totalVal, err := total.Item()
	if err != nil {
		return nil, err
	}
	branchVal, err := branchLoss.Item()
	if err != nil {
		return nil, err
	}
	speedVal, err := speedLoss.Item()
	if err != nil {
		return nil, err
	}
	return &LossResult{
		Total:      total,
		BranchLoss: branchVal,
		SpeedLoss:  speedVal,
		TotalLoss:  totalVal,
		Diag:       diag,
	}, nil
}

func meanScaled(t *tensor.Tensor, factor float64) (float64, error) {
	mean, err := tensor.MeanAll(t)
	if err != nil {
		return 0, err
	}
	v, err := mean.Item()
	if err != nil {
		return 0, err
	}
	return v * factor, nil
}
