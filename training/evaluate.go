package training

import (
	"time"

	"go.uber.org/zap"

	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/summary"
	"github.com/opencil/ciltrain/tensor"
)

// Evaluate runs one pass over the loader without touching gradients or
// the optimizer. It records one summary snapshot per epoch, keyed by
// epoch+1, and returns the averaged uncertainty-weighted loss used for
// best-model comparison.
func Evaluate(model *nn.FinalNet, loader Loader, criterion *Criterion,
	writer summary.Writer, log *zap.Logger, epoch int, device tensor.DeviceType) (float64, error) {

	batchTime := NewAverageMeter()
	uncertainLosses := NewAverageMeter()
	oriLosses := NewAverageMeter()
	controlUncertainties := NewAverageMeter()
	speedUncertainties := NewAverageMeter()

	model.Eval()
	numBatches := loader.Len()
	end := time.Now()

	for i := 0; i < numBatches; i++ {
		batch, err := loader.Batch(i)
		if err != nil {
			return 0, err
		}
		if err := batch.ToDevice(device); err != nil {
			return 0, err
		}

		out, err := model.Forward(batch.Images, batch.Speeds)
		if err != nil {
			return 0, err
		}

		res, err := criterion.ComputeEval(detachOutput(out), batch)
		if err != nil {
			return 0, err
		}

		n := batch.Size()
		uncertainLosses.Update(res.UncertainLoss, n)
		oriLosses.Update(res.OriLoss, n)
		controlUncertainties.Update(res.ControlUncertainty, n)
		speedUncertainties.Update(res.SpeedUncertainty, n)

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()
	}

	writer.AddScalar("eval/uncertain_loss", uncertainLosses.Avg, epoch+1)
	writer.AddScalar("eval/origin_loss", oriLosses.Avg, epoch+1)
	writer.AddScalar("eval/control_uncertain", controlUncertainties.Avg, epoch+1)
	writer.AddScalar("eval/speed_uncertain", speedUncertainties.Avg, epoch+1)

	log.Info("evaluation finished",
		zap.Int("epoch", epoch+1),
		zap.Float64("batch_time", batchTime.Avg),
		zap.Float64("uncertain_loss", uncertainLosses.Avg),
		zap.Float64("origin_loss", oriLosses.Avg),
		zap.Float64("control_uncertain", controlUncertainties.Avg),
		zap.Float64("speed_uncertain", speedUncertainties.Avg))

	return uncertainLosses.Avg, nil
}

// detachOutput drops autograd history so evaluation never tracks
// gradients.
func detachOutput(out *nn.Output) *nn.Output {
	detached := &nn.Output{
		Branches: out.Branches.Detach(),
		Speed:    out.Speed.Detach(),
	}
	if out.LogVarControl != nil {
		detached.LogVarControl = out.LogVarControl.Detach()
	}
	if out.LogVarSpeed != nil {
		detached.LogVarSpeed = out.LogVarSpeed.Detach()
	}
	return detached
}
