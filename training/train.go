package training

import (
	"time"

	"go.uber.org/zap"

	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/summary"
	"github.com/opencil/ciltrain/tensor"
)

// EpochStats holds the averaged losses of one training epoch.
type EpochStats struct {
	BranchLoss float64
	SpeedLoss  float64
	TotalLoss  float64
}

// TrainEpoch runs one optimization pass over the loader. Every
// printFreq-th batch and the last batch emit a summary snapshot keyed
// by the global step epoch*len(loader)+i, plus a progress log line.
func TrainEpoch(model *nn.FinalNet, loader Loader, criterion *Criterion, optimizer Optimizer,
	writer summary.Writer, log *zap.Logger, epoch, printFreq int, device tensor.DeviceType) (*EpochStats, error) {

	batchTime := NewAverageMeter()
	dataTime := NewAverageMeter()
	totalLosses := NewAverageMeter()
	oriLosses := NewAverageMeter()
	branchLosses := NewAverageMeter()
	speedLosses := NewAverageMeter()
	controlUncertainties := NewAverageMeter()
	speedUncertainties := NewAverageMeter()

	model.Train()
	numBatches := loader.Len()
	step := epoch * numBatches
	end := time.Now()

	for i := 0; i < numBatches; i++ {
		batch, err := loader.Batch(i)
		if err != nil {
			return nil, err
		}
		dataTime.Update(time.Since(end).Seconds(), 1)

		if err := batch.ToDevice(device); err != nil {
			return nil, err
		}

		out, err := model.Forward(batch.Images, batch.Speeds)
		if err != nil {
			return nil, err
		}
		res, err := criterion.Compute(out, batch)
		if err != nil {
			return nil, err
		}

		n := batch.Size()
		totalLosses.Update(res.TotalLoss, n)
		branchLosses.Update(res.BranchLoss, n)
		speedLosses.Update(res.SpeedLoss, n)
		if res.Diag != nil {
			oriLosses.Update(res.Diag.OriLoss, n)
			controlUncertainties.Update(res.Diag.ControlUncertainty, n)
			speedUncertainties.Update(res.Diag.SpeedUncertainty, n)
		}

		optimizer.ZeroGrad()
		if err := res.Total.Backward(); err != nil {
			return nil, err
		}
		if err := optimizer.Step(); err != nil {
			return nil, err
		}

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()

		if i%printFreq == 0 || i+1 == numBatches {
			writer.AddScalar("train/branch_loss", branchLosses.Val, step+i)
			writer.AddScalar("train/speed_loss", speedLosses.Val, step+i)
			writer.AddScalar("train/uncertain_loss", totalLosses.Val, step+i)
			writer.AddScalar("train/ori_loss", oriLosses.Val, step+i)
			writer.AddScalar("train/control_uncertain", controlUncertainties.Val, step+i)
			writer.AddScalar("train/speed_uncertain", speedUncertainties.Val, step+i)

			log.Info("train progress",
				zap.Int("epoch", epoch+1),
				zap.Int("batch", i),
				zap.Int("batches", numBatches),
				zap.Float64("batch_time", batchTime.Val),
				zap.Float64("data_time", dataTime.Val),
				zap.Float64("branch_loss", branchLosses.Avg),
				zap.Float64("speed_loss", speedLosses.Avg),
				zap.Float64("uncertain_loss", totalLosses.Avg),
				zap.Float64("ori_loss", oriLosses.Avg),
				zap.Float64("control_uncertain", controlUncertainties.Avg),
				zap.Float64("speed_uncertain", speedUncertainties.Avg))
		}
	}

	return &EpochStats{
		BranchLoss: branchLosses.Avg,
		SpeedLoss:  speedLosses.Avg,
		TotalLoss:  totalLosses.Avg,
	}, nil
}
