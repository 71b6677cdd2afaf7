// Package training implements the epoch-level training and evaluation
// loop for the conditional imitation driving policy: the multi-task
// uncertainty loss, optimizers, the step-decay schedule, batching and
// the orchestrator that ties them to checkpoints and summaries.
package training

// AverageMeter tracks a running weighted average of a scalar series.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

func NewAverageMeter() *AverageMeter {
	return &AverageMeter{}
}

func (m *AverageMeter) Reset() {
	m.Val = 0
	m.Sum = 0
	m.Count = 0
	m.Avg = 0
}

// Update records one observation with weight n. Callers never pass
// n <= 0.
func (m *AverageMeter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	m.Avg = m.Sum / float64(m.Count)
}
