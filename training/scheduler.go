package training

import (
	"fmt"
	"math"

	"github.com/opencil/ciltrain/checkpoints"
)

// StepLR decays the optimizer's learning rate by gamma every stepSize
// steps: lr = baseLR * gamma^(lastEpoch / stepSize).
//
// The orchestrator advances it once before each training epoch, so the
// first epoch already runs on the second schedule value. That matches
// the runs the saved models came from and is kept as is.
type StepLR struct {
	optimizer Optimizer
	baseLR    float64
	stepSize  int
	gamma     float64
	lastEpoch int
}

func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) (*StepLR, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("gamma must be positive, got %v", gamma)
	}
	return &StepLR{
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
		stepSize:  stepSize,
		gamma:     gamma,
	}, nil
}

// LR returns the learning rate for the current schedule position.
func (s *StepLR) LR() float64 {
	return s.baseLR * math.Pow(s.gamma, float64(s.lastEpoch/s.stepSize))
}

// Step advances the schedule by one epoch and applies the new rate.
func (s *StepLR) Step() {
	s.lastEpoch++
	s.optimizer.SetLR(s.LR())
}

func (s *StepLR) LastEpoch() int {
	return s.lastEpoch
}

func (s *StepLR) State() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{
		LastEpoch: s.lastEpoch,
		BaseLR:    s.baseLR,
	}
}

func (s *StepLR) LoadState(state *checkpoints.SchedulerState) error {
	if state == nil {
		return fmt.Errorf("scheduler state is nil")
	}
	if state.LastEpoch < 0 {
		return fmt.Errorf("scheduler last epoch must be non-negative, got %d", state.LastEpoch)
	}
	s.lastEpoch = state.LastEpoch
	if state.BaseLR > 0 {
		s.baseLR = state.BaseLR
	}
	s.optimizer.SetLR(s.LR())
	return nil
}
