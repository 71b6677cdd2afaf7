package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencil/ciltrain/tensor"
)

func testOptimizer(t *testing.T, lr float64) *Adam {
	t.Helper()
	p, err := tensor.Zeros([]int{2, 2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	p.SetRequiresGrad(true)

	cfg := DefaultAdamConfig()
	cfg.LearningRate = lr
	opt, err := NewAdam([]*tensor.Tensor{p}, cfg)
	require.NoError(t, err)
	return opt
}

func TestStepLRDecay(t *testing.T) {
	opt := testOptimizer(t, 1.0)
	sched, err := NewStepLR(opt, 2, 0.5)
	require.NoError(t, err)

	// The orchestrator steps before every epoch, so the rate the first
	// epoch trains on is already the value after one step; the first
	// decay lands one epoch early.
	wantByEpoch := []float64{1.0, 0.5, 0.5, 0.25, 0.25, 0.125}
	for epoch, want := range wantByEpoch {
		sched.Step()
		assert.InDelta(t, want, opt.GetLR(), 1e-12, "epoch %d", epoch)
	}
	assert.Equal(t, len(wantByEpoch), sched.LastEpoch())
}

func TestStepLRStateRoundTrip(t *testing.T) {
	opt := testOptimizer(t, 1.0)
	sched, err := NewStepLR(opt, 2, 0.5)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		sched.Step()
	}
	state := sched.State()
	assert.Equal(t, 5, state.LastEpoch)
	assert.Equal(t, 1.0, state.BaseLR)

	restoredOpt := testOptimizer(t, 1.0)
	restored, err := NewStepLR(restoredOpt, 2, 0.5)
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state))

	assert.Equal(t, sched.LastEpoch(), restored.LastEpoch())
	assert.InDelta(t, opt.GetLR(), restoredOpt.GetLR(), 1e-12)

	restored.Step()
	sched.Step()
	assert.InDelta(t, opt.GetLR(), restoredOpt.GetLR(), 1e-12)
}

func TestStepLRRejectsBadConfig(t *testing.T) {
	opt := testOptimizer(t, 1.0)

	_, err := NewStepLR(opt, 0, 0.5)
	assert.Error(t, err)
	_, err = NewStepLR(opt, 2, 0)
	assert.Error(t, err)
}
