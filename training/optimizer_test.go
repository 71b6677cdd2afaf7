package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencil/ciltrain/tensor"
)

func TestAdamStepMovesAgainstGradient(t *testing.T) {
	p := mustT(t, []int{1, 2}, []float32{1, -1})
	p.SetRequiresGrad(true)

	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	opt, err := NewAdam([]*tensor.Tensor{p}, cfg)
	require.NoError(t, err)

	// mean(p*p) pulls both entries toward zero.
	loss := tensor.MeanAutograd(tensor.MulAutograd(p, p))
	require.NoError(t, loss.Backward())
	require.NoError(t, opt.Step())

	data := p.Data.([]float32)
	assert.Less(t, float64(data[0]), 1.0)
	assert.Greater(t, float64(data[1]), -1.0)
}

func TestAdamSkipsParametersWithoutGradients(t *testing.T) {
	p := mustT(t, []int{1, 2}, []float32{3, 4})
	p.SetRequiresGrad(true)

	opt, err := NewAdam([]*tensor.Tensor{p}, DefaultAdamConfig())
	require.NoError(t, err)
	require.NoError(t, opt.Step())

	assert.Equal(t, []float32{3, 4}, p.Data.([]float32))
}

func TestAdamStateRoundTrip(t *testing.T) {
	step := func(opt *Adam, p *tensor.Tensor) {
		loss := tensor.MeanAutograd(tensor.MulAutograd(p, p))
		require.NoError(t, loss.Backward())
		require.NoError(t, opt.Step())
		opt.ZeroGrad()
	}

	p1 := mustT(t, []int{1, 2}, []float32{1, -1})
	p1.SetRequiresGrad(true)
	opt1, err := NewAdam([]*tensor.Tensor{p1}, DefaultAdamConfig())
	require.NoError(t, err)
	step(opt1, p1)

	state := opt1.State()
	assert.Equal(t, "adam", state.Type)
	assert.Equal(t, int64(1), state.StepCount)
	require.Len(t, state.StateData, 2)

	p2 := mustT(t, []int{1, 2}, []float32{1, -1})
	p2.SetRequiresGrad(true)
	copy(p2.Data.([]float32), p1.Data.([]float32))
	opt2, err := NewAdam([]*tensor.Tensor{p2}, DefaultAdamConfig())
	require.NoError(t, err)
	require.NoError(t, opt2.LoadState(state))

	// Both optimizers must produce identical next steps.
	step(opt1, p1)
	step(opt2, p2)
	assert.InDeltaSlice(t, p1.Data.([]float32), p2.Data.([]float32), 1e-7)
}

func TestAdamRejectsBadConfig(t *testing.T) {
	p := mustT(t, []int{1, 1}, []float32{0})
	p.SetRequiresGrad(true)

	bad := DefaultAdamConfig()
	bad.LearningRate = 0
	_, err := NewAdam([]*tensor.Tensor{p}, bad)
	assert.Error(t, err)

	bad = DefaultAdamConfig()
	bad.Beta1 = 1
	_, err = NewAdam([]*tensor.Tensor{p}, bad)
	assert.Error(t, err)

	_, err = NewAdam(nil, DefaultAdamConfig())
	assert.Error(t, err)
}

func TestSGDStep(t *testing.T) {
	p := mustT(t, []int{1, 2}, []float32{1, -1})
	p.SetRequiresGrad(true)

	opt, err := NewSGD([]*tensor.Tensor{p}, SGDConfig{LearningRate: 0.5})
	require.NoError(t, err)

	loss := tensor.MeanAutograd(tensor.MulAutograd(p, p))
	require.NoError(t, loss.Backward())
	require.NoError(t, opt.Step())

	// grad = 2p/2 = p, update = p - 0.5p
	assert.InDeltaSlice(t, []float32{0.5, -0.5}, p.Data.([]float32), 1e-6)
}
