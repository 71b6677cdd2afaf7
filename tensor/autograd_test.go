package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tt := mustTensor(t, shape, data)
	tt.SetRequiresGrad(true)
	return tt
}

func TestBackwardRequiresScalar(t *testing.T) {
	a := leafTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	assert.Error(t, a.Backward())
}

func TestMeanBackward(t *testing.T) {
	a := leafTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})

	loss := MeanAutograd(a)
	require.NoError(t, loss.Backward())

	grad := a.Grad()
	require.NotNil(t, grad)
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.25}, grad.Data.([]float32))
}

func TestSquareBackward(t *testing.T) {
	// d mean(x*x) / dx = 2x/n
	a := leafTensor(t, []int{1, 4}, []float32{1, 2, 3, 4})

	loss := MeanAutograd(MulAutograd(a, a))
	require.NoError(t, loss.Backward())

	grad := a.Grad()
	require.NotNil(t, grad)
	assert.InDeltaSlice(t, []float32{0.5, 1, 1.5, 2}, grad.Data.([]float32), 1e-6)
}

func TestBroadcastAddBackward(t *testing.T) {
	// The [2,1] input's gradient sums over the broadcast columns.
	a := leafTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := leafTensor(t, []int{2, 1}, []float32{10, 20})

	loss := MeanAutograd(AddAutograd(a, b))
	require.NoError(t, loss.Backward())

	gradB := b.Grad()
	require.NotNil(t, gradB)
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, gradB.Data.([]float32), 1e-6)
}

func TestExpBackward(t *testing.T) {
	a := leafTensor(t, []int{1, 2}, []float32{0, 1})

	loss := MeanAutograd(ExpAutograd(a))
	require.NoError(t, loss.Backward())

	grad := a.Grad()
	require.NotNil(t, grad)
	// d mean(e^x)/dx = e^x / n
	assert.InDelta(t, 0.5, float64(grad.Data.([]float32)[0]), 1e-6)
	assert.InDelta(t, 2.7182817/2, float64(grad.Data.([]float32)[1]), 1e-5)
}

func TestMatMulBackward(t *testing.T) {
	a := leafTensor(t, []int{1, 2}, []float32{1, 2})
	b := leafTensor(t, []int{2, 1}, []float32{3, 4})

	loss := MeanAutograd(MatMulAutograd(a, b))
	require.NoError(t, loss.Backward())

	gradA := a.Grad()
	require.NotNil(t, gradA)
	assert.InDeltaSlice(t, []float32{3, 4}, gradA.Data.([]float32), 1e-6)

	gradB := b.Grad()
	require.NotNil(t, gradB)
	assert.InDeltaSlice(t, []float32{1, 2}, gradB.Data.([]float32), 1e-6)
}

func TestConcatBackwardSplitsColumns(t *testing.T) {
	a := leafTensor(t, []int{1, 2}, []float32{1, 2})
	b := leafTensor(t, []int{1, 3}, []float32{3, 4, 5})

	joined := ConcatAutograd(a, b)
	require.Equal(t, []int{1, 5}, joined.Shape)

	loss := MeanAutograd(joined)
	require.NoError(t, loss.Backward())

	require.NotNil(t, a.Grad())
	require.NotNil(t, b.Grad())
	assert.InDeltaSlice(t, []float32{0.2, 0.2}, a.Grad().Data.([]float32), 1e-6)
	assert.InDeltaSlice(t, []float32{0.2, 0.2, 0.2}, b.Grad().Data.([]float32), 1e-6)
}

func TestGradAccumulationAndZeroGrad(t *testing.T) {
	a := leafTensor(t, []int{1, 2}, []float32{1, 2})

	loss := MeanAutograd(a)
	require.NoError(t, loss.Backward())
	loss2 := MeanAutograd(a)
	require.NoError(t, loss2.Backward())

	assert.InDeltaSlice(t, []float32{1, 1}, a.Grad().Data.([]float32), 1e-6)

	ZeroGrad([]*Tensor{a})
	assert.Equal(t, []float32{0, 0}, a.Grad().Data.([]float32))
}

func TestDetachStopsGradient(t *testing.T) {
	a := leafTensor(t, []int{1, 2}, []float32{1, 2})

	loss := MeanAutograd(a.Detach())
	require.NoError(t, loss.Backward())
	assert.Nil(t, a.Grad())
}
