package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tt, err := NewTensor(shape, Float32, CPU, data)
	require.NoError(t, err)
	return tt
}

func TestElementwiseOps(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b *Tensor) (*Tensor, error)
		a    []float32
		b    []float32
		want []float32
	}{
		{"add", Add, []float32{1, 2, 3, 4}, []float32{10, 20, 30, 40}, []float32{11, 22, 33, 44}},
		{"sub", Sub, []float32{5, 5, 5, 5}, []float32{1, 2, 3, 4}, []float32{4, 3, 2, 1}},
		{"mul", Mul, []float32{1, 2, 3, 4}, []float32{2, 2, 2, 2}, []float32{2, 4, 6, 8}},
		{"div", Div, []float32{2, 4, 6, 8}, []float32{2, 2, 2, 2}, []float32{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustTensor(t, []int{2, 2}, tt.a)
			b := mustTensor(t, []int{2, 2}, tt.b)
			got, err := tt.op(a, b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Data.([]float32))
		})
	}
}

func TestBroadcastAdd(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustTensor(t, []int{2, 1}, []float32{10, 20})

	got, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.Equal(t, []float32{11, 12, 13, 24, 25, 26}, got.Data.([]float32))
}

func TestBroadcastShapeMismatch(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, make([]float32, 6))
	b := mustTensor(t, []int{2, 2}, make([]float32, 4))

	_, err := Add(a, b)
	assert.Error(t, err)
}

func TestExpScale(t *testing.T) {
	a := mustTensor(t, []int{1, 2}, []float32{0, 1})

	e, err := Exp(a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(e.Data.([]float32)[0]), 1e-6)
	assert.InDelta(t, 2.7182817, float64(e.Data.([]float32)[1]), 1e-6)

	s, err := Scale(a, -2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, -2}, s.Data.([]float32))
}

func TestReductions(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	sum, err := SumAll(a)
	require.NoError(t, err)
	v, err := sum.Item()
	require.NoError(t, err)
	assert.Equal(t, 21.0, v)

	mean, err := MeanAll(a)
	require.NoError(t, err)
	v, err = mean.Item()
	require.NoError(t, err)
	assert.InDelta(t, 3.5, v, 1e-6)

	byCol, err := Sum(a, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, byCol.Shape)
	assert.Equal(t, []float32{5, 7, 9}, byCol.Data.([]float32))
}

func TestMatMul(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustTensor(t, []int{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	got, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, got.Shape)
	assert.Equal(t, []float32{58, 64, 139, 154}, got.Data.([]float32))

	_, err = MatMul(a, a)
	assert.Error(t, err)
}

func TestReshape(t *testing.T) {
	a := mustTensor(t, []int{2, 6}, make([]float32, 12))

	r, err := a.Reshape([]int{3, -1})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, r.Shape)

	_, err = a.Reshape([]int{5, 5})
	assert.Error(t, err)
}
