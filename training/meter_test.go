package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAverageMeter(t *testing.T) {
	m := NewAverageMeter()

	m.Update(2, 1)
	assert.Equal(t, 2.0, m.Val)
	assert.Equal(t, 2.0, m.Avg)

	m.Update(4, 3)
	assert.Equal(t, 4.0, m.Val)
	assert.Equal(t, 14.0, m.Sum)
	assert.Equal(t, 4, m.Count)
	// (2*1 + 4*3) / 4
	assert.InDelta(t, 3.5, m.Avg, 1e-12)
}

func TestAverageMeterWeightedIdentity(t *testing.T) {
	values := []float64{1.5, -2, 0.25, 10}
	weights := []int{2, 5, 1, 8}

	m := NewAverageMeter()
	var sum float64
	var count int
	for i, v := range values {
		m.Update(v, weights[i])
		sum += v * float64(weights[i])
		count += weights[i]
	}

	assert.InDelta(t, sum/float64(count), m.Avg, 1e-12)
	assert.Equal(t, values[len(values)-1], m.Val)
}

func TestAverageMeterReset(t *testing.T) {
	m := NewAverageMeter()
	m.Update(5, 2)
	m.Reset()

	assert.Zero(t, m.Val)
	assert.Zero(t, m.Sum)
	assert.Zero(t, m.Count)
	assert.Zero(t, m.Avg)
}
