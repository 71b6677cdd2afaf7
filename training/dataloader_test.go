package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/tensor"
)

func makeSamples(n, imageDim int) []*Sample {
	samples := make([]*Sample, n)
	for i := range samples {
		img := make([]float32, imageDim)
		for j := range img {
			img[j] = float32(i) * 0.1
		}
		target := make([]float32, nn.BranchOutputDim)
		target[0] = float32(i) * 0.1
		mask := make([]float32, nn.BranchOutputDim)
		mask[0], mask[1], mask[2] = 1, 1, 1
		samples[i] = &Sample{Image: img, Speed: float32(i), Target: target, Mask: mask}
	}
	return samples
}

func TestDataLoaderEnumerationOrder(t *testing.T) {
	const imageDim = 4
	loader, err := NewDataLoader(NewSliceDataset(makeSamples(7, imageDim)), 3, imageDim, tensor.CPU)
	require.NoError(t, err)

	assert.Equal(t, 3, loader.Len())

	next := float32(0)
	sizes := []int{3, 3, 1}
	for i := 0; i < loader.Len(); i++ {
		batch, err := loader.Batch(i)
		require.NoError(t, err)
		assert.Equal(t, sizes[i], batch.Size(), "batch %d", i)

		speeds, err := batch.Speeds.GetFloat32Data()
		require.NoError(t, err)
		for _, s := range speeds {
			assert.Equal(t, next, s)
			next++
		}
	}

	_, err = loader.Batch(3)
	assert.Error(t, err)
}

func TestDataLoaderRejectsMalformedSamples(t *testing.T) {
	const imageDim = 4
	samples := makeSamples(2, imageDim)
	samples[1].Target = samples[1].Target[:5]

	loader, err := NewDataLoader(NewSliceDataset(samples), 2, imageDim, tensor.CPU)
	require.NoError(t, err)

	_, err = loader.Batch(0)
	assert.Error(t, err)
}

func TestBatchValidateMaskInvariant(t *testing.T) {
	const imageDim = 4
	mk := func(mutate func(*Batch)) error {
		loader, err := NewDataLoader(NewSliceDataset(makeSamples(2, imageDim)), 2, imageDim, tensor.CPU)
		require.NoError(t, err)
		batch, err := loader.Batch(0)
		require.NoError(t, err)
		mutate(batch)
		return batch.Validate()
	}

	assert.NoError(t, mk(func(*Batch) {}))

	// Non-binary mask entry.
	err := mk(func(b *Batch) {
		b.Masks.Data.([]float32)[0] = 0.5
	})
	assert.Error(t, err)

	// Leading-dimension mismatch.
	err = mk(func(b *Batch) {
		short, terr := tensor.Zeros([]int{1, nn.BranchOutputDim}, tensor.Float32, tensor.CPU)
		require.NoError(t, terr)
		b.Masks = short
	})
	assert.Error(t, err)
}

func TestLoadJSONDataset(t *testing.T) {
	_, err := LoadJSONDataset("no/such/file.json")
	assert.Error(t, err)
}
