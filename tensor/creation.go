package tensor

import (
	"fmt"
	"math/rand"
	"sync"
)

// NewTensor creates a tensor from existing data. The data slice must
// match the dtype and the number of elements implied by the shape.
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if device != CPU {
		return nil, fmt.Errorf("unsupported device: %s", device)
	}

	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("data must be []float32 for Float32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("data must be []int32 for Int32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, device, make([]float32, numElems))
	case Int32:
		return NewTensor(shape, dtype, device, make([]int32, numElems))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		data := make([]float32, numElems)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, device, data)
	case Int32:
		data := make([]int32, numElems)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, device, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Full creates a Float32 tensor filled with the given value.
func Full(shape []int, value float32, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, Float32, device, data)
}

// FromScalar creates a single-element Float32 tensor.
func FromScalar(value float64, device DeviceType) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, device, []float32{float32(value)})
	return t
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(1))
)

// SetSeed reseeds the source used for random tensor initialization.
func SetSeed(seed int64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	rng = rand.New(rand.NewSource(seed))
}

// RandomNormal creates a Float32 tensor with normally distributed values.
func RandomNormal(shape []int, mean, std float32, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)

	rngMu.Lock()
	for i := range data {
		data[i] = mean + std*float32(rng.NormFloat64())
	}
	rngMu.Unlock()

	return NewTensor(shape, Float32, device, data)
}

// RandomUniform creates a Float32 tensor with values uniform in [lo, hi).
func RandomUniform(shape []int, lo, hi float32, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)

	rngMu.Lock()
	for i := range data {
		data[i] = lo + (hi-lo)*rng.Float32()
	}
	rngMu.Unlock()

	return NewTensor(shape, Float32, device, data)
}

// RandFloat64 draws from the package random source. It exists so layers
// that need per-element coin flips (dropout) share the seeded source.
func RandFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}
