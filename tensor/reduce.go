package tensor

import (
	"fmt"
)

// SumAll sums every element into a single-element tensor.
func SumAll(t *Tensor) (*Tensor, error) {
	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		var sum float32
		for _, v := range data {
			sum += v
		}
		return NewTensor([]int{1}, Float32, t.Device, []float32{sum})
	case Int32:
		data := t.Data.([]int32)
		var sum int32
		for _, v := range data {
			sum += v
		}
		return NewTensor([]int{1}, Int32, t.Device, []int32{sum})
	default:
		return nil, fmt.Errorf("unsupported dtype for sum: %s", t.DType)
	}
}

// MeanAll averages every element into a single-element tensor.
func MeanAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("mean only supports Float32 tensors")
	}
	if t.NumElems == 0 {
		return nil, fmt.Errorf("mean of empty tensor")
	}

	sum, err := SumAll(t)
	if err != nil {
		return nil, err
	}
	return Scale(sum, 1.0/float64(t.NumElems))
}

// Sum reduces over a single dimension, dropping it from the shape.
func Sum(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for tensor with %d dimensions", dim, len(t.Shape))
	}

	outputShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			outputShape = append(outputShape, size)
		}
	}
	if len(outputShape) == 0 {
		return SumAll(t)
	}

	result, err := Zeros(outputShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	inputStrides := calculateStrides(t.Shape)

	switch t.DType {
	case Float32:
		inputData := t.Data.([]float32)
		outputData := result.Data.([]float32)
		for outputIdx := 0; outputIdx < result.NumElems; outputIdx++ {
			outputCoords := indexToCoords(outputIdx, outputShape)
			inputCoords := make([]int, len(t.Shape))
			outputDim := 0
			for inputDim := 0; inputDim < len(t.Shape); inputDim++ {
				if inputDim != dim {
					inputCoords[inputDim] = outputCoords[outputDim]
					outputDim++
				}
			}

			var sum float32
			for k := 0; k < t.Shape[dim]; k++ {
				inputCoords[dim] = k
				sum += inputData[coordsToIndex(inputCoords, inputStrides)]
			}
			outputData[outputIdx] = sum
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for sum: %s", t.DType)
	}

	return result, nil
}
