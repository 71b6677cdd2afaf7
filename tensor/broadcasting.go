package tensor

import (
	"fmt"
)

// BroadcastShapes computes the result shape of broadcasting two shapes
// following the usual trailing-dimension rules.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxLen := len(shape1)
	if len(shape2) > maxLen {
		maxLen = len(shape2)
	}

	result := make([]int, maxLen)
	for i := 0; i < maxLen; i++ {
		d1, d2 := 1, 1
		if i < len(shape1) {
			d1 = shape1[len(shape1)-1-i]
		}
		if i < len(shape2) {
			d2 = shape2[len(shape2)-1-i]
		}

		switch {
		case d1 == d2:
			result[maxLen-1-i] = d1
		case d1 == 1:
			result[maxLen-1-i] = d2
		case d2 == 1:
			result[maxLen-1-i] = d1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}

	return result, nil
}

// AreBroadcastable reports whether two shapes can be broadcast together.
func AreBroadcastable(shape1, shape2 []int) bool {
	_, err := BroadcastShapes(shape1, shape2)
	return err == nil
}

// BroadcastTensor materializes t expanded to targetShape.
func BroadcastTensor(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t.Clone()
	}

	if !AreBroadcastable(t.Shape, targetShape) {
		return nil, fmt.Errorf("cannot broadcast shape %v to %v", t.Shape, targetShape)
	}
	combined, err := BroadcastShapes(t.Shape, targetShape)
	if err != nil {
		return nil, err
	}
	if !shapesEqual(combined, targetShape) {
		return nil, fmt.Errorf("cannot broadcast shape %v to %v", t.Shape, targetShape)
	}

	result, err := Zeros(targetShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	// Pad the source shape with leading ones to the target rank.
	srcShape := make([]int, len(targetShape))
	for i := range srcShape {
		srcShape[i] = 1
	}
	copy(srcShape[len(targetShape)-len(t.Shape):], t.Shape)
	srcStrides := calculateStrides(srcShape)

	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := result.Data.([]float32)
		for i := 0; i < result.NumElems; i++ {
			coords := indexToCoords(i, targetShape)
			srcIdx := 0
			for d, c := range coords {
				if srcShape[d] != 1 {
					srcIdx += c * srcStrides[d]
				}
			}
			dst[i] = src[srcIdx]
		}
	case Int32:
		src := t.Data.([]int32)
		dst := result.Data.([]int32)
		for i := 0; i < result.NumElems; i++ {
			coords := indexToCoords(i, targetShape)
			srcIdx := 0
			for d, c := range coords {
				if srcShape[d] != 1 {
					srcIdx += c * srcStrides[d]
				}
			}
			dst[i] = src[srcIdx]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for broadcast: %s", t.DType)
	}

	return result, nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

func indexToCoords(index int, shape []int) []int {
	coords := make([]int, len(shape))
	remaining := index
	for i := len(shape) - 1; i >= 0; i-- {
		coords[i] = remaining % shape[i]
		remaining /= shape[i]
	}
	return coords
}

func coordsToIndex(coords []int, strides []int) int {
	index := 0
	for i, coord := range coords {
		index += coord * strides[i]
	}
	return index
}
