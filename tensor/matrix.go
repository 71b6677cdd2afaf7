package tensor

import (
	"fmt"
)

// MatMul computes the 2D matrix product of t1 [m,k] and t2 [k,n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("matmul failed: %v", err)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("matmul only supports Float32 tensors")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("matmul shape mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[1]
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, m*n)

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			row := b[p*n : (p+1)*n]
			outRow := out[i*n : (i+1)*n]
			for j := range row {
				outRow[j] += av * row[j]
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, t1.Device, out)
}

// Transpose swaps the two dimensions of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("transpose only supports Float32 tensors")
	}

	rows, cols := t.Shape[0], t.Shape[1]
	src := t.Data.([]float32)
	out := make([]float32, len(src))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = src[i*cols+j]
		}
	}

	return NewTensor([]int{cols, rows}, Float32, t.Device, out)
}

// Concat joins 2D tensors along dim 1. All inputs must share dim 0.
func Concat(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}

	rows := tensors[0].Shape[0]
	totalCols := 0
	for _, t := range tensors {
		if t.DType != Float32 {
			return nil, fmt.Errorf("concat only supports Float32 tensors")
		}
		if len(t.Shape) != 2 {
			return nil, fmt.Errorf("concat requires 2D tensors, got %v", t.Shape)
		}
		if t.Shape[0] != rows {
			return nil, fmt.Errorf("concat row mismatch: %d vs %d", t.Shape[0], rows)
		}
		totalCols += t.Shape[1]
	}

	out := make([]float32, rows*totalCols)
	colOffset := 0
	for _, t := range tensors {
		cols := t.Shape[1]
		data := t.Data.([]float32)
		for i := 0; i < rows; i++ {
			copy(out[i*totalCols+colOffset:i*totalCols+colOffset+cols], data[i*cols:(i+1)*cols])
		}
		colOffset += cols
	}

	return NewTensor([]int{rows, totalCols}, Float32, tensors[0].Device, out)
}
