package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("device mismatch: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

// binaryOp applies fn elementwise over two tensors, broadcasting as
// needed. Only Float32 binary arithmetic is supported.
func binaryOp(t1, t2 *Tensor, name string, fn func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("%s failed: %v", name, err)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 tensors", name)
	}

	outShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %v", name, err)
	}

	a := t1
	b := t2
	if !shapesEqual(t1.Shape, outShape) {
		if a, err = BroadcastTensor(t1, outShape); err != nil {
			return nil, fmt.Errorf("%s failed: %v", name, err)
		}
	}
	if !shapesEqual(t2.Shape, outShape) {
		if b, err = BroadcastTensor(t2, outShape); err != nil {
			return nil, fmt.Errorf("%s failed: %v", name, err)
		}
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, len(aData))
	for i := range result {
		result[i] = fn(aData[i], bData[i])
	}

	return NewTensor(outShape, Float32, t1.Device, result)
}

// Add returns t1 + t2 elementwise with broadcasting.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "add", func(a, b float32) float32 { return a + b })
}

// Sub returns t1 - t2 elementwise with broadcasting.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "sub", func(a, b float32) float32 { return a - b })
}

// Mul returns t1 * t2 elementwise with broadcasting.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "mul", func(a, b float32) float32 { return a * b })
}

// Div returns t1 / t2 elementwise with broadcasting.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "div", func(a, b float32) float32 { return a / b })
}

func unaryOp(t *Tensor, name string, fn func(v float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 tensors", name)
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, v := range data {
		result[i] = fn(v)
	}

	return NewTensor(t.Shape, Float32, t.Device, result)
}

// Exp returns e^t elementwise.
func Exp(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "exp", func(v float32) float32 {
		return float32(math.Exp(float64(v)))
	})
}

// Log returns the natural logarithm elementwise.
func Log(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "log", func(v float32) float32 {
		return float32(math.Log(float64(v)))
	})
}

// Sqrt returns the square root elementwise. Negative inputs produce NaN.
func Sqrt(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "sqrt", func(v float32) float32 {
		return float32(math.Sqrt(float64(v)))
	})
}

// Scale returns t multiplied by a scalar.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	return unaryOp(t, "scale", func(v float32) float32 {
		return v * float32(s)
	})
}

// ReLU returns max(0, t) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "relu", func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Tanh returns the hyperbolic tangent elementwise.
func Tanh(t *Tensor) (*Tensor, error) {
	return unaryOp(t, "tanh", func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}
