package tensor

import (
	"fmt"
)

// reduceGradientToShape reduces a gradient tensor to match the target
// shape. Needed when broadcasting occurred during the forward pass.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	if len(targetShape) == 1 && targetShape[0] == 1 {
		return SumAll(grad)
	}

	result := grad
	var err error

	// Sum away leading dimensions the target does not have.
	dimsToSum := len(grad.Shape) - len(targetShape)
	for i := 0; i < dimsToSum; i++ {
		result, err = Sum(result, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to sum over dimension: %v", err)
		}
	}

	// Sum dimensions that were broadcast from size 1, keeping rank.
	for i := 0; i < len(targetShape); i++ {
		if i < len(result.Shape) && result.Shape[i] != targetShape[i] && targetShape[i] == 1 {
			summed, err := Sum(result, i)
			if err != nil {
				return nil, fmt.Errorf("failed to sum over broadcast dimension: %v", err)
			}
			// Reinsert the collapsed dimension as size 1.
			newShape := make([]int, 0, len(result.Shape))
			newShape = append(newShape, result.Shape[:i]...)
			newShape = append(newShape, 1)
			newShape = append(newShape, result.Shape[i+1:]...)
			result, err = summed.Reshape(newShape)
			if err != nil {
				return nil, fmt.Errorf("failed to reshape gradient: %v", err)
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = result.Reshape(targetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to reshape gradient: %v", err)
		}
	}

	return result, nil
}

func setAutogradResult(op Operation, result *Tensor, inputs []*Tensor) *Tensor {
	requires := false
	for _, in := range inputs {
		if in.requiresGrad {
			requires = true
			break
		}
	}
	if requires {
		result.creator = op
		result.parents = inputs
		result.requiresGrad = true
	}
	return result
}

// AddOp implements addition with broadcasting.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// SubOp implements subtraction with broadcasting.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	negGradOut, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("failed to negate gradient: %v", err))
	}
	gradB, err := reduceGradientToShape(negGradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// MulOp implements elementwise multiplication with broadcasting.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// ExpOp implements the elementwise exponential.
type ExpOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *ExpOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ExpOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Exp(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	op.output = result
	return setAutogradResult(op, result, inputs)
}

func (op *ExpOp) Backward(gradOut *Tensor) []*Tensor {
	// d(e^x)/dx = e^x, which is the stored output.
	grad, err := Mul(gradOut, op.output)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// ScaleOp multiplies a tensor by a constant scalar.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Scale(inputs[0], op.factor)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// MeanOp averages all elements into a single-element tensor.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := MeanAll(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	g := gradOut.Data.([]float32)[0] / float32(in.NumElems)

	data := make([]float32, in.NumElems)
	for i := range data {
		data[i] = g
	}
	grad, err := NewTensor(in.Shape, Float32, in.Device, data)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// MatMulOp implements 2D matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(b)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose B: %v", err))
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}

	aT, err := Transpose(a)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose A: %v", err))
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// ReLUOp implements the rectified linear activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := ReLU(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}

	inputData := in.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}
	return []*Tensor{grad}
}

// ConcatOp joins 2D tensors along dim 1.
type ConcatOp struct {
	inputs []*Tensor
}

func (op *ConcatOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) == 0 {
		panic("ConcatOp requires at least 1 input")
	}
	op.inputs = inputs
	result, err := Concat(inputs...)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return setAutogradResult(op, result, inputs)
}

func (op *ConcatOp) Backward(gradOut *Tensor) []*Tensor {
	rows := gradOut.Shape[0]
	totalCols := gradOut.Shape[1]
	gradData := gradOut.Data.([]float32)

	grads := make([]*Tensor, len(op.inputs))
	colOffset := 0
	for idx, in := range op.inputs {
		cols := in.Shape[1]
		data := make([]float32, rows*cols)
		for i := 0; i < rows; i++ {
			copy(data[i*cols:(i+1)*cols], gradData[i*totalCols+colOffset:i*totalCols+colOffset+cols])
		}
		grad, err := NewTensor([]int{rows, cols}, Float32, in.Device, data)
		if err != nil {
			panic(fmt.Sprintf("backward pass failed: %v", err))
		}
		grads[idx] = grad
		colOffset += cols
	}
	return grads
}

// High-level autograd entry points.

func AddAutograd(a, b *Tensor) *Tensor    { return (&AddOp{}).Forward(a, b) }
func SubAutograd(a, b *Tensor) *Tensor    { return (&SubOp{}).Forward(a, b) }
func MulAutograd(a, b *Tensor) *Tensor    { return (&MulOp{}).Forward(a, b) }
func MatMulAutograd(a, b *Tensor) *Tensor { return (&MatMulOp{}).Forward(a, b) }
func ExpAutograd(a *Tensor) *Tensor       { return (&ExpOp{}).Forward(a) }
func ReLUAutograd(a *Tensor) *Tensor      { return (&ReLUOp{}).Forward(a) }
func MeanAutograd(a *Tensor) *Tensor      { return (&MeanOp{}).Forward(a) }
func ConcatAutograd(ts ...*Tensor) *Tensor {
	return (&ConcatOp{}).Forward(ts...)
}
func ScaleAutograd(a *Tensor, factor float64) *Tensor {
	return (&ScaleOp{factor: factor}).Forward(a)
}

// Backward runs reverse-mode differentiation from t, which must hold a
// single element. Gradients accumulate into every reachable tensor with
// requiresGrad set.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward can only be called on single-element tensors, got %d elements", t.NumElems)
	}
	if t.DType != Float32 {
		return fmt.Errorf("backward only supports Float32 tensors")
	}

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return fmt.Errorf("failed to seed gradient: %v", err)
	}
	t.grad = seed

	// Reverse topological order over the graph.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, parent := range node.parents {
			visit(parent)
		}
		order = append(order, node)
	}
	visit(t)

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}
		grads := node.creator.Backward(node.grad)
		if len(grads) != len(node.parents) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(node.parents))
		}
		for j, parent := range node.parents {
			if !parent.requiresGrad {
				continue
			}
			if err := accumulateGrad(parent, grads[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

func accumulateGrad(t, g *Tensor) error {
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return fmt.Errorf("failed to clone gradient: %v", err)
		}
		t.grad = clone
		return nil
	}

	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	if len(dst) != len(src) {
		return fmt.Errorf("gradient size mismatch: %d vs %d", len(dst), len(src))
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// ZeroGrad clears accumulated gradients on the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		}
	}
}
