// Package nn provides the neural network modules for the conditional
// imitation learning policy: a small module system plus the branched
// driving network and its uncertainty heads.
package nn

import (
	"fmt"
	"math"

	"github.com/opencil/ciltrain/tensor"
)

// Module is the common surface of every network component. Forward
// signatures differ per module type and are not part of the interface.
type Module interface {
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// NamedParameter pairs a parameter tensor with its checkpoint name.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Linear implements a fully connected layer: y = x @ W + b.
type Linear struct {
	Weight   *tensor.Tensor // [in, out]
	Bias     *tensor.Tensor // [1, out], nil when bias is disabled
	training bool
}

// NewLinear creates a Linear layer with Kaiming-style initialization.
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer sizes must be positive, got %d and %d", inputSize, outputSize)
	}

	std := float32(math.Sqrt(2.0 / float64(inputSize)))
	weight, err := tensor.RandomNormal([]int{inputSize, outputSize}, 0, std, device)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize weight: %v", err)
	}
	weight.SetRequiresGrad(true)

	l := &Linear{Weight: weight, training: true}

	if bias {
		b, err := tensor.Zeros([]int{1, outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize bias: %v", err)
		}
		b.SetRequiresGrad(true)
		l.Bias = b
	}

	return l, nil
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer requires 2D input, got shape %v", input.Shape)
	}
	if input.Shape[1] != l.Weight.Shape[0] {
		return nil, fmt.Errorf("input size %d does not match weight input size %d", input.Shape[1], l.Weight.Shape[0])
	}

	out := tensor.MatMulAutograd(input, l.Weight)
	if l.Bias != nil {
		out = tensor.AddAutograd(out, l.Bias)
	}
	return out, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	if l.Bias != nil {
		return []*tensor.Tensor{l.Weight, l.Bias}
	}
	return []*tensor.Tensor{l.Weight}
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// ReLU applies the rectified linear activation.
type ReLU struct {
	training bool
}

func NewReLU() *ReLU {
	return &ReLU{training: true}
}

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input), nil
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }
func (r *ReLU) Train()                       { r.training = true }
func (r *ReLU) Eval()                        { r.training = false }
func (r *ReLU) IsTraining() bool             { return r.training }

// Dropout zeroes activations with probability p during training, using
// inverted scaling so evaluation is the identity.
type Dropout struct {
	p        float64
	training bool
}

func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}

	keep := 1.0 - d.p
	maskData := make([]float32, input.NumElems)
	for i := range maskData {
		if tensor.RandFloat64() < keep {
			maskData[i] = float32(1.0 / keep)
		}
	}
	mask, err := tensor.NewTensor(input.Size(), tensor.Float32, input.Device, maskData)
	if err != nil {
		return nil, fmt.Errorf("failed to build dropout mask: %v", err)
	}
	return tensor.MulAutograd(input, mask), nil
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }

// forwarder is implemented by modules with the single-input signature,
// so Sequential can chain them.
type forwarder interface {
	Module
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
}

// Sequential chains single-input modules in order.
type Sequential struct {
	modules []forwarder
}

func NewSequential(modules ...forwarder) *Sequential {
	return &Sequential{modules: modules}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("sequential module %d failed: %v", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool {
	for _, m := range s.modules {
		if !m.IsTraining() {
			return false
		}
	}
	return true
}

// SetRandomSeed seeds weight initialization and dropout sampling.
func SetRandomSeed(seed int64) {
	tensor.SetSeed(seed)
}
