package training

import (
	"fmt"
	"math"

	"github.com/opencil/ciltrain/checkpoints"
	"github.com/opencil/ciltrain/tensor"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	State() *checkpoints.OptimizerState
	LoadState(state *checkpoints.OptimizerState) error
}

// AdamConfig holds Adam hyperparameters. The stock trainer runs with
// betas (0.7, 0.85) over the uncertainty sub-net.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-4,
		Beta1:        0.7,
		Beta2:        0.85,
		Epsilon:      1e-8,
		WeightDecay:  0,
	}
}

// Adam implements the Adam update rule with bias correction.
type Adam struct {
	config AdamConfig
	params []*tensor.Tensor

	m         [][]float32
	v         [][]float32
	stepCount int64
}

func NewAdam(params []*tensor.Tensor, config AdamConfig) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Beta1 <= 0 || config.Beta1 >= 1 || config.Beta2 <= 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in (0, 1), got (%v, %v)", config.Beta1, config.Beta2)
	}

	opt := &Adam{
		config: config,
		params: params,
		m:      make([][]float32, len(params)),
		v:      make([][]float32, len(params)),
	}
	for i, p := range params {
		if p.DType != tensor.Float32 {
			return nil, fmt.Errorf("parameter %d has dtype %s, only Float32 is trainable", i, p.DType)
		}
		opt.m[i] = make([]float32, p.NumElems)
		opt.v[i] = make([]float32, p.NumElems)
	}
	return opt, nil
}

func (o *Adam) Step() error {
	o.stepCount++
	bc1 := 1 - math.Pow(o.config.Beta1, float64(o.stepCount))
	bc2 := 1 - math.Pow(o.config.Beta2, float64(o.stepCount))

	for i, p := range o.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		gradData, err := grad.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		paramData, err := p.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}

		m := o.m[i]
		v := o.v[i]
		for j := range paramData {
			g := float64(gradData[j])
			if o.config.WeightDecay != 0 {
				g += o.config.WeightDecay * float64(paramData[j])
			}

			m[j] = float32(o.config.Beta1*float64(m[j]) + (1-o.config.Beta1)*g)
			v[j] = float32(o.config.Beta2*float64(v[j]) + (1-o.config.Beta2)*g*g)

			mHat := float64(m[j]) / bc1
			vHat := float64(v[j]) / bc2
			paramData[j] -= float32(o.config.LearningRate * mHat / (math.Sqrt(vHat) + o.config.Epsilon))
		}
	}
	return nil
}

func (o *Adam) ZeroGrad() {
	tensor.ZeroGrad(o.params)
}

func (o *Adam) GetLR() float64 {
	return o.config.LearningRate
}

func (o *Adam) SetLR(lr float64) {
	o.config.LearningRate = lr
}

func (o *Adam) State() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type:      "adam",
		StepCount: o.stepCount,
		Parameters: map[string]float64{
			"learning_rate": o.config.LearningRate,
			"beta1":         o.config.Beta1,
			"beta2":         o.config.Beta2,
			"epsilon":       o.config.Epsilon,
			"weight_decay":  o.config.WeightDecay,
		},
	}
	for i, p := range o.params {
		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{Name: "m", Index: i, Shape: p.Size(), Data: append([]float32(nil), o.m[i]...)},
			checkpoints.OptimizerTensor{Name: "v", Index: i, Shape: p.Size(), Data: append([]float32(nil), o.v[i]...)},
		)
	}
	return state
}

func (o *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != "adam" {
		return fmt.Errorf("state is for optimizer %q, not adam", state.Type)
	}
	o.stepCount = state.StepCount
	if lr, ok := state.Parameters["learning_rate"]; ok {
		o.config.LearningRate = lr
	}

	for _, st := range state.StateData {
		if st.Index < 0 || st.Index >= len(o.params) {
			return fmt.Errorf("state slot %s has index %d, have %d parameters", st.Name, st.Index, len(o.params))
		}
		var dst []float32
		switch st.Name {
		case "m":
			dst = o.m[st.Index]
		case "v":
			dst = o.v[st.Index]
		default:
			return fmt.Errorf("unknown state slot %q", st.Name)
		}
		if len(st.Data) != len(dst) {
			return fmt.Errorf("state slot %s[%d] has %d values, expected %d", st.Name, st.Index, len(st.Data), len(dst))
		}
		copy(dst, st.Data)
	}
	return nil
}

// SGDConfig holds plain stochastic gradient descent hyperparameters.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
}

// SGD implements momentum SGD. The stock trainer uses Adam; SGD exists
// for experiments that want the simpler update.
type SGD struct {
	config   SGDConfig
	params   []*tensor.Tensor
	velocity [][]float32

	stepCount int64
}

func NewSGD(params []*tensor.Tensor, config SGDConfig) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}

	opt := &SGD{
		config:   config,
		params:   params,
		velocity: make([][]float32, len(params)),
	}
	for i, p := range params {
		if p.DType != tensor.Float32 {
			return nil, fmt.Errorf("parameter %d has dtype %s, only Float32 is trainable", i, p.DType)
		}
		opt.velocity[i] = make([]float32, p.NumElems)
	}
	return opt, nil
}

func (o *SGD) Step() error {
	o.stepCount++
	for i, p := range o.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		gradData, err := grad.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		paramData, err := p.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}

		vel := o.velocity[i]
		for j := range paramData {
			g := float64(gradData[j])
			if o.config.WeightDecay != 0 {
				g += o.config.WeightDecay * float64(paramData[j])
			}
			vel[j] = float32(o.config.Momentum*float64(vel[j]) + g)
			paramData[j] -= float32(o.config.LearningRate * float64(vel[j]))
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() {
	tensor.ZeroGrad(o.params)
}

func (o *SGD) GetLR() float64 {
	return o.config.LearningRate
}

func (o *SGD) SetLR(lr float64) {
	o.config.LearningRate = lr
}

func (o *SGD) State() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type:      "sgd",
		StepCount: o.stepCount,
		Parameters: map[string]float64{
			"learning_rate": o.config.LearningRate,
			"momentum":      o.config.Momentum,
			"weight_decay":  o.config.WeightDecay,
		},
	}
	for i, p := range o.params {
		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{Name: "velocity", Index: i, Shape: p.Size(), Data: append([]float32(nil), o.velocity[i]...)})
	}
	return state
}

func (o *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != "sgd" {
		return fmt.Errorf("state is for optimizer %q, not sgd", state.Type)
	}
	o.stepCount = state.StepCount
	if lr, ok := state.Parameters["learning_rate"]; ok {
		o.config.LearningRate = lr
	}

	for _, st := range state.StateData {
		if st.Name != "velocity" {
			return fmt.Errorf("unknown state slot %q", st.Name)
		}
		if st.Index < 0 || st.Index >= len(o.params) {
			return fmt.Errorf("state slot velocity has index %d, have %d parameters", st.Index, len(o.params))
		}
		if len(st.Data) != len(o.velocity[st.Index]) {
			return fmt.Errorf("state slot velocity[%d] has %d values, expected %d", st.Index, len(st.Data), len(o.velocity[st.Index]))
		}
		copy(o.velocity[st.Index], st.Data)
	}
	return nil
}
