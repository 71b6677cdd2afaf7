package nn

import (
	"fmt"

	"github.com/opencil/ciltrain/tensor"
)

const (
	// NumBranches is the number of command-conditioned control heads:
	// follow-lane, turn-left, turn-right, straight.
	NumBranches = 4
	// ControlsPerBranch is steering, throttle and brake.
	ControlsPerBranch = 3
	// BranchOutputDim is the width of the concatenated branch output.
	BranchOutputDim = NumBranches * ControlsPerBranch
)

// CarlaConfig sizes the driving network. ImageDim is the flattened
// camera frame (or precomputed perception feature) width.
type CarlaConfig struct {
	ImageDim    int
	HiddenDim   int
	EmbedDim    int
	DropoutProb float64
	Device      tensor.DeviceType
}

// DefaultCarlaConfig returns the sizes used by the stock trainer.
func DefaultCarlaConfig() CarlaConfig {
	return CarlaConfig{
		ImageDim:    512,
		HiddenDim:   256,
		EmbedDim:    128,
		DropoutProb: 0.2,
		Device:      tensor.CPU,
	}
}

// netBuilder tracks checkpoint names for every parameter it creates.
type netBuilder struct {
	device tensor.DeviceType
	named  []NamedParameter
	err    error
}

func (b *netBuilder) linear(name string, in, out int) *Linear {
	if b.err != nil {
		return nil
	}
	l, err := NewLinear(in, out, true, b.device)
	if err != nil {
		b.err = fmt.Errorf("layer %s: %v", name, err)
		return nil
	}
	b.named = append(b.named,
		NamedParameter{Name: name + ".weight", Tensor: l.Weight},
		NamedParameter{Name: name + ".bias", Tensor: l.Bias},
	)
	return l
}

// CarlaNet is the backbone driving policy: an image encoder and a speed
// encoder feeding a joint embedding, from which four command branches
// predict steering/throttle/brake and a speed head predicts speed.
type CarlaNet struct {
	cfg CarlaConfig

	imgEncoder   *Sequential
	speedEncoder *Sequential
	joint        *Sequential
	branches     []*Sequential
	speedHead    *Sequential

	named []NamedParameter
}

func NewCarlaNet(cfg CarlaConfig) (*CarlaNet, error) {
	if cfg.ImageDim <= 0 || cfg.HiddenDim <= 0 || cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("carla net dimensions must be positive: %+v", cfg)
	}

	b := &netBuilder{device: cfg.Device}
	dropout, err := NewDropout(cfg.DropoutProb)
	if err != nil {
		return nil, err
	}

	net := &CarlaNet{cfg: cfg}
	net.imgEncoder = NewSequential(
		b.linear("img_fc1", cfg.ImageDim, cfg.HiddenDim), NewReLU(),
		b.linear("img_fc2", cfg.HiddenDim, cfg.EmbedDim), NewReLU(),
	)
	net.speedEncoder = NewSequential(
		b.linear("speed_fc1", 1, cfg.HiddenDim/2), NewReLU(),
		b.linear("speed_fc2", cfg.HiddenDim/2, cfg.EmbedDim), NewReLU(),
	)
	net.joint = NewSequential(
		b.linear("joint_fc1", 2*cfg.EmbedDim, cfg.EmbedDim), NewReLU(),
		dropout,
	)
	for i := 0; i < NumBranches; i++ {
		net.branches = append(net.branches, NewSequential(
			b.linear(fmt.Sprintf("branch_%d_fc1", i), cfg.EmbedDim, cfg.HiddenDim), NewReLU(),
			b.linear(fmt.Sprintf("branch_%d_out", i), cfg.HiddenDim, ControlsPerBranch),
		))
	}
	net.speedHead = NewSequential(
		b.linear("speed_head_fc1", cfg.EmbedDim, cfg.HiddenDim), NewReLU(),
		b.linear("speed_head_out", cfg.HiddenDim, 1),
	)

	if b.err != nil {
		return nil, b.err
	}
	net.named = b.named
	return net, nil
}

// Forward runs the backbone. It returns the concatenated branch output
// [B, 12], the predicted speed [B, 1] and the joint embedding the
// uncertainty heads read from.
func (n *CarlaNet) Forward(img, speed *tensor.Tensor) (branches, predSpeed, embed *tensor.Tensor, err error) {
	if len(img.Shape) != 2 || img.Shape[1] != n.cfg.ImageDim {
		return nil, nil, nil, fmt.Errorf("image must be [batch, %d], got %v", n.cfg.ImageDim, img.Shape)
	}
	if len(speed.Shape) != 2 || speed.Shape[1] != 1 {
		return nil, nil, nil, fmt.Errorf("speed must be [batch, 1], got %v", speed.Shape)
	}
	if img.Shape[0] != speed.Shape[0] {
		return nil, nil, nil, fmt.Errorf("batch mismatch: image %d, speed %d", img.Shape[0], speed.Shape[0])
	}

	imgEmb, err := n.imgEncoder.Forward(img)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("image encoder failed: %v", err)
	}
	spdEmb, err := n.speedEncoder.Forward(speed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("speed encoder failed: %v", err)
	}

	embed, err = n.joint.Forward(tensor.ConcatAutograd(imgEmb, spdEmb))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("joint trunk failed: %v", err)
	}

	branchOuts := make([]*tensor.Tensor, NumBranches)
	for i, branch := range n.branches {
		branchOuts[i], err = branch.Forward(embed)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("branch %d failed: %v", i, err)
		}
	}
	branches = tensor.ConcatAutograd(branchOuts...)

	predSpeed, err = n.speedHead.Forward(embed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("speed head failed: %v", err)
	}

	return branches, predSpeed, embed, nil
}

func (n *CarlaNet) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, np := range n.named {
		params = append(params, np.Tensor)
	}
	return params
}

func (n *CarlaNet) NamedParameters() []NamedParameter {
	return append([]NamedParameter(nil), n.named...)
}

func (n *CarlaNet) Train() {
	n.imgEncoder.Train()
	n.speedEncoder.Train()
	n.joint.Train()
	for _, b := range n.branches {
		b.Train()
	}
	n.speedHead.Train()
}

func (n *CarlaNet) Eval() {
	n.imgEncoder.Eval()
	n.speedEncoder.Eval()
	n.joint.Eval()
	for _, b := range n.branches {
		b.Eval()
	}
	n.speedHead.Eval()
}

func (n *CarlaNet) IsTraining() bool {
	return n.joint.IsTraining()
}

func (n *CarlaNet) Config() CarlaConfig {
	return n.cfg
}
