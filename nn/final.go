package nn

import (
	"fmt"

	"github.com/opencil/ciltrain/tensor"
)

// Output is what the policy produces for a batch. LogVarControl and
// LogVarSpeed are nil when the network runs without uncertainty heads
// (structure 1).
type Output struct {
	Branches      *tensor.Tensor // [B, 12]
	Speed         *tensor.Tensor // [B, 1]
	LogVarControl *tensor.Tensor // [B, 12] or nil
	LogVarSpeed   *tensor.Tensor // [B, 1] or nil
}

// HasUncertainty reports whether the output carries log-variance heads.
func (o *Output) HasUncertainty() bool {
	return o.LogVarControl != nil && o.LogVarSpeed != nil
}

// UncertainNet predicts per-output log variances from the backbone's
// joint embedding. The layout depends on the network structure:
//
//	2: shared trunk feeding both log-variance heads
//	3: separate control and speed trunks
//	4: linear heads reading the embedding directly
type UncertainNet struct {
	structure int

	controlTrunk *Sequential
	speedTrunk   *Sequential
	controlHead  *Sequential
	speedHead    *Sequential

	named []NamedParameter
}

func NewUncertainNet(structure int, cfg CarlaConfig) (*UncertainNet, error) {
	b := &netBuilder{device: cfg.Device}
	net := &UncertainNet{structure: structure}

	switch structure {
	case 2:
		trunk := NewSequential(
			b.linear("trunk_fc1", cfg.EmbedDim, cfg.HiddenDim), NewReLU(),
		)
		net.controlTrunk = trunk
		net.speedTrunk = trunk
		net.controlHead = NewSequential(b.linear("control_head", cfg.HiddenDim, BranchOutputDim))
		net.speedHead = NewSequential(b.linear("speed_head", cfg.HiddenDim, 1))
	case 3:
		net.controlTrunk = NewSequential(
			b.linear("control_trunk_fc1", cfg.EmbedDim, cfg.HiddenDim), NewReLU(),
		)
		net.speedTrunk = NewSequential(
			b.linear("speed_trunk_fc1", cfg.EmbedDim, cfg.HiddenDim), NewReLU(),
		)
		net.controlHead = NewSequential(b.linear("control_head", cfg.HiddenDim, BranchOutputDim))
		net.speedHead = NewSequential(b.linear("speed_head", cfg.HiddenDim, 1))
	case 4:
		net.controlHead = NewSequential(b.linear("control_head", cfg.EmbedDim, BranchOutputDim))
		net.speedHead = NewSequential(b.linear("speed_head", cfg.EmbedDim, 1))
	default:
		return nil, fmt.Errorf("uncertain net does not support structure %d", structure)
	}

	if b.err != nil {
		return nil, b.err
	}
	net.named = b.named
	return net, nil
}

// Forward maps the joint embedding to logVarControl [B, 12] and
// logVarSpeed [B, 1].
func (n *UncertainNet) Forward(embed *tensor.Tensor) (logVarControl, logVarSpeed *tensor.Tensor, err error) {
	controlIn := embed
	speedIn := embed

	if n.controlTrunk != nil {
		controlIn, err = n.controlTrunk.Forward(embed)
		if err != nil {
			return nil, nil, fmt.Errorf("control trunk failed: %v", err)
		}
	}
	if n.speedTrunk != nil {
		if n.speedTrunk == n.controlTrunk {
			speedIn = controlIn
		} else {
			speedIn, err = n.speedTrunk.Forward(embed)
			if err != nil {
				return nil, nil, fmt.Errorf("speed trunk failed: %v", err)
			}
		}
	}

	logVarControl, err = n.controlHead.Forward(controlIn)
	if err != nil {
		return nil, nil, fmt.Errorf("control head failed: %v", err)
	}
	logVarSpeed, err = n.speedHead.Forward(speedIn)
	if err != nil {
		return nil, nil, fmt.Errorf("speed head failed: %v", err)
	}
	return logVarControl, logVarSpeed, nil
}

func (n *UncertainNet) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, np := range n.named {
		params = append(params, np.Tensor)
	}
	return params
}

func (n *UncertainNet) NamedParameters() []NamedParameter {
	return append([]NamedParameter(nil), n.named...)
}

func (n *UncertainNet) Train() {
	n.controlHead.Train()
	n.speedHead.Train()
	if n.controlTrunk != nil {
		n.controlTrunk.Train()
	}
	if n.speedTrunk != nil {
		n.speedTrunk.Train()
	}
}

func (n *UncertainNet) Eval() {
	n.controlHead.Eval()
	n.speedHead.Eval()
	if n.controlTrunk != nil {
		n.controlTrunk.Eval()
	}
	if n.speedTrunk != nil {
		n.speedTrunk.Eval()
	}
}

func (n *UncertainNet) IsTraining() bool {
	return n.controlHead.IsTraining()
}

// FinalNet composes the backbone with the optional uncertainty net.
// Structure 1 is the plain two-output policy; structures 2-4 add the
// log-variance heads.
type FinalNet struct {
	structure int
	Carla     *CarlaNet
	Uncertain *UncertainNet
}

func NewFinalNet(structure int, cfg CarlaConfig) (*FinalNet, error) {
	carla, err := NewCarlaNet(cfg)
	if err != nil {
		return nil, err
	}

	net := &FinalNet{structure: structure, Carla: carla}
	if structure != 1 {
		net.Uncertain, err = NewUncertainNet(structure, cfg)
		if err != nil {
			return nil, err
		}
	}
	return net, nil
}

func (n *FinalNet) Structure() int {
	return n.structure
}

func (n *FinalNet) Forward(img, speed *tensor.Tensor) (*Output, error) {
	branches, predSpeed, embed, err := n.Carla.Forward(img, speed)
	if err != nil {
		return nil, err
	}

	out := &Output{Branches: branches, Speed: predSpeed}
	if n.Uncertain != nil {
		out.LogVarControl, out.LogVarSpeed, err = n.Uncertain.Forward(embed)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (n *FinalNet) Parameters() []*tensor.Tensor {
	params := n.Carla.Parameters()
	if n.Uncertain != nil {
		params = append(params, n.Uncertain.Parameters()...)
	}
	return params
}

// UncertainParameters returns the parameters the optimizer trains: the
// uncertainty sub-net when present, the whole backbone otherwise.
func (n *FinalNet) UncertainParameters() []*tensor.Tensor {
	if n.Uncertain != nil {
		return n.Uncertain.Parameters()
	}
	return n.Carla.Parameters()
}

func (n *FinalNet) NamedParameters() []NamedParameter {
	var named []NamedParameter
	for _, np := range n.Carla.NamedParameters() {
		named = append(named, NamedParameter{Name: "carla_net." + np.Name, Tensor: np.Tensor})
	}
	if n.Uncertain != nil {
		for _, np := range n.Uncertain.NamedParameters() {
			named = append(named, NamedParameter{Name: "uncertain_net." + np.Name, Tensor: np.Tensor})
		}
	}
	return named
}

// LoadNamedParameters copies values into parameters matched by name.
// Every entry must match an existing parameter in name and shape.
func (n *FinalNet) LoadNamedParameters(params []NamedParameter) error {
	byName := make(map[string]*tensor.Tensor)
	for _, np := range n.NamedParameters() {
		byName[np.Name] = np.Tensor
	}

	for _, p := range params {
		dst, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("unknown parameter %q", p.Name)
		}
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %q: %v", p.Name, err)
		}
		if err := dst.SetData(data); err != nil {
			return fmt.Errorf("parameter %q: %v", p.Name, err)
		}
	}
	return nil
}

func (n *FinalNet) Train() {
	n.Carla.Train()
	if n.Uncertain != nil {
		n.Uncertain.Train()
	}
}

func (n *FinalNet) Eval() {
	n.Carla.Eval()
	if n.Uncertain != nil {
		n.Uncertain.Eval()
	}
}

func (n *FinalNet) IsTraining() bool {
	return n.Carla.IsTraining()
}
