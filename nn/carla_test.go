package nn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencil/ciltrain/tensor"
)

func testConfig() CarlaConfig {
	return CarlaConfig{
		ImageDim:    8,
		HiddenDim:   4,
		EmbedDim:    4,
		DropoutProb: 0,
		Device:      tensor.CPU,
	}
}

func testInputs(t *testing.T, batch int, cfg CarlaConfig) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	img, err := tensor.RandomNormal([]int{batch, cfg.ImageDim}, 0, 1, cfg.Device)
	require.NoError(t, err)
	speed, err := tensor.RandomNormal([]int{batch, 1}, 0, 1, cfg.Device)
	require.NoError(t, err)
	return img, speed
}

func TestCarlaNetForwardShapes(t *testing.T) {
	SetRandomSeed(7)
	cfg := testConfig()
	net, err := NewCarlaNet(cfg)
	require.NoError(t, err)

	img, speed := testInputs(t, 3, cfg)
	branches, predSpeed, embed, err := net.Forward(img, speed)
	require.NoError(t, err)

	assert.Equal(t, []int{3, BranchOutputDim}, branches.Shape)
	assert.Equal(t, []int{3, 1}, predSpeed.Shape)
	assert.Equal(t, []int{3, cfg.EmbedDim}, embed.Shape)
}

func TestCarlaNetRejectsBadInputs(t *testing.T) {
	cfg := testConfig()
	net, err := NewCarlaNet(cfg)
	require.NoError(t, err)

	img, speed := testInputs(t, 2, cfg)

	wrongImg, err := tensor.Zeros([]int{2, cfg.ImageDim + 1}, tensor.Float32, cfg.Device)
	require.NoError(t, err)
	_, _, _, err = net.Forward(wrongImg, speed)
	assert.Error(t, err)

	wrongSpeed, err := tensor.Zeros([]int{3, 1}, tensor.Float32, cfg.Device)
	require.NoError(t, err)
	_, _, _, err = net.Forward(img, wrongSpeed)
	assert.Error(t, err)
}

func TestFinalNetStructures(t *testing.T) {
	SetRandomSeed(7)
	cfg := testConfig()

	for structure := 1; structure <= 4; structure++ {
		net, err := NewFinalNet(structure, cfg)
		require.NoError(t, err, "structure %d", structure)

		img, speed := testInputs(t, 2, cfg)
		out, err := net.Forward(img, speed)
		require.NoError(t, err, "structure %d", structure)

		assert.Equal(t, []int{2, BranchOutputDim}, out.Branches.Shape)
		assert.Equal(t, []int{2, 1}, out.Speed.Shape)

		if structure == 1 {
			assert.False(t, out.HasUncertainty())
		} else {
			require.True(t, out.HasUncertainty(), "structure %d", structure)
			assert.Equal(t, []int{2, BranchOutputDim}, out.LogVarControl.Shape)
			assert.Equal(t, []int{2, 1}, out.LogVarSpeed.Shape)
		}
	}

	_, err := NewFinalNet(5, cfg)
	assert.Error(t, err)
}

func TestUncertainParametersSubset(t *testing.T) {
	cfg := testConfig()

	net, err := NewFinalNet(2, cfg)
	require.NoError(t, err)

	uncertain := net.UncertainParameters()
	require.NotEmpty(t, uncertain)
	assert.Equal(t, len(net.Uncertain.Parameters()), len(uncertain))
	assert.Less(t, len(uncertain), len(net.Parameters()))

	// Structure 1 has no uncertainty sub-net, so everything trains.
	plain, err := NewFinalNet(1, cfg)
	require.NoError(t, err)
	assert.Equal(t, len(plain.Parameters()), len(plain.UncertainParameters()))
}

func TestNamedParameterPrefixes(t *testing.T) {
	cfg := testConfig()
	net, err := NewFinalNet(3, cfg)
	require.NoError(t, err)

	sawCarla := false
	sawUncertain := false
	seen := make(map[string]bool)
	for _, np := range net.NamedParameters() {
		require.False(t, seen[np.Name], "duplicate name %s", np.Name)
		seen[np.Name] = true
		switch {
		case strings.HasPrefix(np.Name, "carla_net."):
			sawCarla = true
		case strings.HasPrefix(np.Name, "uncertain_net."):
			sawUncertain = true
		default:
			t.Fatalf("unexpected parameter name %s", np.Name)
		}
	}
	assert.True(t, sawCarla)
	assert.True(t, sawUncertain)
}

func TestLoadNamedParameters(t *testing.T) {
	SetRandomSeed(11)
	cfg := testConfig()

	src, err := NewFinalNet(2, cfg)
	require.NoError(t, err)
	dst, err := NewFinalNet(2, cfg)
	require.NoError(t, err)

	require.NoError(t, dst.LoadNamedParameters(src.NamedParameters()))

	srcParams := src.NamedParameters()
	dstParams := dst.NamedParameters()
	require.Equal(t, len(srcParams), len(dstParams))
	for i := range srcParams {
		equal, err := srcParams[i].Tensor.Equal(dstParams[i].Tensor)
		require.NoError(t, err)
		assert.True(t, equal, "parameter %s", srcParams[i].Name)
	}

	bogus, err := tensor.Zeros([]int{1, 1}, tensor.Float32, cfg.Device)
	require.NoError(t, err)
	err = dst.LoadNamedParameters([]NamedParameter{{Name: "no_such.weight", Tensor: bogus}})
	assert.Error(t, err)
}

func TestTrainEvalMode(t *testing.T) {
	cfg := testConfig()
	net, err := NewFinalNet(2, cfg)
	require.NoError(t, err)

	net.Train()
	assert.True(t, net.IsTraining())
	net.Eval()
	assert.False(t, net.IsTraining())
}
