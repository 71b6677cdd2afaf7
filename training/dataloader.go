package training

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencil/ciltrain/nn"
	"github.com/opencil/ciltrain/tensor"
)

// Sample is one recorded driving frame: a flattened camera feature
// vector, the measured speed, the expert controls for every branch and
// the branch-selection mask marking the commanded branch.
type Sample struct {
	Image  []float32 `json:"image"`
	Speed  float32   `json:"speed"`
	Target []float32 `json:"target"`
	Mask   []float32 `json:"mask"`
}

// Batch is one training or evaluation unit. All four tensors share the
// leading batch dimension; Masks is zero/one with the commanded
// branch's three control slots set per row.
type Batch struct {
	Images  *tensor.Tensor // [B, imageDim]
	Speeds  *tensor.Tensor // [B, 1]
	Targets *tensor.Tensor // [B, 12]
	Masks   *tensor.Tensor // [B, 12]
}

// Size returns the batch's leading dimension.
func (b *Batch) Size() int {
	return b.Images.Shape[0]
}

// Validate checks the leading-dimension invariant and the mask
// contents.
func (b *Batch) Validate() error {
	if b.Images == nil || b.Speeds == nil || b.Targets == nil || b.Masks == nil {
		return fmt.Errorf("batch has nil tensors")
	}

	rows := b.Images.Shape[0]
	for name, t := range map[string]*tensor.Tensor{
		"speeds": b.Speeds, "targets": b.Targets, "masks": b.Masks,
	} {
		if len(t.Shape) != 2 {
			return fmt.Errorf("%s must be 2D, got %v", name, t.Shape)
		}
		if t.Shape[0] != rows {
			return fmt.Errorf("%s has %d rows, images have %d", name, t.Shape[0], rows)
		}
	}
	if b.Speeds.Shape[1] != 1 {
		return fmt.Errorf("speeds must be [batch, 1], got %v", b.Speeds.Shape)
	}
	if b.Targets.Shape[1] != nn.BranchOutputDim {
		return fmt.Errorf("targets must be [batch, %d], got %v", nn.BranchOutputDim, b.Targets.Shape)
	}
	if b.Masks.Shape[1] != nn.BranchOutputDim {
		return fmt.Errorf("masks must be [batch, %d], got %v", nn.BranchOutputDim, b.Masks.Shape)
	}

	maskData, err := b.Masks.GetFloat32Data()
	if err != nil {
		return err
	}
	for i, v := range maskData {
		if v != 0 && v != 1 {
			return fmt.Errorf("mask entry %d is %v, must be 0 or 1", i, v)
		}
	}
	return nil
}

// ToDevice places the batch on the given device. CPU is the only
// device in this build; anything else is rejected.
func (b *Batch) ToDevice(device tensor.DeviceType) error {
	if device != tensor.CPU {
		return fmt.Errorf("unsupported device %s", device)
	}
	for _, t := range []*tensor.Tensor{b.Images, b.Speeds, b.Targets, b.Masks} {
		if t.Device != device {
			return fmt.Errorf("tensor on %s, expected %s", t.Device, device)
		}
	}
	return nil
}

// Dataset is an indexable collection of samples.
type Dataset interface {
	Len() int
	Sample(i int) (*Sample, error)
}

// SliceDataset serves samples from memory.
type SliceDataset struct {
	samples []*Sample
}

func NewSliceDataset(samples []*Sample) *SliceDataset {
	return &SliceDataset{samples: samples}
}

func (d *SliceDataset) Len() int {
	return len(d.samples)
}

func (d *SliceDataset) Sample(i int) (*Sample, error) {
	if i < 0 || i >= len(d.samples) {
		return nil, fmt.Errorf("sample index %d out of range [0, %d)", i, len(d.samples))
	}
	return d.samples[i], nil
}

// LoadJSONDataset reads a JSON array of samples from disk.
func LoadJSONDataset(path string) (*SliceDataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %v", path, err)
	}
	defer file.Close()

	var samples []*Sample
	if err := json.NewDecoder(file).Decode(&samples); err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %v", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}
	return NewSliceDataset(samples), nil
}

// Loader serves batches in a fixed enumeration order.
type Loader interface {
	Len() int
	Batch(i int) (*Batch, error)
}

// DataLoader batches a dataset without shuffling. The last batch may be
// smaller than BatchSize.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	imageDim  int
	device    tensor.DeviceType
}

func NewDataLoader(dataset Dataset, batchSize, imageDim int, device tensor.DeviceType) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if imageDim <= 0 {
		return nil, fmt.Errorf("image dim must be positive, got %d", imageDim)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	return &DataLoader{dataset: dataset, batchSize: batchSize, imageDim: imageDim, device: device}, nil
}

func (l *DataLoader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

func (l *DataLoader) Batch(i int) (*Batch, error) {
	if i < 0 || i >= l.Len() {
		return nil, fmt.Errorf("batch index %d out of range [0, %d)", i, l.Len())
	}

	start := i * l.batchSize
	end := start + l.batchSize
	if end > l.dataset.Len() {
		end = l.dataset.Len()
	}
	rows := end - start

	images := make([]float32, 0, rows*l.imageDim)
	speeds := make([]float32, 0, rows)
	targets := make([]float32, 0, rows*nn.BranchOutputDim)
	masks := make([]float32, 0, rows*nn.BranchOutputDim)

	for idx := start; idx < end; idx++ {
		s, err := l.dataset.Sample(idx)
		if err != nil {
			return nil, err
		}
		if len(s.Image) != l.imageDim {
			return nil, fmt.Errorf("sample %d image has %d values, expected %d", idx, len(s.Image), l.imageDim)
		}
		if len(s.Target) != nn.BranchOutputDim {
			return nil, fmt.Errorf("sample %d target has %d values, expected %d", idx, len(s.Target), nn.BranchOutputDim)
		}
		if len(s.Mask) != nn.BranchOutputDim {
			return nil, fmt.Errorf("sample %d mask has %d values, expected %d", idx, len(s.Mask), nn.BranchOutputDim)
		}
		images = append(images, s.Image...)
		speeds = append(speeds, s.Speed)
		targets = append(targets, s.Target...)
		masks = append(masks, s.Mask...)
	}

	imgT, err := tensor.NewTensor([]int{rows, l.imageDim}, tensor.Float32, l.device, images)
	if err != nil {
		return nil, err
	}
	spdT, err := tensor.NewTensor([]int{rows, 1}, tensor.Float32, l.device, speeds)
	if err != nil {
		return nil, err
	}
	tgtT, err := tensor.NewTensor([]int{rows, nn.BranchOutputDim}, tensor.Float32, l.device, targets)
	if err != nil {
		return nil, err
	}
	mskT, err := tensor.NewTensor([]int{rows, nn.BranchOutputDim}, tensor.Float32, l.device, masks)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Images: imgT, Speeds: spdT, Targets: tgtT, Masks: mskT}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}
