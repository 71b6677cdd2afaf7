// Package checkpoints persists and restores full training state:
// model weights, optimizer moments, scheduler position and the best
// evaluation metric seen so far.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when no checkpoint exists at the
// given path.
var ErrNotFound = errors.New("checkpoint not found")

// WeightTensor is one named model parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerTensor is one optimizer state slot (first or second moment)
// for the parameter at Index.
type OptimizerTensor struct {
	Name  string    `json:"name"`
	Index int       `json:"index"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state.
type OptimizerState struct {
	Type       string             `json:"type"`
	StepCount  int64              `json:"step_count"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// SchedulerState captures the learning-rate schedule position.
type SchedulerState struct {
	LastEpoch int     `json:"last_epoch"`
	BaseLR    float64 `json:"base_lr"`
}

// Metadata describes where a checkpoint came from.
type Metadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is a full snapshot of training state at an epoch boundary.
type Checkpoint struct {
	RunID     string          `json:"run_id"`
	Epoch     int             `json:"epoch"`
	BestLoss  float64         `json:"best_loss"`
	Weights   []WeightTensor  `json:"weights"`
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
	Scheduler *SchedulerState `json:"scheduler,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

// Save writes the checkpoint as JSON, creating parent directories as
// needed.
func Save(ckpt *Checkpoint, path string) error {
	if ckpt.Metadata.Framework == "" {
		ckpt.Metadata.Framework = "ciltrain"
		ckpt.Metadata.Version = "1.0.0"
		ckpt.Metadata.CreatedAt = time.Now()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file %s", path)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(ckpt); err != nil {
		return errors.Wrapf(err, "failed to encode checkpoint %s", path)
	}
	return nil
}

// Load reads a checkpoint back. A missing file maps to ErrNotFound.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "no checkpoint at %s", path)
		}
		return nil, errors.Wrapf(err, "failed to open checkpoint file %s", path)
	}
	defer file.Close()

	var ckpt Checkpoint
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&ckpt); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return &ckpt, nil
}

// BestPath returns the location of the overwrite-in-place best
// checkpoint for a run, next to the per-epoch files in dir.
func BestPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_best.json", runID))
}

// SaveWithBest persists the per-epoch checkpoint and, when isBest is
// set, copies it over the run's best checkpoint.
func SaveWithBest(ckpt *Checkpoint, runID string, isBest bool, path string) error {
	if err := Save(ckpt, path); err != nil {
		return err
	}
	if !isBest {
		return nil
	}
	return copyFile(path, BestPath(filepath.Dir(path), runID))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	return nil
}
