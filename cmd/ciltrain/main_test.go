package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildConfigEvaluateResumesTrainingCheckpoints(t *testing.T) {
	a := args{ID: "night_run", Evaluate: true, Resume: "3_night_run.json"}

	cfg, logDir, runDir := buildConfig(a)

	// The checkpoint directory and resume path stay on the plain id, so
	// an evaluation run can load what training saved there.
	assert.Equal(t, filepath.Join("save_models", "night_run"), cfg.SaveDir)
	assert.Equal(t, filepath.Join("save_models", "night_run", "3_night_run.json"), cfg.Resume)

	// Only the log and summary identity carries the suffix.
	assert.Equal(t, "night_run_test", cfg.RunID)
	assert.Equal(t, filepath.Join("logs", "night_run_test"), logDir)
	assert.Equal(t, filepath.Join("runs", "night_run_test"), runDir)
	assert.True(t, cfg.EvaluateOnly)
}

func TestBuildConfigTrainingKeepsPlainID(t *testing.T) {
	a := args{ID: "night_run", Resume: "latest.json"}

	cfg, logDir, runDir := buildConfig(a)

	assert.Equal(t, "night_run", cfg.RunID)
	assert.Equal(t, filepath.Join("save_models", "night_run"), cfg.SaveDir)
	assert.Equal(t, filepath.Join("save_models", "night_run", "latest.json"), cfg.Resume)
	assert.Equal(t, filepath.Join("logs", "night_run"), logDir)
	assert.Equal(t, filepath.Join("runs", "night_run"), runDir)
	assert.False(t, cfg.EvaluateOnly)
}

func TestBuildConfigGeneratesRunID(t *testing.T) {
	cfg, _, _ := buildConfig(args{})

	assert.NotEmpty(t, cfg.RunID)
	assert.Empty(t, cfg.Resume)
}
