package summary

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileWriterAppendsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w, err := NewFileWriter(path)
	require.NoError(t, err)

	w.AddScalar("train/branch_loss", 0.5, 10)
	w.AddScalar("eval/uncertain_loss", 0.25, 1)
	require.NoError(t, w.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "train/branch_loss", events[0].Tag)
	assert.Equal(t, 0.5, events[0].Value)
	assert.Equal(t, 10, events[0].Step)
	assert.Equal(t, "eval/uncertain_loss", events[1].Tag)
	assert.Equal(t, 1, events[1].Step)
}

func TestSidecarWriterPostsBatches(t *testing.T) {
	var got struct {
		Scalars []Event `json:"scalars"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/scalars", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultSidecarConfig()
	cfg.BaseURL = server.URL
	w := NewSidecarWriter(cfg, zap.NewNop())

	w.AddScalar("train/speed_loss", 1.5, 3)
	w.AddScalar("train/ori_loss", 2.5, 3)
	require.NoError(t, w.Flush())

	require.Len(t, got.Scalars, 2)
	assert.Equal(t, "train/speed_loss", got.Scalars[0].Tag)

	// Buffer drops after flush; an empty flush must not POST.
	got.Scalars = nil
	require.NoError(t, w.Flush())
	assert.Nil(t, got.Scalars)
}

func TestSidecarWriterSurvivesDeadEndpoint(t *testing.T) {
	cfg := DefaultSidecarConfig()
	cfg.BaseURL = "http://127.0.0.1:1"
	w := NewSidecarWriter(cfg, zap.NewNop())

	w.AddScalar("train/branch_loss", 1, 1)
	assert.NoError(t, w.Flush())
}

func TestNopWriter(t *testing.T) {
	var w NopWriter
	w.AddScalar("x", 1, 1)
	assert.NoError(t, w.Flush())
	assert.NoError(t, w.Close())
}
