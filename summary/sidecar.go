package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SidecarConfig configures the connection to a plotting sidecar that
// renders training curves live.
type SidecarConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultSidecarConfig returns the local sidecar endpoint.
func DefaultSidecarConfig() SidecarConfig {
	return SidecarConfig{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// SidecarWriter buffers scalar events and posts them to a plotting
// sidecar on Flush. Delivery failures are logged and never fatal:
// losing a plot must not abort a training run.
type SidecarWriter struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	mu     sync.Mutex
	events []Event
}

func NewSidecarWriter(config SidecarConfig, log *zap.Logger) *SidecarWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &SidecarWriter{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		log:        log,
	}
}

func (w *SidecarWriter) AddScalar(tag string, value float64, step int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, Event{
		Tag:      tag,
		Value:    value,
		Step:     step,
		WallTime: time.Now().Unix(),
	})
}

// Flush posts all buffered events as one batch. The buffer is dropped
// whether or not delivery succeeds.
func (w *SidecarWriter) Flush() error {
	w.mu.Lock()
	events := w.events
	w.events = nil
	w.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{"scalars": events})
	if err != nil {
		w.log.Warn("failed to marshal scalar batch", zap.Error(err))
		return nil
	}

	url := fmt.Sprintf("%s/api/scalars", w.baseURL)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		w.log.Warn("failed to build sidecar request", zap.Error(err))
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ciltrain")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.log.Warn("failed to deliver scalar batch", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Warn("sidecar rejected scalar batch",
			zap.Int("status", resp.StatusCode),
			zap.Int("events", len(events)))
	}
	return nil
}

func (w *SidecarWriter) Close() error {
	return w.Flush()
}
