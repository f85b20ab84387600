// Package samples records benchmark measurements as structured log
// events and optionally as a JSON-lines file for downstream tooling.
package samples

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"pkt.systems/dsbench/internal/clock"
	"pkt.systems/pslog"
)

// Sample is a single benchmark measurement.
type Sample struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Writer emits samples. With an empty path samples are only logged.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	logger pslog.Logger
	clk    clock.Clock
}

// NewWriter opens path for appending. logger and clk may be nil.
func NewWriter(path string, logger pslog.Logger, clk clock.Clock) (*Writer, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	w := &Writer{logger: logger, clk: clk}
	if path != "" {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("samples: open %s: %w", path, err)
		}
		w.file = file
	}
	return w, nil
}

// Emit records one sample, stamping it with the writer clock when the
// timestamp is zero.
func (w *Writer) Emit(s Sample) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = w.clk.Now()
	}
	w.logger.Info("sample.emitted",
		"metric", s.Metric,
		"value", s.Value,
		"unit", s.Unit,
	)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("samples: encode %s: %w", s.Metric, err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("samples: write %s: %w", s.Metric, err)
	}
	return nil
}

// Close flushes and closes the sample file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("samples: close: %w", err)
	}
	return nil
}
