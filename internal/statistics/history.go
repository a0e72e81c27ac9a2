package statistics

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/studiowebux/searchmeter/internal/types"
)

func init() {
	RegisterFactory(ImplHistory, func(d Descriptor, deps Deps) (Sink, error) {
		if deps.Writer == nil {
			return nil, fmt.Errorf("history requires run persistence to be enabled")
		}
		size, err := d.IntParam("buffer", 100)
		if err != nil {
			return nil, err
		}
		if size <= 0 {
			return nil, fmt.Errorf("buffer must be greater than 0")
		}
		return NewHistory(deps.Writer, size, deps.Logger), nil
	})
}

// History buffers observations and writes them to persistent storage in batches
type History struct {
	mu      sync.Mutex
	writer  ObservationWriter
	buf     []types.Observation
	size    int
	written int64
	dropped int64
	logger  *zap.Logger
}

// NewHistory creates a buffered writer flushing every size observations
func NewHistory(writer ObservationWriter, size int, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{
		writer: writer,
		buf:    make([]types.Observation, 0, size),
		size:   size,
		logger: logger,
	}
}

// Publish buffers one observation, flushing when the buffer is full
func (h *History) Publish(obs types.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = append(h.buf, obs)
	if len(h.buf) >= h.size {
		if err := h.flushLocked(); err != nil {
			// Log error but don't stop execution
			h.logger.Warn("Failed to save observations", zap.Error(err))
		}
	}
}

// Flush writes any buffered observations
func (h *History) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked()
}

func (h *History) flushLocked() error {
	if len(h.buf) == 0 {
		return nil
	}
	batch := h.buf
	h.buf = make([]types.Observation, 0, h.size)
	if err := h.writer.WriteObservations(batch); err != nil {
		h.dropped += int64(len(batch))
		return err
	}
	h.written += int64(len(batch))
	return nil
}

// Snapshot implements Snapshotter
func (h *History) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return []Entry{
		{Label: "written", Value: float64(h.written), Unit: "obs"},
		{Label: "buffered", Value: float64(len(h.buf)), Unit: "obs"},
		{Label: "dropped", Value: float64(h.dropped), Unit: "obs"},
	}
}
