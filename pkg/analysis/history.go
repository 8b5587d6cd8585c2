package analysis

import (
	"sync"

	"github.com/oxygene76/gravlens/pkg/simulation"
)

// History keeps the statistics of the most recent frames
type History struct {
	mu    sync.Mutex
	limit int
	items []RayStats
}

// NewHistory keeps at most limit entries; limit <= 0 keeps 1
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{limit: limit}
}

// WriteFrame summarizes the frame and records it, dropping the oldest entry
// when full. History can be handed to a driver as a frame sink.
func (h *History) WriteFrame(f *simulation.Frame) error {
	s := Summarize(f)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == h.limit {
		copy(h.items, h.items[1:])
		h.items = h.items[:h.limit-1]
	}
	h.items = append(h.items, s)
	return nil
}

// Close implements simulation.FrameSink
func (h *History) Close() error {
	return nil
}

// Snapshot returns a copy of the recorded statistics, oldest first
func (h *History) Snapshot() []RayStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RayStats, len(h.items))
	copy(out, h.items)
	return out
}

// Trend aggregates the recorded statistics
func (h *History) Trend() Trend {
	return Aggregate(h.Snapshot())
}
