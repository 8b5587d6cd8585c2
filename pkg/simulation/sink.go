package simulation

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// FrameSink receives published frames
type FrameSink interface {
	WriteFrame(f *Frame) error
	Close() error
}

// JSONLFrameWriter writes one FrameRecord per line
type JSONLFrameWriter struct {
	mu          sync.Mutex
	closer      io.Closer
	bw          *bufio.Writer
	includeRays bool
}

// NewJSONLFrameWriter creates (or truncates) path and writes frames to it
func NewJSONLFrameWriter(path string, includeRays bool) (*JSONLFrameWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewJSONLWriter(f, includeRays)
	w.closer = f
	return w, nil
}

// NewJSONLWriter writes frames to w. Close flushes but does not close w.
func NewJSONLWriter(w io.Writer, includeRays bool) *JSONLFrameWriter {
	return &JSONLFrameWriter{bw: bufio.NewWriter(w), includeRays: includeRays}
}

// WriteFrame appends the frame as a single JSON line
func (w *JSONLFrameWriter) WriteFrame(f *Frame) error {
	b, err := json.Marshal(f.Record(w.includeRays))
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	return w.bw.WriteByte('\n')
}

// Flush writes buffered lines to the underlying writer
func (w *JSONLFrameWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

func (w *JSONLFrameWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		if w.closer != nil {
			_ = w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// everyNth forwards every n-th frame
type everyNth struct {
	FrameSink
	n     uint64
	count uint64
}

// EveryNth wraps a sink so that only every n-th frame is written.
// n <= 1 returns the sink unchanged.
func EveryNth(sink FrameSink, n int) FrameSink {
	if n <= 1 {
		return sink
	}
	return &everyNth{FrameSink: sink, n: uint64(n)}
}

func (e *everyNth) WriteFrame(f *Frame) error {
	e.count++
	if (e.count-1)%e.n != 0 {
		return nil
	}
	return e.FrameSink.WriteFrame(f)
}
