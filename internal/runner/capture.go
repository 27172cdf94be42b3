package runner

import (
	"bytes"
	"io"
	"sync"
)

type limitedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.max <= 0 {
		return n, nil
	}
	remain := b.max - b.buf.Len()
	if remain > 0 {
		if remain > len(p) {
			remain = len(p)
		}
		_, _ = b.buf.Write(p[:remain])
	}
	if len(p) > remain {
		b.truncated = true
	}
	return n, nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }

// LineSink serializes output of concurrently running commands so that
// lines from different commands never interleave mid-line.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineSink(w io.Writer) *LineSink { return &LineSink{w: w} }

// Writer returns a per-stream writer that forwards whole lines.
func (s *LineSink) Writer() *LineWriter { return &LineWriter{sink: s} }

// LineWriter buffers a partial trailing line until it is completed or
// flushed.
type LineWriter struct {
	sink    *LineSink
	pending []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	if i := bytes.LastIndexByte(w.pending, '\n'); i >= 0 {
		w.sink.write(w.pending[:i+1])
		w.pending = append(w.pending[:0], w.pending[i+1:]...)
	}
	return len(p), nil
}

// Flush emits a trailing partial line, newline-terminated.
func (w *LineWriter) Flush() {
	if len(w.pending) == 0 {
		return
	}
	w.sink.write(append(w.pending, '\n'))
	w.pending = nil
}

func (s *LineSink) write(b []byte) {
	s.mu.Lock()
	_, _ = s.w.Write(b)
	s.mu.Unlock()
}
