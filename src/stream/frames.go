// Package stream translates upstream chat-completion event streams into the
// proxy's own server-sent-event frames.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
)

// DoneFrame terminates a successful stream.
const DoneFrame = "data: [DONE]\n\n"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("stream: writer closed")

// ContentEvent carries an incremental piece of assistant text.
type ContentEvent struct {
	Content string `json:"content"`
}

// SearchEvent announces that a web search ran for this turn.
type SearchEvent struct {
	SearchQuery     string `json:"searchQuery"`
	SearchPerformed bool   `json:"searchPerformed"`
}

// ErrorEvent reports a failure to the client.
type ErrorEvent struct {
	Error string `json:"error"`
}

// Writer emits `data: <json>\n\n` frames and flushes after each one.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	once    sync.Once
	closed  bool
	frames  int
}

// NewWriter wraps w. If w implements http.Flusher every frame is flushed.
func NewWriter(w io.Writer) *Writer {
	fw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// EncodeFrame renders v as a single frame.
func EncodeFrame(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode appends one newline; the frame needs a blank line after it.
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteEvent encodes v and writes it as a frame.
func (fw *Writer) WriteEvent(v any) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	return fw.write(frame)
}

// WriteDone writes the terminal sentinel frame.
func (fw *Writer) WriteDone() error {
	return fw.write([]byte(DoneFrame))
}

func (fw *Writer) write(frame []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return ErrClosed
	}
	if _, err := fw.w.Write(frame); err != nil {
		return err
	}
	fw.frames++
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}

// Frames returns the number of frames written.
func (fw *Writer) Frames() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.frames
}

// Close ends the stream. Only the first call has any effect.
func (fw *Writer) Close() error {
	var err error
	fw.once.Do(func() {
		fw.mu.Lock()
		defer fw.mu.Unlock()
		fw.closed = true
		if fw.flusher != nil {
			fw.flusher.Flush()
		}
		if c, ok := fw.w.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
