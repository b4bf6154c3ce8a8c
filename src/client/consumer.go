package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Handler receives stream events in arrival order.
type Handler interface {
	// OnSearch is called when the proxy ran a web search for the turn.
	OnSearch(query string)
	// OnContent is called with the full assistant text accumulated so far.
	OnContent(text string)
	// OnError is called once when the stream fails. Cancellation is not
	// reported.
	OnError(err error)
	// OnDone is called for the terminal frame.
	OnDone()
}

// StreamError is an error frame sent by the proxy.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "proxy error: " + e.Message
}

type frame struct {
	Content         *string `json:"content"`
	SearchQuery     string  `json:"searchQuery"`
	SearchPerformed bool    `json:"searchPerformed"`
	Error           *string `json:"error"`
}

// Consume reads frames from r until EOF and returns the accumulated text.
// Frames that do not parse are skipped. Once ctx is cancelled Consume
// returns ctx.Err() with the text received so far.
func Consume(ctx context.Context, r io.Reader, h Handler) (string, error) {
	text, err := consume(ctx, r, h)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.OnError(err)
	}
	return text, err
}

func consume(ctx context.Context, r io.Reader, h Handler) (string, error) {
	var text strings.Builder
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return text.String(), err
		}
		line, readErr := reader.ReadBytes('\n')
		if err := handleLine(bytes.TrimRight(line, "\r\n"), &text, h); err != nil {
			return text.String(), err
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return text.String(), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return text.String(), ctxErr
			}
			return text.String(), fmt.Errorf("read stream: %w", readErr)
		}
	}
}

func handleLine(line []byte, text *strings.Builder, h Handler) error {
	payload, ok := bytes.CutPrefix(line, []byte("data: "))
	if !ok {
		return nil
	}
	if string(payload) == "[DONE]" {
		h.OnDone()
		return nil
	}
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil
	}
	switch {
	case f.Error != nil:
		return &StreamError{Message: *f.Error}
	case f.SearchPerformed:
		h.OnSearch(f.SearchQuery)
	case f.Content != nil && *f.Content != "":
		text.WriteString(*f.Content)
		h.OnContent(text.String())
	}
	return nil
}
