package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/tidwall/gjson"
)

var (
	dataPrefix   = []byte("data: ")
	doneSentinel = []byte("[DONE]")
)

// Options control a single normalization run.
type Options struct {
	// SearchQuery is announced in the first frame when Searched is set.
	SearchQuery string
	Searched    bool
}

// Stats summarises a normalization run.
type Stats struct {
	Frames        int
	ContentFrames int
	ContentBytes  int64
	// Dropped counts data lines whose payload was not valid JSON.
	Dropped int
	SawDone bool
	// ReadErr is the upstream read failure that ended the run, if any.
	ReadErr error
	// WriteErr is the outgoing write failure that ended the run, if any.
	WriteErr error
}

// Normalize relays upstream into out until the upstream is exhausted, a
// read or write fails, or ctx is cancelled. out is closed on every path.
//
// Upstream is split into lines on raw bytes before any decoding, so a UTF-8
// sequence split across reads is reassembled intact. Data lines that do not
// parse are dropped and counted; comments and blank lines are ignored.
func Normalize(ctx context.Context, upstream io.Reader, out *Writer, opts Options) (stats Stats) {
	defer func() {
		stats.Frames = out.Frames()
		_ = out.Close()
	}()

	if opts.Searched {
		if err := out.WriteEvent(SearchEvent{SearchQuery: opts.SearchQuery, SearchPerformed: true}); err != nil {
			stats.WriteErr = err
			return stats
		}
	}

	reader := bufio.NewReaderSize(upstream, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			stats.ReadErr = err
			return stats
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if err := relayLine(line, out, &stats); err != nil {
				stats.WriteErr = err
				return stats
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				stats.ReadErr = readErr
			}
			return stats
		}
	}
}

func relayLine(line []byte, out *Writer, stats *Stats) error {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil
	}
	payload := line[len(dataPrefix):]

	if bytes.Equal(payload, doneSentinel) {
		stats.SawDone = true
		return out.WriteDone()
	}

	if !gjson.ValidBytes(payload) {
		stats.Dropped++
		return nil
	}
	delta := gjson.GetBytes(payload, "choices.0.delta.content")
	if delta.Type != gjson.String || delta.Str == "" {
		return nil
	}
	if err := out.WriteEvent(ContentEvent{Content: delta.Str}); err != nil {
		return err
	}
	stats.ContentFrames++
	stats.ContentBytes += int64(len(delta.Str))
	return nil
}
