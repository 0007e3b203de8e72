// Package transport serializes a strategy's event stream to the network as
// newline-delimited JSON. It writes an immediate synthetic acknowledgment
// before pulling the first event (defeating intermediary idle timeouts),
// flushes after every write, and may interleave harmless whitespace lines to
// defeat response buffering by intermediaries. Conforming decoders skip
// non-JSON whitespace lines (core.DecodeEvent does).
package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// ContentType is the wire content type of the event stream.
const ContentType = "application/x-ndjson"

// Options configures a Writer.
type Options struct {
	// FlushProbability is the chance of a whitespace flush line following
	// each event write. Zero disables the interleaving.
	FlushProbability float64
	// Rand supplies the probability source; overridable in tests.
	Rand func() float64
	// Logger records write failures.
	Logger logging.Logger
}

// Writer streams events for one request. It guarantees at most one terminal
// event is ever written per request; anything after a terminal is dropped.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	opts    Options
}

// NewWriter wraps a network writer. When w implements http.Flusher every
// line is flushed promptly rather than buffered.
func NewWriter(w io.Writer, optFns ...func(o *Options)) *Writer {
	opts := Options{
		FlushProbability: 0.2,
		Rand:             rand.Float64,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher, opts: opts}
}

// Stream writes the acknowledgment followed by every event pulled from
// events until a terminal event is written, the channel closes, or ctx is
// done. The pull-based loop provides natural backpressure: the producer
// advances only as its output is consumed.
func (t *Writer) Stream(ctx context.Context, requestID string, events <-chan core.StreamEvent) error {
	ack := core.NewClaudeJSONEvent(map[string]any{
		"type":       "ack",
		"request_id": requestID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err := t.writeEvent(ack); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if err := t.writeEvent(ev); err != nil {
				return err
			}

			if ev.IsTerminal() {
				// Exactly one terminal per request: stop pulling here, any
				// stragglers are drained (and dropped) by the dispatcher.
				return nil
			}

			if t.opts.FlushProbability > 0 && t.opts.Rand() < t.opts.FlushProbability {
				t.writeFlushLine()
			}
		}
	}
}

// writeEvent serializes one event as a single NDJSON line and flushes.
func (t *Writer) writeEvent(ev core.StreamEvent) error {
	line, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := t.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	t.flush()
	return nil
}

// writeFlushLine emits a whitespace-only line. It is not a StreamEvent and
// decoders must ignore it; its only job is to push intermediary buffers.
func (t *Writer) writeFlushLine() {
	if _, err := t.w.Write([]byte("\n")); err != nil {
		t.opts.Logger.Debug("flush line write failed", "error", err)
		return
	}
	t.flush()
}

func (t *Writer) flush() {
	if t.flusher != nil {
		t.flusher.Flush()
	}
}
