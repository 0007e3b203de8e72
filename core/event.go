package core

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType discriminates the StreamEvent union. The set is closed: decoders
// must reject (skip) anything outside it rather than inventing new variants.
type EventType string

const (
	// EventTypeTextDelta carries an incremental chunk of assistant text.
	EventTypeTextDelta EventType = "text_delta"
	// EventTypeClaudeJSON carries an opaque structured payload from the
	// underlying backend (system init, assistant messages, tool activity).
	EventTypeClaudeJSON EventType = "claude_json"
	// EventTypeDone terminates a stream after successful completion.
	EventTypeDone EventType = "done"
	// EventTypeError terminates a stream after a failure.
	EventTypeError EventType = "error"
	// EventTypeAborted terminates a stream after explicit cancellation.
	EventTypeAborted EventType = "aborted"
)

// StreamEvent is one unit of the outbound streaming protocol. For a given
// request id events are emitted in production order and exactly one of
// done/error/aborted terminates the sequence; nothing follows a terminal
// event. Only the field matching Type is populated.
type StreamEvent struct {
	Type  EventType      `json:"type"`
	Text  string         `json:"text,omitempty"`  // text_delta
	Data  map[string]any `json:"data,omitempty"`  // claude_json
	Error string         `json:"error,omitempty"` // error

	// Raw holds the original wire line for events decoded off a peer
	// stream. Marshal re-emits it untouched, so fields outside the typed
	// view (usage or cost annotations, say) survive re-streaming.
	Raw []byte `json:"-"`
}

// NewTextDeltaEvent wraps an incremental text chunk.
func NewTextDeltaEvent(text string) StreamEvent {
	return StreamEvent{Type: EventTypeTextDelta, Text: text}
}

// NewClaudeJSONEvent wraps a structured backend payload.
func NewClaudeJSONEvent(data map[string]any) StreamEvent {
	return StreamEvent{Type: EventTypeClaudeJSON, Data: data}
}

// NewDoneEvent returns the successful terminal event.
func NewDoneEvent() StreamEvent { return StreamEvent{Type: EventTypeDone} }

// NewErrorEvent returns the failure terminal event carrying err's message.
func NewErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventTypeError, Error: err.Error()}
}

// NewAbortedEvent returns the cancellation terminal event.
func NewAbortedEvent() StreamEvent { return StreamEvent{Type: EventTypeAborted} }

// Valid reports whether t belongs to the closed event type set.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeTextDelta, EventTypeClaudeJSON, EventTypeDone, EventTypeError, EventTypeAborted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the event ends its stream.
func (e StreamEvent) IsTerminal() bool {
	switch e.Type {
	case EventTypeDone, EventTypeError, EventTypeAborted:
		return true
	default:
		return false
	}
}

// Marshal serializes the event for the NDJSON wire (no trailing newline).
// Events decoded from a peer line re-emit that line byte-for-byte.
func (e StreamEvent) Marshal() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e)
}

// ErrSkipLine signals that an NDJSON line carried no decodable StreamEvent
// (blank flush line, malformed JSON, unknown type) and should be silently
// dropped by the caller. Best-effort forward compatibility with peers.
type skipLineError struct{ reason string }

func (e *skipLineError) Error() string { return "skip line: " + e.reason }

// ErrSkipLine is the sentinel returned by DecodeEvent for ignorable lines.
var ErrSkipLine error = &skipLineError{reason: "not a stream event"}

// DecodeEvent parses one NDJSON line into a StreamEvent. The `type`
// discriminant is sniffed on the raw bytes first; whitespace-only lines
// (anti-buffering flushes), malformed JSON and unknown event types yield
// ErrSkipLine and are never fatal to the surrounding stream. The decoded
// event retains the line so re-marshalling is verbatim.
func DecodeEvent(line []byte) (StreamEvent, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return StreamEvent{}, ErrSkipLine
	}
	if typ := EventType(gjson.GetBytes(line, "type").String()); !typ.Valid() {
		return StreamEvent{}, ErrSkipLine
	}

	var ev StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return StreamEvent{}, ErrSkipLine
	}

	// Private copy: callers feed reused scanner buffers.
	ev.Raw = append([]byte(nil), line...)
	return ev, nil
}
