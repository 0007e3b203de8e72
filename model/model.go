// Package model abstracts the LLM providers driving the orchestrator
// planner. A Model streams low-level generation chunks (message/content
// block lifecycle, text deltas, raw partial-JSON tool input deltas) so the
// planner can run one provider-neutral accumulation algorithm. Adapters for
// concrete vendors live in the subpackages.
package model

import "context"

// ChunkKind discriminates the streaming chunk union.
type ChunkKind string

const (
	// ChunkMessageStart opens a generation; carries the concrete model id.
	ChunkMessageStart ChunkKind = "message_start"
	// ChunkBlockStart opens a content block (text or tool_use) at Index.
	ChunkBlockStart ChunkKind = "block_start"
	// ChunkTextDelta carries an incremental text fragment for a text block.
	ChunkTextDelta ChunkKind = "text_delta"
	// ChunkInputJSONDelta carries a raw partial-JSON fragment of a tool
	// call's input. Fragments are only parseable once the block closes.
	ChunkInputJSONDelta ChunkKind = "input_json_delta"
	// ChunkBlockStop closes the content block at Index.
	ChunkBlockStop ChunkKind = "block_stop"
	// ChunkMessageStop closes the generation.
	ChunkMessageStop ChunkKind = "message_stop"
)

// BlockTypeText and BlockTypeToolUse are the content block kinds surfaced
// through ChunkBlockStart.
const (
	BlockTypeText    = "text"
	BlockTypeToolUse = "tool_use"
)

// Chunk is one unit of a model's streaming output. Only the fields relevant
// to Kind are populated.
type Chunk struct {
	Kind        ChunkKind
	Index       int    // content block index (block_* and delta kinds)
	BlockType   string // block_start: text | tool_use
	ToolID      string // block_start (tool_use)
	ToolName    string // block_start (tool_use)
	Text        string // text_delta
	PartialJSON string // input_json_delta
	Model       string // message_start
	StopReason  string // message_stop
}

// Message is a single conversational turn handed to the model.
type Message struct {
	Role string // user | assistant
	Text string
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request captures the normalized planner input. When Tool is set the model
// call is configured to force exactly that tool; no free-form alternative.
type Request struct {
	System    string
	Messages  []Message
	Tool      *ToolDefinition
	MaxTokens int64
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the planner needs to drive generation.
// Stream returns a chunk channel and an error channel; both are closed when
// generation finishes. Implementations must honor ctx cancellation at every
// send.
type Model interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}
