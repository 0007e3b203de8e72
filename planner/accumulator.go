package planner

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/agentrelay/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Block is one accumulated content block. Text blocks concatenate text
// deltas; tool_use blocks concatenate the raw partial-JSON string across
// deltas, parsed into Input only when the block closes.
type Block struct {
	Index    int
	Type     string
	ToolID   string
	ToolName string

	text        strings.Builder
	partialJSON strings.Builder

	Input    map[string]any // parsed tool input, nil until close (or on parse failure)
	ParseErr error          // non-fatal; RawJSON stays available
	Closed   bool
}

// Text returns the concatenated text of a text block.
func (b *Block) Text() string { return b.text.String() }

// RawJSON returns the concatenated partial-JSON of a tool_use block.
func (b *Block) RawJSON() string { return b.partialJSON.String() }

// Accumulator assembles a streamed model message from its chunks, keyed by
// content block index. It is single-goroutine state owned by the planner
// producer; no locking.
type Accumulator struct {
	model  string
	blocks map[int]*Block
}

// NewAccumulator constructs an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{blocks: make(map[int]*Block)}
}

// Model returns the model id announced by message_start, if any.
func (a *Accumulator) Model() string { return a.model }

// Apply folds one chunk into the accumulated state and returns the block it
// touched (nil for message-level chunks). A block_stop on a tool_use block
// triggers the parse; a parse failure is recorded on the block, never
// returned as an error.
func (a *Accumulator) Apply(chunk model.Chunk) *Block {
	switch chunk.Kind {
	case model.ChunkMessageStart:
		a.model = chunk.Model
		return nil
	case model.ChunkBlockStart:
		b := &Block{
			Index:    chunk.Index,
			Type:     chunk.BlockType,
			ToolID:   chunk.ToolID,
			ToolName: chunk.ToolName,
		}
		a.blocks[chunk.Index] = b
		return b
	case model.ChunkTextDelta:
		b := a.block(chunk.Index, model.BlockTypeText)
		b.text.WriteString(chunk.Text)
		return b
	case model.ChunkInputJSONDelta:
		b := a.block(chunk.Index, model.BlockTypeToolUse)
		b.partialJSON.WriteString(chunk.PartialJSON)
		return b
	case model.ChunkBlockStop:
		b, ok := a.blocks[chunk.Index]
		if !ok {
			return nil
		}
		b.Closed = true
		if b.Type == model.BlockTypeToolUse {
			raw := b.RawJSON()
			if raw == "" {
				raw = "{}"
			}
			var input map[string]any
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				b.ParseErr = err
			} else {
				b.Input = input
			}
		}
		return b
	default:
		return nil
	}
}

// block returns the accumulator for index, creating it when the provider
// skipped the explicit block_start.
func (a *Accumulator) block(index int, blockType string) *Block {
	if b, ok := a.blocks[index]; ok {
		return b
	}
	b := &Block{Index: index, Type: blockType}
	a.blocks[index] = b
	return b
}

// Blocks returns the accumulated blocks in index order.
func (a *Accumulator) Blocks() []*Block {
	indices := make([]int, 0, len(a.blocks))
	for i := range a.blocks {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]*Block, len(indices))
	for i, idx := range indices {
		out[i] = a.blocks[idx]
	}
	return out
}

// ToolBlock returns the first tool_use block, or nil.
func (a *Accumulator) ToolBlock() *Block {
	for _, b := range a.Blocks() {
		if b.Type == model.BlockTypeToolUse {
			return b
		}
	}
	return nil
}

// Plan decodes the accumulated tool input into a Plan. It returns an error
// when no tool block exists or its input never parsed.
func (a *Accumulator) Plan() (*Plan, error) {
	b := a.ToolBlock()
	if b == nil {
		return nil, errNoToolBlock
	}
	if b.ParseErr != nil {
		return nil, b.ParseErr
	}

	raw, err := json.Marshal(b.Input)
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// AssistantMessage renders the accumulated state as a claude-style assistant
// message payload. A tool block whose input failed to parse keeps its raw
// string under input_raw.
func (a *Accumulator) AssistantMessage(sessionID string) map[string]any {
	var content []map[string]any
	for _, b := range a.Blocks() {
		switch b.Type {
		case model.BlockTypeText:
			content = append(content, map[string]any{"type": "text", "text": b.Text()})
		case model.BlockTypeToolUse:
			block := map[string]any{
				"type": "tool_use",
				"id":   b.ToolID,
				"name": b.ToolName,
			}
			if b.ParseErr != nil {
				block["input_raw"] = b.RawJSON()
			} else {
				block["input"] = b.Input
			}
			content = append(content, block)
		}
	}

	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role":    "assistant",
			"model":   a.model,
			"content": content,
		},
		"session_id": sessionID,
	}
}
