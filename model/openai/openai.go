// Package openai provides a model adapter for the OpenAI Chat Completions
// API with streaming and forced tool calling. Completion chunk deltas are
// re-shaped into the block-oriented chunk stream the planner accumulates:
// text deltas become a text block at index 0, tool call deltas become
// tool_use blocks at index 1+.
package openai

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentrelay/model"
)

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream implements streaming generation with forced tool calling.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req))

		emit := func(chunk model.Chunk) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- chunk:
				return true
			}
		}

		started := false
		openBlocks := map[int]bool{}

		for stream.Next() {
			ck := stream.Current()

			if !started {
				started = true
				if !emit(model.Chunk{Kind: model.ChunkMessageStart, Model: ck.Model}) {
					errCh <- ctx.Err()
					return
				}
			}

			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					if !openBlocks[0] {
						openBlocks[0] = true
						if !emit(model.Chunk{Kind: model.ChunkBlockStart, Index: 0, BlockType: model.BlockTypeText}) {
							errCh <- ctx.Err()
							return
						}
					}
					if !emit(model.Chunk{Kind: model.ChunkTextDelta, Index: 0, Text: choice.Delta.Content}) {
						errCh <- ctx.Err()
						return
					}
				}

				for _, tc := range choice.Delta.ToolCalls {
					idx := int(tc.Index) + 1
					if !openBlocks[idx] {
						openBlocks[idx] = true
						if !emit(model.Chunk{
							Kind:      model.ChunkBlockStart,
							Index:     idx,
							BlockType: model.BlockTypeToolUse,
							ToolID:    tc.ID,
							ToolName:  tc.Function.Name,
						}) {
							errCh <- ctx.Err()
							return
						}
					}
					if tc.Function.Arguments != "" {
						if !emit(model.Chunk{Kind: model.ChunkInputJSONDelta, Index: idx, PartialJSON: tc.Function.Arguments}) {
							errCh <- ctx.Err()
							return
						}
					}
				}

				if choice.FinishReason != "" {
					indices := make([]int, 0, len(openBlocks))
					for idx := range openBlocks {
						indices = append(indices, idx)
					}
					sort.Ints(indices)
					for _, idx := range indices {
						if !emit(model.Chunk{Kind: model.ChunkBlockStop, Index: idx}) {
							errCh <- ctx.Err()
							return
						}
					}
					if !emit(model.Chunk{Kind: model.ChunkMessageStop, StopReason: choice.FinishReason}) {
						errCh <- ctx.Err()
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()

	return out, errCh
}

// buildParams assembles the request parameters including the forced tool.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		if msg.Text == "" {
			continue
		}
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Text))
		default:
			messages = append(messages, openai.UserMessage(msg.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if req.Tool != nil {
		params.Tools = []openai.ChatCompletionToolParam{{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        req.Tool.Name,
				Description: openai.String(req.Tool.Description),
				Parameters:  req.Tool.Parameters,
			},
		}}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.Tool.Name},
			},
		}
	}

	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
