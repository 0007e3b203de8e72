// Package anthropic provides a model adapter for the Anthropic Messages API
// with streaming and forced tool calling.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentrelay/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Stream implements streaming generation with forced tool calling. Anthropic
// stream events map one-to-one onto model.Chunk kinds; the raw partial-JSON
// tool input deltas are forwarded untouched for downstream accumulation.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Messages),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}

		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}

		if req.Tool != nil {
			params.Tools = []anthropic.ToolUnionParam{buildTool(req.Tool)}
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: req.Tool.Name},
			}
		}

		stream := m.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()

			var chunk model.Chunk
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				chunk = model.Chunk{Kind: model.ChunkMessageStart, Model: string(ev.Message.Model)}
			case anthropic.ContentBlockStartEvent:
				chunk = model.Chunk{Kind: model.ChunkBlockStart, Index: int(ev.Index)}
				switch block := ev.ContentBlock.AsAny().(type) {
				case anthropic.TextBlock:
					chunk.BlockType = model.BlockTypeText
				case anthropic.ToolUseBlock:
					chunk.BlockType = model.BlockTypeToolUse
					chunk.ToolID = block.ID
					chunk.ToolName = block.Name
				default:
					continue
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					chunk = model.Chunk{Kind: model.ChunkTextDelta, Index: int(ev.Index), Text: delta.Text}
				case anthropic.InputJSONDelta:
					chunk = model.Chunk{Kind: model.ChunkInputJSONDelta, Index: int(ev.Index), PartialJSON: delta.PartialJSON}
				default:
					continue
				}
			case anthropic.ContentBlockStopEvent:
				chunk = model.Chunk{Kind: model.ChunkBlockStop, Index: int(ev.Index)}
			case anthropic.MessageDeltaEvent:
				continue
			case anthropic.MessageStopEvent:
				chunk = model.Chunk{Kind: model.ChunkMessageStop}
			default:
				continue
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- chunk:
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		}
	}()

	return out, errCh
}

// buildMessages converts planner messages to the Anthropic message format.
func buildMessages(messages []model.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}
		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	return out
}

// buildTool converts a tool definition to the Anthropic tool format.
func buildTool(tool *model.ToolDefinition) anthropic.ToolUnionParam {
	inputSchema := anthropic.ToolInputSchemaParam{
		Type: constant.Object("object"),
	}

	if tool.Parameters != nil {
		if properties, ok := tool.Parameters["properties"]; ok {
			inputSchema.Properties = properties
		}
		if required, ok := tool.Parameters["required"].([]string); ok {
			inputSchema.Required = required
		}
	}

	return anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
