// Package planner implements the orchestrator planning strategy: it forces
// an LLM tool call to emit a structured multi-step execution plan across the
// available worker agents, streaming its incremental assembly. The planner
// only produces the plan; nothing here dispatches the plan's steps.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

var errNoToolBlock = errors.New("model response contained no tool call block")

const systemPrompt = "You are an orchestrator coordinating a team of worker agents. " +
	"Break the user's request into an ordered execution plan. Assign every step " +
	"to exactly one of the available worker agents and declare step dependencies " +
	"explicitly. Respond only through the " + ToolName + " tool."

// Input carries everything the planner needs for one request.
type Input struct {
	Message   string
	RequestID string
	SessionID string
	Workers   []core.AgentDescriptor
}

// Options configures a Planner.
type Options struct {
	// CredentialCheck is consulted before any network call; a non-nil error
	// fails the stream fast with an error event.
	CredentialCheck func() error
	// Logger records accumulation diagnostics. Defaults to NoOp.
	Logger logging.Logger
	// MaxTokens bounds the plan generation.
	MaxTokens int64
}

// Planner streams the assembly of an execution plan from a backing model.
type Planner struct {
	model model.Model
	opts  Options
}

// New creates a Planner on top of a tool-capable model.
func New(m model.Model, optFns ...func(o *Options)) *Planner {
	opts := Options{
		Logger:    logging.NoOpLogger{},
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Planner{model: m, opts: opts}
}

// Execute produces the planning event stream: one synthetic system-init
// event, zero or more accumulation events, one structured assistant-message
// event carrying the finished plan, then done. Cancellation terminates the
// stream with aborted; provider failures with error.
func (p *Planner) Execute(ctx context.Context, in Input) <-chan core.StreamEvent {
	out := make(chan core.StreamEvent)

	go func() {
		defer close(out)

		emit := func(ev core.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- ev:
				return true
			}
		}

		if p.opts.CredentialCheck != nil {
			if err := p.opts.CredentialCheck(); err != nil {
				emit(core.NewErrorEvent(err))
				return
			}
		}

		info := p.model.Info()
		init := map[string]any{
			"type":       "system",
			"subtype":    "init",
			"session_id": in.SessionID,
			"model":      info.Name,
			"tools":      []string{ToolName},
		}
		if !emit(core.NewClaudeJSONEvent(init)) {
			p.abort(out)
			return
		}

		req := model.Request{
			System: systemPrompt,
			Messages: []model.Message{
				{Role: "user", Text: planningPrompt(in)},
			},
			Tool:      ToolDefinition(in.Workers),
			MaxTokens: p.opts.MaxTokens,
		}

		chunks, errCh := p.model.Stream(ctx, req)
		acc := NewAccumulator()

		for chunk := range chunks {
			block := acc.Apply(chunk)

			switch chunk.Kind {
			case model.ChunkTextDelta:
				if !emit(core.NewTextDeltaEvent(chunk.Text)) {
					p.abort(out)
					return
				}
			case model.ChunkInputJSONDelta:
				ev := core.NewClaudeJSONEvent(map[string]any{
					"type":  "content_block_delta",
					"index": chunk.Index,
					"delta": map[string]any{
						"type":         "input_json_delta",
						"partial_json": chunk.PartialJSON,
					},
				})
				if !emit(ev) {
					p.abort(out)
					return
				}
			case model.ChunkBlockStop:
				if block != nil && block.ParseErr != nil {
					// Non-fatal: the raw string is retained on the block.
					p.opts.Logger.Warn("plan tool input failed to parse on block close",
						"request_id", in.RequestID, "error", block.ParseErr)
				}
			}
		}

		select {
		case <-ctx.Done():
			p.abort(out)
			return
		default:
		}

		if err := <-errCh; err != nil {
			if errors.Is(err, context.Canceled) {
				p.abort(out)
				return
			}
			emit(core.NewErrorEvent(&core.BackendError{Message: "plan generation failed", Err: err}))
			return
		}

		if !emit(core.NewClaudeJSONEvent(acc.AssistantMessage(in.SessionID))) {
			p.abort(out)
			return
		}
		emit(core.NewDoneEvent())
	}()

	return out
}

// abort writes the terminal aborted event without racing a closed consumer.
func (p *Planner) abort(out chan<- core.StreamEvent) {
	out <- core.NewAbortedEvent()
}

// planningPrompt renders the user turn handed to the model.
func planningPrompt(in Input) string {
	prompt := "Task: " + in.Message + "\n\nAvailable worker agents:\n"
	for _, w := range in.Workers {
		prompt += fmt.Sprintf("- %s (provider %s)\n", w.ID, w.Provider)
	}
	return prompt
}
