package planner

import (
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// ToolName is the single structured output the planner model is forced to
// produce.
const ToolName = "create_execution_plan"

// Plan is an ordered multi-step execution plan across worker agents. The
// planner's contract ends at returning the plan; step dispatch is a separate,
// unimplemented extension point.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Step is one unit of a plan targeting a single worker agent.
type Step struct {
	ID           string   `json:"id"`
	Agent        string   `json:"agent"`
	Message      string   `json:"message"`
	OutputPath   string   `json:"output_path"`
	Dependencies []string `json:"dependencies"`
}

// ToolDefinition builds the forced plan tool. The agent field is constrained
// to the ids of the provided worker agents.
func ToolDefinition(workers []core.AgentDescriptor) *model.ToolDefinition {
	agentIDs := make([]string, len(workers))
	for i, w := range workers {
		agentIDs[i] = w.ID
	}

	return &model.ToolDefinition{
		Name:        ToolName,
		Description: "Create an ordered multi-step execution plan distributing the user's task across the available worker agents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"steps": map[string]any{
					"type":        "array",
					"description": "Ordered plan steps.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id": map[string]any{
								"type":        "string",
								"description": "Unique step identifier, e.g. step-1.",
							},
							"agent": map[string]any{
								"type":        "string",
								"enum":        agentIDs,
								"description": "Id of the worker agent executing this step.",
							},
							"message": map[string]any{
								"type":        "string",
								"description": "Instruction message for the worker agent.",
							},
							"output_path": map[string]any{
								"type":        "string",
								"description": "Path of the artifact this step produces.",
							},
							"dependencies": map[string]any{
								"type":        "array",
								"items":       map[string]any{"type": "string"},
								"description": "Ids of steps that must complete first.",
							},
						},
						"required": []string{"id", "agent", "message"},
					},
				},
			},
			"required": []string{"steps"},
		},
	}
}
