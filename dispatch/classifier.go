package dispatch

import (
	"regexp"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// mentionRe matches an "@" followed by word characters or hyphens.
var mentionRe = regexp.MustCompile(`@[\w-]+`)

// RouteKind identifies the chosen execution strategy.
type RouteKind string

const (
	// RouteLocal runs the local tool-execution backend.
	RouteLocal RouteKind = "local"
	// RouteRemoteSingle delegates to exactly one remote peer agent.
	RouteRemoteSingle RouteKind = "remote-single"
	// RouteOrchestrate invokes the planner across multiple worker agents.
	RouteOrchestrate RouteKind = "orchestrate"
)

// Route is the classifier's decision. Agent is set for RouteRemoteSingle.
type Route struct {
	Kind  RouteKind
	Agent *core.AgentDescriptor
}

// Mentions extracts every @name token from the message. The count is raw:
// repeated mentions of the same agent count multiple times. That raw count
// is load-bearing for routing, so no deduplication happens here.
func Mentions(message string) []string {
	matches := mentionRe.FindAllString(message, -1)
	mentions := make([]string, len(matches))
	for i, m := range matches {
		mentions[i] = strings.TrimPrefix(m, "@")
	}
	return mentions
}

// Classify maps (message, available agents) to a route. It is a pure
// function of its inputs.
//
// Without an LLM-tool-capable orchestrator everything runs locally. With
// one, a single mention of a known endpoint-bearing worker delegates to
// that worker, multiple mentions orchestrate, and anything else (no
// mentions, or a lone mention of the orchestrator itself or an unknown id)
// stays local.
func Classify(message string, agents []core.AgentDescriptor, orchestratorCapable bool) Route {
	if !orchestratorCapable {
		return Route{Kind: RouteLocal}
	}

	mentions := Mentions(message)

	if len(mentions) == 1 {
		for i := range agents {
			a := &agents[i]
			if a.ID == mentions[0] && !a.IsOrchestrator && a.APIEndpoint != "" {
				return Route{Kind: RouteRemoteSingle, Agent: a}
			}
		}
		return Route{Kind: RouteLocal}
	}

	if len(mentions) > 1 {
		return Route{Kind: RouteOrchestrate}
	}

	return Route{Kind: RouteLocal}
}
