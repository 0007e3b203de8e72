package core

// AgentDescriptor identifies one configured agent and how to reach it.
// Provider references a backend client in the provider registry. A remote
// worker additionally carries the peer endpoint hosting it. At most one
// descriptor per request should set IsOrchestrator.
type AgentDescriptor struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	APIEndpoint    string `json:"apiEndpoint,omitempty"`
	WorkingDir     string `json:"workingDirectory,omitempty"`
	IsOrchestrator bool   `json:"isOrchestrator,omitempty"`
}

// ChatRequest describes one inbound chat turn plus routing hints.
//
// RequestID is caller-supplied and must be unique among in-flight requests;
// reusing an in-flight id implicitly replaces (aborts) the prior request.
type ChatRequest struct {
	RequestID       string            `json:"requestId"`
	Message         string            `json:"message"`
	SessionID       string            `json:"sessionId,omitempty"`
	WorkingDir      string            `json:"workingDirectory,omitempty"`
	AllowedTools    []string          `json:"allowedTools,omitempty"`
	AvailableAgents []AgentDescriptor `json:"availableAgents,omitempty"`
	Credentials     *CredentialBundle `json:"credentials,omitempty"`
}

// Validate checks the required fields, returning a ValidationError suitable
// for a synchronous 4xx response. It never opens a stream.
func (r *ChatRequest) Validate() error {
	if r.RequestID == "" {
		return &ValidationError{Field: "requestId", Message: "requestId is required"}
	}
	if r.Message == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	return nil
}

// Orchestrator returns the first descriptor flagged as orchestrator, or nil.
func (r *ChatRequest) Orchestrator() *AgentDescriptor {
	for i := range r.AvailableAgents {
		if r.AvailableAgents[i].IsOrchestrator {
			return &r.AvailableAgents[i]
		}
	}
	return nil
}

// Workers returns the non-orchestrator descriptors preserving order.
func (r *ChatRequest) Workers() []AgentDescriptor {
	var workers []AgentDescriptor
	for _, a := range r.AvailableAgents {
		if !a.IsOrchestrator {
			workers = append(workers, a)
		}
	}
	return workers
}

// FindAgent looks up a descriptor by id.
func (r *ChatRequest) FindAgent(id string) (*AgentDescriptor, bool) {
	for i := range r.AvailableAgents {
		if r.AvailableAgents[i].ID == id {
			return &r.AvailableAgents[i], true
		}
	}
	return nil, false
}
