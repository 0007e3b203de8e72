package dispatch

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/local"
	"github.com/hupe1980/agentrelay/planner"
	"github.com/hupe1980/agentrelay/remote"
)

// Kind identifies a backend capability variant.
type Kind string

const (
	// KindLocal drives the local tool-execution backend.
	KindLocal Kind = "local"
	// KindRemoteHTTP forwards to a peer agent over HTTP.
	KindRemoteHTTP Kind = "remote-http"
	// KindLLMAPI drives an LLM provider API; the only kind capable of
	// multi-agent plan orchestration.
	KindLLMAPI Kind = "llm-api"
)

// Call carries one chat execution into a backend. Agent is the remote
// target for KindRemoteHTTP and the orchestrator for KindLLMAPI.
type Call struct {
	Request     *core.ChatRequest
	Agent       *core.AgentDescriptor
	Workers     []core.AgentDescriptor
	SessionID   string
	Credentials *core.CredentialBundle
}

// Backend executes one chat call, producing the canonical event stream.
// Implementations terminate the stream with exactly one done/error/aborted
// event and honor ctx cancellation within one suspension point.
type Backend interface {
	Kind() Kind
	ExecuteChat(ctx context.Context, call Call) <-chan core.StreamEvent
}

// Registry is the keyed lookup of configured backend clients by provider.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds a backend to a provider key, replacing any previous one.
func (r *Registry) Register(provider string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[provider] = b
}

// Get returns the backend for a provider key.
func (r *Registry) Get(provider string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[provider]
	return b, ok
}

// ToolCapable reports whether the provider's backend can drive plan
// orchestration.
func (r *Registry) ToolCapable(provider string) bool {
	b, ok := r.Get(provider)
	return ok && b.Kind() == KindLLMAPI
}

// LocalBackend adapts local.Executor to the Backend interface.
type LocalBackend struct {
	executor *local.Executor
}

// NewLocalBackend wraps a local executor.
func NewLocalBackend(e *local.Executor) *LocalBackend { return &LocalBackend{executor: e} }

// Kind implements Backend.
func (b *LocalBackend) Kind() Kind { return KindLocal }

// ExecuteChat implements Backend.
func (b *LocalBackend) ExecuteChat(ctx context.Context, call Call) <-chan core.StreamEvent {
	return b.executor.Execute(ctx, local.Input{
		Message:      call.Request.Message,
		RequestID:    call.Request.RequestID,
		SessionID:    call.Request.SessionID,
		WorkingDir:   call.Request.WorkingDir,
		AllowedTools: call.Request.AllowedTools,
		Credentials:  call.Credentials,
	})
}

// RemoteBackend adapts remote.Delegate to the Backend interface.
type RemoteBackend struct {
	delegate *remote.Delegate
}

// NewRemoteBackend wraps a remote delegate.
func NewRemoteBackend(d *remote.Delegate) *RemoteBackend { return &RemoteBackend{delegate: d} }

// Kind implements Backend.
func (b *RemoteBackend) Kind() Kind { return KindRemoteHTTP }

// ExecuteChat implements Backend.
func (b *RemoteBackend) ExecuteChat(ctx context.Context, call Call) <-chan core.StreamEvent {
	workingDir := call.Request.WorkingDir
	if call.Agent != nil && call.Agent.WorkingDir != "" {
		workingDir = call.Agent.WorkingDir
	}
	// Forward the caller's own session id; the minted fallback in
	// call.SessionID is meaningless to a peer.
	return b.delegate.Execute(ctx, remote.Input{
		Agent:       *call.Agent,
		Message:     call.Request.Message,
		RequestID:   call.Request.RequestID,
		SessionID:   call.Request.SessionID,
		WorkingDir:  workingDir,
		Credentials: call.Credentials,
	})
}

// PlannerBackend adapts planner.Planner to the Backend interface.
type PlannerBackend struct {
	planner *planner.Planner
}

// NewPlannerBackend wraps a planner.
func NewPlannerBackend(p *planner.Planner) *PlannerBackend { return &PlannerBackend{planner: p} }

// Kind implements Backend.
func (b *PlannerBackend) Kind() Kind { return KindLLMAPI }

// ExecuteChat implements Backend.
func (b *PlannerBackend) ExecuteChat(ctx context.Context, call Call) <-chan core.StreamEvent {
	return b.planner.Execute(ctx, planner.Input{
		Message:   call.Request.Message,
		RequestID: call.Request.RequestID,
		SessionID: call.SessionID,
		Workers:   call.Workers,
	})
}
