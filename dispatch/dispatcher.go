package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/abort"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/credential"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures a Dispatcher.
type Options struct {
	// LocalProvider is the registry key of the local tool backend.
	LocalProvider string
	// Credentials resolves the effective bundle per request. Defaults to a
	// source without a file, honoring only per-request bundles.
	Credentials *credential.Source
	// Logger records routing decisions and stream supervision events.
	Logger logging.Logger
}

// Dispatcher routes chat requests onto execution strategies and supervises
// their event streams. It owns the per-request cancellation lifecycle: one
// handle registered when a strategy starts, released on every terminal path.
type Dispatcher struct {
	registry *Registry
	remote   Backend
	aborts   *abort.Registry
	opts     Options
}

// New creates a Dispatcher. registry holds the provider-keyed backends
// (local tool backend and LLM planner providers); remoteBackend carries
// single-agent delegation to peers.
func New(registry *Registry, remoteBackend Backend, aborts *abort.Registry, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		LocalProvider: "claude-cli",
		Credentials:   credential.NewSource(""),
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{
		registry: registry,
		remote:   remoteBackend,
		aborts:   aborts,
		opts:     opts,
	}
}

// Aborts exposes the cancellation registry for the abort endpoint.
func (d *Dispatcher) Aborts() *abort.Registry { return d.aborts }

// Dispatch validates the request, classifies it, and runs the selected
// strategy. The returned channel carries the request's full event sequence
// ending in exactly one terminal event. A validation failure is returned
// synchronously; no stream opens.
//
// ctx is the transport context: its cancellation (client disconnect) stops
// the strategy within one suspension point, as does an abort call naming
// the request id.
func (d *Dispatcher) Dispatch(ctx context.Context, req *core.ChatRequest) (<-chan core.StreamEvent, error) {
	return d.dispatch(ctx, req, false)
}

// DispatchOrchestrate behaves like Dispatch but forces the orchestration
// strategy unconditionally.
func (d *Dispatcher) DispatchOrchestrate(ctx context.Context, req *core.ChatRequest) (<-chan core.StreamEvent, error) {
	return d.dispatch(ctx, req, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, req *core.ChatRequest, force bool) (<-chan core.StreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	orch := req.Orchestrator()

	var route Route
	if force {
		route = Route{Kind: RouteOrchestrate}
	} else {
		capable := orch != nil && d.registry.ToolCapable(orch.Provider)
		route = Classify(req.Message, req.AvailableAgents, capable)
	}

	d.opts.Logger.Info("request routed",
		"request_id", req.RequestID, "route", string(route.Kind), "session_id", sessionID)

	call := Call{
		Request:     req,
		Agent:       route.Agent,
		Workers:     req.Workers(),
		SessionID:   sessionID,
		Credentials: d.opts.Credentials.Resolve(req.Credentials),
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := d.aborts.Register(req.RequestID, cancel)

	src := d.run(runCtx, route, orch, call)

	out := make(chan core.StreamEvent)
	go d.supervise(ctx, runCtx, cancel, req.RequestID, handle, src, out)
	return out, nil
}

// run starts the strategy for the chosen route. Configuration gaps surface
// as single-error streams so the supervision path stays uniform.
func (d *Dispatcher) run(ctx context.Context, route Route, orch *core.AgentDescriptor, call Call) <-chan core.StreamEvent {
	switch route.Kind {
	case RouteRemoteSingle:
		if d.remote == nil {
			return errStream(&core.BackendError{Message: "remote delegation is not configured"})
		}
		return d.remote.ExecuteChat(ctx, call)

	case RouteOrchestrate:
		if orch == nil {
			return errStream(&core.BackendError{Message: "no orchestrator agent configured"})
		}
		backend, ok := d.registry.Get(orch.Provider)
		if !ok || backend.Kind() != KindLLMAPI {
			return errStream(&core.BackendError{
				Message: fmt.Sprintf("orchestrator provider %s has no tool-capable backend", orch.Provider),
			})
		}
		call.Agent = orch
		return backend.ExecuteChat(ctx, call)

	default:
		backend, ok := d.registry.Get(d.opts.LocalProvider)
		if !ok {
			return errStream(&core.BackendError{
				Message: fmt.Sprintf("local provider %s is not configured", d.opts.LocalProvider),
			})
		}
		return backend.ExecuteChat(ctx, call)
	}
}

// supervise forwards the strategy's events, enforcing the terminal-event
// invariants and releasing the cancellation handle on every exit path.
// After a terminal event (or a consumer disconnect) the source is drained
// so strategy goroutines always run to completion.
func (d *Dispatcher) supervise(
	parent context.Context,
	runCtx context.Context,
	cancel context.CancelFunc,
	requestID string,
	handle *abort.Handle,
	src <-chan core.StreamEvent,
	out chan<- core.StreamEvent,
) {
	defer close(out)
	defer cancel()
	defer d.aborts.Release(handle)

	terminal := false

	for ev := range src {
		if terminal {
			d.opts.Logger.Warn("dropping event after terminal", "request_id", requestID, "type", string(ev.Type))
			continue
		}

		select {
		case out <- ev:
			if ev.IsTerminal() {
				terminal = true
			}
		case <-parent.Done():
			// Consumer is gone; stop forwarding and let the strategy wind
			// down via runCtx.
			cancel()
			drain(src)
			return
		}
	}

	if !terminal {
		// A strategy closed without a terminal event. Synthesize one so the
		// per-request invariant holds for consumers.
		ev := core.NewErrorEvent(&core.BackendError{Message: "stream ended without terminal event"})
		if runCtx.Err() != nil {
			ev = core.NewAbortedEvent()
		}
		select {
		case out <- ev:
		case <-parent.Done():
		}
	}
}

func drain(ch <-chan core.StreamEvent) {
	for range ch {
	}
}

// errStream produces a pre-terminated stream carrying a single error event.
func errStream(err error) <-chan core.StreamEvent {
	ch := make(chan core.StreamEvent, 1)
	ch <- core.NewErrorEvent(err)
	close(ch)
	return ch
}
