package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/abort"
	"github.com/hupe1980/agentrelay/core"
)

// fakeBackend emits a scripted event sequence. With hang set it emits the
// script and then blocks until ctx is cancelled, finishing with an aborted
// event the way real strategies do.
type fakeBackend struct {
	kind   Kind
	events []core.StreamEvent
	hang   bool
	calls  chan Call
}

func (b *fakeBackend) Kind() Kind { return b.kind }

func (b *fakeBackend) ExecuteChat(ctx context.Context, call Call) <-chan core.StreamEvent {
	if b.calls != nil {
		b.calls <- call
	}
	out := make(chan core.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range b.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				out <- core.NewAbortedEvent()
				return
			}
		}
		if b.hang {
			<-ctx.Done()
			out <- core.NewAbortedEvent()
		}
	}()
	return out
}

func newTestDispatcher(local, planner, remote Backend) *Dispatcher {
	registry := NewRegistry()
	if local != nil {
		registry.Register("claude-cli", local)
	}
	if planner != nil {
		registry.Register("anthropic", planner)
	}
	return New(registry, remote, abort.NewRegistry())
}

func collect(ch <-chan core.StreamEvent) []core.StreamEvent {
	var events []core.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestDispatcherValidationIsSynchronous(t *testing.T) {
	d := newTestDispatcher(&fakeBackend{kind: KindLocal}, nil, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{RequestID: "req-1"})
	require.Error(t, err)
	assert.Nil(t, ch)

	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, d.Aborts().Len())
}

func TestDispatcherRoutesLocal(t *testing.T) {
	localBackend := &fakeBackend{
		kind:   KindLocal,
		events: []core.StreamEvent{core.NewTextDeltaEvent("hi"), core.NewDoneEvent()},
		calls:  make(chan Call, 1),
	}
	d := newTestDispatcher(localBackend, nil, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "no mentions here",
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventTypeTextDelta, events[0].Type)
	assert.Equal(t, core.EventTypeDone, events[1].Type)

	call := <-localBackend.calls
	assert.Equal(t, "no mentions here", call.Request.Message)
	assert.Equal(t, 0, d.Aborts().Len(), "handle must be released after the terminal event")
}

func TestDispatcherRoutesRemoteSingle(t *testing.T) {
	remoteBackend := &fakeBackend{
		kind:   KindRemoteHTTP,
		events: []core.StreamEvent{core.NewDoneEvent()},
		calls:  make(chan Call, 1),
	}
	plannerBackend := &fakeBackend{kind: KindLLMAPI}
	d := newTestDispatcher(&fakeBackend{kind: KindLocal}, plannerBackend, remoteBackend)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "@db-agent migrate the schema",
		AvailableAgents: []core.AgentDescriptor{
			{ID: "orchestrator", Provider: "anthropic", IsOrchestrator: true},
			{ID: "db-agent", Provider: "claude-cli", APIEndpoint: "http://peer"},
		},
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeDone, events[0].Type)

	call := <-remoteBackend.calls
	require.NotNil(t, call.Agent)
	assert.Equal(t, "db-agent", call.Agent.ID)
	assert.NotEmpty(t, call.SessionID, "a session id is minted when the request has none")
}

func TestDispatcherRoutesOrchestrate(t *testing.T) {
	plannerBackend := &fakeBackend{
		kind:   KindLLMAPI,
		events: []core.StreamEvent{core.NewDoneEvent()},
		calls:  make(chan Call, 1),
	}
	d := newTestDispatcher(&fakeBackend{kind: KindLocal}, plannerBackend, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "@db-agent and @web-agent coordinate",
		AvailableAgents: []core.AgentDescriptor{
			{ID: "orchestrator", Provider: "anthropic", IsOrchestrator: true},
			{ID: "db-agent", Provider: "claude-cli", APIEndpoint: "http://peer1"},
			{ID: "web-agent", Provider: "claude-cli", APIEndpoint: "http://peer2"},
		},
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeDone, events[0].Type)

	call := <-plannerBackend.calls
	require.NotNil(t, call.Agent)
	assert.Equal(t, "orchestrator", call.Agent.ID)
	assert.Len(t, call.Workers, 2)
}

func TestDispatcherWithoutRemoteBackend(t *testing.T) {
	plannerBackend := &fakeBackend{kind: KindLLMAPI}
	d := newTestDispatcher(&fakeBackend{kind: KindLocal}, plannerBackend, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "@db-agent migrate the schema",
		AvailableAgents: []core.AgentDescriptor{
			{ID: "orchestrator", Provider: "anthropic", IsOrchestrator: true},
			{ID: "db-agent", Provider: "claude-cli", APIEndpoint: "http://peer"},
		},
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "remote delegation is not configured")
	assert.Equal(t, 0, d.Aborts().Len())
}

func TestDispatcherForcedOrchestrateWithoutOrchestrator(t *testing.T) {
	d := newTestDispatcher(&fakeBackend{kind: KindLocal}, nil, nil)

	ch, err := d.DispatchOrchestrate(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "plan something",
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "no orchestrator agent configured")
	assert.Equal(t, 0, d.Aborts().Len())
}

func TestDispatcherForcedOrchestrateNonToolCapableProvider(t *testing.T) {
	// The orchestrator's provider resolves to the local backend, which
	// cannot drive plan generation.
	d := newTestDispatcher(&fakeBackend{kind: KindLocal}, nil, nil)

	ch, err := d.DispatchOrchestrate(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "plan something",
		AvailableAgents: []core.AgentDescriptor{
			{ID: "orchestrator", Provider: "claude-cli", IsOrchestrator: true},
		},
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "no tool-capable backend")
}

func TestDispatcherAbortMidStream(t *testing.T) {
	localBackend := &fakeBackend{
		kind:   KindLocal,
		events: []core.StreamEvent{core.NewTextDeltaEvent("partial")},
		hang:   true,
	}
	d := newTestDispatcher(localBackend, nil, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "long running work",
	})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, core.EventTypeTextDelta, first.Type)
	assert.Equal(t, 1, d.Aborts().Len())

	assert.True(t, d.Aborts().Signal("req-1"))

	events := collect(ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.EventTypeAborted, last.Type)
	assert.Equal(t, 0, d.Aborts().Len())

	assert.False(t, d.Aborts().Signal("req-1"), "second abort is a no-op")
}

func TestDispatcherRequestIDReuseAbortsPriorStream(t *testing.T) {
	hangBackend := &fakeBackend{
		kind:   KindLocal,
		events: []core.StreamEvent{core.NewTextDeltaEvent("old")},
		hang:   true,
	}
	d := newTestDispatcher(hangBackend, nil, nil)

	firstCh, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "first",
	})
	require.NoError(t, err)
	<-firstCh // first stream is live

	secondCh, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "second",
	})
	require.NoError(t, err)

	firstEvents := collect(firstCh)
	require.NotEmpty(t, firstEvents)
	assert.Equal(t, core.EventTypeAborted, firstEvents[len(firstEvents)-1].Type)

	// The second stream is unaffected; abort it explicitly to finish.
	<-secondCh
	assert.True(t, d.Aborts().Signal("req-1"))
	secondEvents := collect(secondCh)
	require.NotEmpty(t, secondEvents)
	assert.Equal(t, core.EventTypeAborted, secondEvents[len(secondEvents)-1].Type)
}

func TestDispatcherClientDisconnectCancelsStrategy(t *testing.T) {
	localBackend := &fakeBackend{
		kind:   KindLocal,
		events: []core.StreamEvent{core.NewTextDeltaEvent("partial")},
		hang:   true,
	}
	d := newTestDispatcher(localBackend, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.Dispatch(ctx, &core.ChatRequest{
		RequestID: "req-1",
		Message:   "long running work",
	})
	require.NoError(t, err)

	<-ch
	cancel()

	// The supervisor stops forwarding, drains the strategy, and closes out.
	collect(ch)

	assert.Eventually(t, func() bool {
		return d.Aborts().Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherSynthesizesTerminalOnBareClose(t *testing.T) {
	localBackend := &fakeBackend{
		kind:   KindLocal,
		events: []core.StreamEvent{core.NewTextDeltaEvent("partial")}, // closes without terminal
	}
	d := newTestDispatcher(localBackend, nil, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "flaky strategy",
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventTypeError, events[1].Type)
	assert.Contains(t, events[1].Error, "without terminal event")
}

func TestDispatcherDropsEventsAfterTerminal(t *testing.T) {
	localBackend := &fakeBackend{
		kind: KindLocal,
		events: []core.StreamEvent{
			core.NewDoneEvent(),
			core.NewTextDeltaEvent("straggler"),
		},
	}
	d := newTestDispatcher(localBackend, nil, nil)

	ch, err := d.Dispatch(context.Background(), &core.ChatRequest{
		RequestID: "req-1",
		Message:   "work",
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeDone, events[0].Type)
}
