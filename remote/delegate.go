// Package remote implements the single-agent delegation strategy: the
// request is forwarded over HTTP to the peer hosting the target agent and
// the peer's newline-delimited JSON response is re-streamed line by line.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultChunkTimeout bounds each single chunk read from the peer.
const DefaultChunkTimeout = 30 * time.Second

// Options configures a Delegate.
type Options struct {
	// ChunkTimeout is the fixed per-chunk read deadline. Exceeding it raises
	// a distinct timeout error; there is no overall wall-clock deadline.
	ChunkTimeout time.Duration
	// HTTPClient used for delegation. Defaults to a plain http.Client; the
	// client must not impose its own overall timeout.
	HTTPClient *http.Client
	// Logger records skipped lines and lifecycle diagnostics.
	Logger logging.Logger
}

// Delegate forwards chat requests to peer agents.
type Delegate struct {
	opts Options
}

// New creates a Delegate.
func New(optFns ...func(o *Options)) *Delegate {
	opts := Options{
		ChunkTimeout: DefaultChunkTimeout,
		HTTPClient:   &http.Client{},
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Delegate{opts: opts}
}

// Input carries one delegated request. Agent must provide the peer endpoint.
type Input struct {
	Agent       core.AgentDescriptor
	Message     string
	RequestID   string
	SessionID   string
	WorkingDir  string
	Credentials *core.CredentialBundle
}

// forwardedRequest is the body POSTed to the peer's /api/chat.
type forwardedRequest struct {
	RequestID   string                 `json:"requestId"`
	Message     string                 `json:"message"`
	SessionID   string                 `json:"sessionId,omitempty"`
	WorkingDir  string                 `json:"workingDirectory,omitempty"`
	Credentials *core.CredentialBundle `json:"credentials,omitempty"`
}

type readResult struct {
	line []byte
	err  error
}

// Execute re-streams the peer's NDJSON response verbatim. Malformed lines
// are skipped; a done/error line from the peer ends the stream immediately.
// The response body is released on every exit path.
func (d *Delegate) Execute(ctx context.Context, in Input) <-chan core.StreamEvent {
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

		if in.Agent.APIEndpoint == "" {
			emit(core.NewErrorEvent(&core.BackendError{
				Message: fmt.Sprintf("agent %s has no api endpoint", in.Agent.ID),
			}))
			return
		}

		resp, err := d.post(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				out <- core.NewAbortedEvent()
				return
			}
			emit(core.NewErrorEvent(err))
			return
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp, in.Agent.ID); err != nil {
			emit(core.NewErrorEvent(err))
			return
		}

		readCtx, stopRead := context.WithCancel(ctx)
		defer stopRead()

		lines := readLines(readCtx, resp.Body)
		timeout := d.opts.ChunkTimeout

		for {
			select {
			case <-ctx.Done():
				out <- core.NewAbortedEvent()
				return

			case <-time.After(timeout):
				emit(core.NewErrorEvent(&core.TimeoutError{Op: "next chunk from peer", Timeout: timeout.String()}))
				return

			case res, ok := <-lines:
				if !ok || res.err == io.EOF {
					// Peer closed without a terminal line.
					emit(core.NewErrorEvent(&core.BackendError{
						Message: fmt.Sprintf("peer stream for agent %s ended without terminal event", in.Agent.ID),
					}))
					return
				}
				if res.err != nil {
					if ctx.Err() != nil {
						out <- core.NewAbortedEvent()
						return
					}
					emit(core.NewErrorEvent(&core.BackendError{Message: "read peer stream", Err: res.err}))
					return
				}

				line := bytes.TrimSpace(res.line)
				if len(line) == 0 {
					continue // peer anti-buffering flush
				}

				// The decoded event keeps the raw line, so the re-stream is
				// byte-for-byte even when the peer annotates its events with
				// fields outside the typed view.
				ev, err := core.DecodeEvent(line)
				if err != nil {
					d.opts.Logger.Debug("skipping non-event peer line", "agent", in.Agent.ID)
					continue
				}

				if !emit(ev) {
					out <- core.NewAbortedEvent()
					return
				}
				if ev.IsTerminal() {
					return // early exit, no further reads
				}
			}
		}
	}()

	return out
}

// post issues the delegation request to {endpoint}/api/chat.
func (d *Delegate) post(ctx context.Context, in Input) (*http.Response, error) {
	body, err := json.Marshal(forwardedRequest{
		RequestID:   in.RequestID,
		Message:     in.Message,
		SessionID:   in.SessionID,
		WorkingDir:  in.WorkingDir,
		Credentials: in.Credentials,
	})
	if err != nil {
		return nil, &core.BackendError{Message: "encode delegation request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.Agent.APIEndpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &core.BackendError{Message: "build delegation request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &core.BackendError{Message: fmt.Sprintf("delegate to agent %s", in.Agent.ID), Err: err}
	}
	return resp, nil
}

// classifyStatus maps non-2xx peer responses onto the error taxonomy. It
// consumes (a bounded prefix of) the body for the error detail and leaves
// closing to the caller.
func classifyStatus(resp *http.Response, agentID string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &core.AuthenticationError{
			AgentID: agentID,
			Status:  resp.StatusCode,
			Message: "peer rejected delegated credentials",
		}
	case resp.StatusCode >= 500:
		return &core.BackendError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	default:
		return &core.BackendError{
			Message: fmt.Sprintf("unexpected status %d from agent %s: %s", resp.StatusCode, agentID, bytes.TrimSpace(body)),
		}
	}
}

// readLines pumps body lines into a channel so each read can race the chunk
// timeout. The channel closes when the body does; ctx stops the pump once
// the consumer is gone.
func readLines(ctx context.Context, body io.Reader) <-chan readResult {
	lines := make(chan readResult)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case <-ctx.Done():
					return
				case lines <- readResult{line: line}:
				}
			}
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
					case lines <- readResult{err: err}:
					}
				}
				return
			}
		}
	}()
	return lines
}
