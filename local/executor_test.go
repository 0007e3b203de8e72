package local

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

// fakeBackend writes a shell script standing in for the claude CLI.
func fakeBackend(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake backend scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func collect(ch <-chan core.StreamEvent) []core.StreamEvent {
	var events []core.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func bundle(token string) *core.CredentialBundle {
	return &core.CredentialBundle{ClaudeAiOauth: &core.OAuthCredentials{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
	}}
}

func TestExecutorStreamsBackendOutput(t *testing.T) {
	binary := fakeBackend(t, `
echo '{"type":"system","subtype":"init","session_id":"sess-1"}'
echo '   '
echo 'not json at all'
echo '{"type":"assistant","message":{"role":"assistant"}}'
exit 0
`)

	e := New(func(o *Options) { o.Binary = binary })
	events := collect(e.Execute(context.Background(), Input{Message: "hello", RequestID: "r1"}))

	require.Len(t, events, 3, "blank and malformed lines are skipped")
	assert.Equal(t, core.EventTypeClaudeJSON, events[0].Type)
	assert.Equal(t, "system", events[0].Data["type"])
	assert.Equal(t, core.EventTypeClaudeJSON, events[1].Type)
	assert.Equal(t, core.EventTypeDone, events[2].Type)
}

func TestExecutorPassesCredentialThroughEnvironment(t *testing.T) {
	binary := fakeBackend(t, `
printf '{"type":"system","token":"%s"}\n' "$CLAUDE_CODE_OAUTH_TOKEN"
exit 0
`)

	e := New(func(o *Options) { o.Binary = binary })
	events := collect(e.Execute(context.Background(), Input{
		Message:     "hello",
		RequestID:   "r1",
		Credentials: bundle("tok-abc"),
	}))

	require.Len(t, events, 2)
	assert.Equal(t, "tok-abc", events[0].Data["token"])
	assert.Equal(t, core.EventTypeDone, events[1].Type)
}

func TestExecutorConcurrentInvocationsAreIsolated(t *testing.T) {
	binary := fakeBackend(t, `
printf '{"type":"system","token":"%s"}\n' "$CLAUDE_CODE_OAUTH_TOKEN"
exit 0
`)
	e := New(func(o *Options) { o.Binary = binary })

	type result struct {
		token string
		want  string
	}
	results := make(chan result, 2)

	for _, token := range []string{"tok-one", "tok-two"} {
		go func(token string) {
			events := collect(e.Execute(context.Background(), Input{
				Message:     "hello",
				RequestID:   "r-" + token,
				Credentials: bundle(token),
			}))
			got, _ := events[0].Data["token"].(string)
			results <- result{token: got, want: token}
		}(token)
	}

	for i := 0; i < 2; i++ {
		r := <-results
		assert.Equal(t, r.want, r.token, "each invocation sees only its own credential")
	}
}

func TestExecutorAuthFailureRewritten(t *testing.T) {
	binary := fakeBackend(t, `
echo 'OAuth token has expired. Please run /login' >&2
exit 1
`)

	e := New(func(o *Options) { o.Binary = binary })
	events := collect(e.Execute(context.Background(), Input{Message: "hello", RequestID: "r1"}))

	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "rejected the configured credentials")
	assert.Contains(t, events[0].Error, "OAuth token has expired", "original detail preserved")
}

func TestExecutorProcessFailure(t *testing.T) {
	binary := fakeBackend(t, `
echo 'segfault somewhere deep' >&2
exit 2
`)

	e := New(func(o *Options) { o.Binary = binary })
	events := collect(e.Execute(context.Background(), Input{Message: "hello", RequestID: "r1"}))

	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "segfault somewhere deep")
}

func TestExecutorMissingBinary(t *testing.T) {
	e := New(func(o *Options) { o.Binary = filepath.Join(t.TempDir(), "nope") })
	events := collect(e.Execute(context.Background(), Input{Message: "hello", RequestID: "r1"}))

	require.Len(t, events, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
}

func TestExecutorCancellation(t *testing.T) {
	binary := fakeBackend(t, `
echo '{"type":"system","subtype":"init"}'
exec sleep 30
`)

	ctx, cancel := context.WithCancel(context.Background())
	e := New(func(o *Options) { o.Binary = binary })
	stream := e.Execute(ctx, Input{Message: "hello", RequestID: "r1"})

	first := <-stream
	assert.Equal(t, core.EventTypeClaudeJSON, first.Type)

	cancel()

	events := collect(stream)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventTypeAborted, events[len(events)-1].Type)
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(Input{
		Message:      "do the thing",
		SessionID:    "sess-9",
		AllowedTools: []string{"Bash", "Read"},
	})

	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--resume", "sess-9",
		"--allowedTools", "Bash,Read",
		"do the thing",
	}, args)
}
