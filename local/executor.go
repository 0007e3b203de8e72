// Package local implements the local tool-execution strategy: it drives the
// claude CLI backend as a per-request subprocess in stream-json mode and
// re-emits its NDJSON output as claude_json events.
//
// Credential and environment state is passed explicitly per invocation
// through the subprocess environment. Nothing process-global is mutated, so
// concurrent local executions are safe without serialization.
package local

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// oauthTokenEnv is the variable the backend reads its credential from.
const oauthTokenEnv = "CLAUDE_CODE_OAUTH_TOKEN"

// maxLineSize bounds a single backend output line (large tool results).
const maxLineSize = 1024 * 1024

// authFailurePatterns match backend failures caused by rejected or missing
// credentials. Matching failures are rewritten with a clarified explanation;
// the original detail is preserved.
var authFailurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invalid api key`),
	regexp.MustCompile(`(?i)oauth token.*(expired|revoked|invalid)`),
	regexp.MustCompile(`(?i)not logged in`),
	regexp.MustCompile(`(?i)authentication[_ ]error`),
	regexp.MustCompile(`(?i)401 unauthorized`),
}

// Options configures an Executor.
type Options struct {
	// Binary is the backend executable (path or name resolved via PATH).
	Binary string
	// Logger records skipped lines and process lifecycle diagnostics.
	Logger logging.Logger
}

// Executor runs the local tool backend.
type Executor struct {
	opts Options
}

// New creates an Executor.
func New(optFns ...func(o *Options)) *Executor {
	opts := Options{
		Binary: "claude",
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{opts: opts}
}

// Input carries one local execution.
type Input struct {
	Message      string
	RequestID    string
	SessionID    string
	WorkingDir   string
	AllowedTools []string
	Credentials  *core.CredentialBundle
}

// Execute streams the backend's progress as claude_json events, terminating
// in done on clean exit, aborted on cancellation and error on process
// failure.
func (e *Executor) Execute(ctx context.Context, in Input) <-chan core.StreamEvent {
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

		cmd := exec.CommandContext(ctx, e.opts.Binary, buildArgs(in)...)
		cmd.Dir = in.WorkingDir
		cmd.Env = environFor(in.Credentials)

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			emit(core.NewErrorEvent(&core.BackendError{Message: "open backend stdout", Err: err}))
			return
		}

		if err := cmd.Start(); err != nil {
			emit(core.NewErrorEvent(&core.BackendError{Message: "start local backend", Err: err}))
			return
		}

		e.opts.Logger.Debug("local backend started", "request_id", in.RequestID, "pid", cmd.Process.Pid)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var payload map[string]any
			if err := json.Unmarshal(line, &payload); err != nil {
				e.opts.Logger.Debug("skipping malformed backend line", "request_id", in.RequestID)
				continue
			}

			if !emit(core.NewClaudeJSONEvent(payload)) {
				_ = cmd.Wait() // CommandContext has killed the process
				out <- core.NewAbortedEvent()
				return
			}
		}

		waitErr := cmd.Wait()

		if ctx.Err() != nil {
			out <- core.NewAbortedEvent()
			return
		}

		if scanErr := scanner.Err(); scanErr != nil {
			emit(core.NewErrorEvent(&core.BackendError{Message: "read backend output", Err: scanErr}))
			return
		}

		if waitErr != nil {
			emit(core.NewErrorEvent(backendFailure(waitErr, stderr.String())))
			return
		}

		emit(core.NewDoneEvent())
	}()

	return out
}

// buildArgs assembles the backend invocation for one request.
func buildArgs(in Input) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if in.SessionID != "" {
		args = append(args, "--resume", in.SessionID)
	}
	if len(in.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(in.AllowedTools, ","))
	}
	return append(args, in.Message)
}

// environFor builds the subprocess environment: the parent environment with
// any inherited credential variable replaced by the request's bundle.
func environFor(bundle *core.CredentialBundle) []string {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, oauthTokenEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	if token := bundle.AccessToken(); token != "" {
		env = append(env, oauthTokenEnv+"="+token)
	}
	return env
}

// backendFailure classifies a process failure, rewriting credential-shaped
// stderr output into an authentication error with a clarified explanation.
func backendFailure(waitErr error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = waitErr.Error()
	}

	for _, pattern := range authFailurePatterns {
		if pattern.MatchString(detail) {
			return &core.AuthenticationError{
				Message: fmt.Sprintf("local backend rejected the configured credentials; refresh the OAuth token or log in again (original error: %s)", detail),
			}
		}
	}

	return &core.BackendError{Message: fmt.Sprintf("local backend failed: %s", detail), Err: waitErr}
}
