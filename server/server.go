// Package server exposes the dispatcher over HTTP. Chat responses stream as
// newline-delimited JSON; everything that can be rejected before the stream
// opens (malformed body, failed validation) comes back as a JSON 4xx instead.
package server

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/dispatch"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures a Server.
type Options struct {
	// Logger records request handling events.
	Logger logging.Logger
	// FlushProbability is forwarded to the stream writer.
	FlushProbability float64
	// ServiceName, Environment, and Version feed the health report.
	ServiceName string
	Environment string
	Version     string
}

// Server is the HTTP surface over a dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	mux        *http.ServeMux
	opts       Options
}

// New builds the server and its routes.
func New(d *dispatch.Dispatcher, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		FlushProbability: 0.2,
		ServiceName:      "agentrelay",
		Environment:      "development",
		Version:          "0.0.0",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{dispatcher: d, mux: http.NewServeMux(), opts: opts}

	// Peer delegation addresses agents at {endpoint}/api/chat, so every
	// route is mounted under /api as well as at the root.
	for _, prefix := range []string{"", "/api"} {
		s.mux.HandleFunc("POST "+prefix+"/chat", s.handleChat)
		s.mux.HandleFunc("POST "+prefix+"/multi-agent-chat", s.handleMultiAgentChat)
		s.mux.HandleFunc("POST "+prefix+"/abort/{requestId}", s.handleAbort)
		s.mux.HandleFunc("GET "+prefix+"/health", s.handleHealth)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, false)
}

// handleMultiAgentChat runs the same contract as handleChat but forces the
// orchestration strategy regardless of mentions.
func (s *Server) handleMultiAgentChat(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, true)
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, force bool) {
	var req core.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()

	var (
		events <-chan core.StreamEvent
		err    error
	)
	if force {
		events, err = s.dispatcher.DispatchOrchestrate(ctx, &req)
	} else {
		events, err = s.dispatcher.Dispatch(ctx, &req)
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", transport.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writer := transport.NewWriter(w, func(o *transport.Options) {
		o.FlushProbability = s.opts.FlushProbability
		o.Logger = s.opts.Logger
	})
	if err := writer.Stream(ctx, req.RequestID, events); err != nil {
		s.opts.Logger.Debug("stream ended early", "request_id", req.RequestID, "error", err)
	}

	// Let the dispatcher's supervision goroutine finish even when the
	// writer stopped at the terminal event.
	for range events {
	}
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	found := s.dispatcher.Aborts().Signal(requestID)

	s.opts.Logger.Info("abort requested", "request_id", requestID, "found", found)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"requestId": requestID,
		"aborted":   found,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"service":     s.opts.ServiceName,
		"version":     s.opts.Version,
		"environment": s.opts.Environment,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.opts.Logger.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}
