// Package server exposes a compiled graph over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
)

// Options configures NewHandler.
type Options struct {
	Logger log.Logger
	// Gatherer backs GET /metrics. The route is absent when nil.
	Gatherer prometheus.Gatherer
}

// Server serves one compiled graph.
type Server struct {
	graph  *graph.CompiledGraph
	logger log.Logger
}

// InvokeRequest is the body of POST /threads/{id}/invoke.
type InvokeRequest struct {
	Input graph.State `json:"input"`
}

// ResumeRequest is the body of POST /threads/{id}/resume. A missing or null
// value resumes without a value.
type ResumeRequest struct {
	Value *json.RawMessage `json:"value,omitempty"`
	Patch graph.State      `json:"patch,omitempty"`
}

// UpdateRequest is the body of PATCH /threads/{id}/state.
type UpdateRequest struct {
	Values graph.State `json:"values"`
	AsNode string      `json:"as_node,omitempty"`
}

// RunResponse is returned by invoke and resume.
type RunResponse struct {
	ThreadID  string         `json:"thread_id"`
	Status    graph.Status   `json:"status"`
	Values    graph.State    `json:"values"`
	Interrupt *InterruptInfo `json:"interrupt,omitempty"`
}

// InterruptInfo describes why a run paused.
type InterruptInfo struct {
	Node  string   `json:"node"`
	Step  int      `json:"step"`
	When  string   `json:"when"`
	Value any      `json:"value,omitempty"`
	Next  []string `json:"next"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the router for g.
func NewHandler(g *graph.CompiledGraph, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	s := &Server{graph: g, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/threads/{id}", func(r chi.Router) {
		r.Post("/invoke", s.invoke)
		r.Post("/resume", s.resume)
		r.Get("/state", s.getState)
		r.Patch("/state", s.updateState)
		r.Get("/history", s.history)
		r.Delete("/", s.deleteThread)
	})
	r.Get("/graph/mermaid", s.mermaid)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s -> %d in %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	var re *graph.RoutingError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrNoPendingInterrupt),
		errors.Is(err, graph.ErrConflictingUpdate),
		errors.Is(err, store.ErrStaleCheckpoint):
		return http.StatusConflict
	case errors.Is(err, graph.ErrUnknownNode), errors.As(err, &re):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// runResponse turns the result of Invoke or Resume into a response. A
// pause is a successful outcome.
func (s *Server) runResponse(w http.ResponseWriter, r *http.Request, threadID string, values graph.State, err error) {
	var gi *graph.GraphInterrupt
	switch {
	case errors.As(err, &gi):
		writeJSON(w, http.StatusOK, RunResponse{
			ThreadID: threadID,
			Status:   graph.StatusInterrupted,
			Values:   values,
			Interrupt: &InterruptInfo{
				Node:  gi.Node,
				Step:  gi.Step,
				When:  gi.When,
				Value: gi.Value,
				Next:  gi.Next,
			},
		})
	case err != nil:
		s.fail(w, r, err)
	default:
		writeJSON(w, http.StatusOK, RunResponse{ThreadID: threadID, Status: graph.StatusTerminal, Values: values})
	}
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	var req InvokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	values, err := s.graph.Invoke(r.Context(), threadID, req.Input)
	s.runResponse(w, r, threadID, values, err)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	var req ResumeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sig := graph.ResumeSignal{}
	if req.Value != nil {
		var v any
		if err := json.Unmarshal(*req.Value, &v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		sig = graph.ResumeWith(v)
	}
	if req.Patch != nil {
		sig = sig.WithPatch(req.Patch)
	}

	values, err := s.graph.Resume(r.Context(), threadID, sig)
	s.runResponse(w, r, threadID, values, err)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.graph.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) updateState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	var req UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.graph.UpdateState(r.Context(), threadID, req.Values, req.AsNode); err != nil {
		s.fail(w, r, err)
		return
	}
	s.getState(w, r)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.graph.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(snaps) == 0 {
		s.fail(w, r, fmt.Errorf("%w: %s", store.ErrNotFound, chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.graph.DeleteThread(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mermaid(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.graph.Exporter().DrawMermaid()))
}
