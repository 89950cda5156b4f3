// Package api serves the scheduler over a small JSON HTTP API.
//
//	POST   /v1/jobs          schedule a request
//	GET    /v1/jobs?queue=q  list pending jobs
//	GET    /v1/jobs/{id}     fetch one pending job
//	DELETE /v1/jobs/{id}     cancel
//	GET    /healthz          storage round trip
//	GET    /metrics          when WithMetrics is set
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/registry"
	"github.com/jdziat/simple-delayed-requests/pkg/scheduler"
	"github.com/jdziat/simple-delayed-requests/pkg/security"
)

// CreateRequest is the body of POST /v1/jobs.
type CreateRequest struct {
	URL     string              `json:"url"`
	Method  string              `json:"method,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body,omitempty"`
	At      string              `json:"at"`
	Queue   string              `json:"queue,omitempty"`
}

// CreateResponse is returned by POST /v1/jobs.
type CreateResponse struct {
	ID     uint64    `json:"id"`
	Queue  string    `json:"queue"`
	FireAt time.Time `json:"fire_at"`
}

// ListResponse is returned by GET /v1/jobs.
type ListResponse struct {
	Jobs []*core.Job `json:"jobs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
	queue  string
}

// Handler creates an http.Handler for the scheduler API. It accepts
// HTTP/2 over cleartext as well as HTTP/1.1.
//
// Usage:
//
//	http.ListenAndServe(":8080", api.Handler(sched))
func Handler(sched *scheduler.Scheduler, opts ...Option) http.Handler {
	cfg := &config{logger: slog.Default(), queue: core.DefaultQueue}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	s := &server{sched: sched, logger: cfg.logger, queue: cfg.queue}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", s.create)
	mux.HandleFunc("GET /v1/jobs", s.list)
	mux.HandleFunc("GET /v1/jobs/{id}", s.get)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.cancel)
	mux.HandleFunc("GET /healthz", s.health)
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}

	h2cHandler := h2c.NewHandler(mux, &http2.Server{})
	if cfg.middleware != nil {
		return cfg.middleware(h2cHandler)
	}
	return h2cHandler
}

func (s *server) create(w http.ResponseWriter, r *http.Request) {
	var body CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*security.MaxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	req := core.Request{
		Method:  body.Method,
		URL:     body.URL,
		Headers: core.NormalizeHeaders(body.Headers),
	}
	if body.Body != "" {
		req.Body = []byte(body.Body)
	}
	queue := body.Queue
	if queue == "" {
		queue = s.queue
	}

	req, fireAt, err := s.sched.Resolve(req, body.At)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	id, err := s.sched.Schedule(r.Context(), req, fireAt, scheduler.QueueOpt(queue))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{ID: id, Queue: queue, FireAt: fireAt})
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("queue")
	if queue != "" {
		if err := security.ValidateQueueName(queue); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	resp := ListResponse{Jobs: []*core.Job{}}
	for job, err := range s.sched.List(r.Context(), queue) {
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		resp.Jobs = append(resp.Jobs, job)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.sched.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.sched.Cancel(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sched.Storage().Get(r.Context(), registry.CounterKey()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid job id"))
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidQueueName),
		errors.Is(err, core.ErrQueueNameTooLong):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrContention), errors.Is(err, core.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("api request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: security.SanitizeErrorMessage(err.Error())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
