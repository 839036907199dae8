// Package server exposes the control interface over HTTP: process,
// status, cancel, and steer, plus health and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/processor"
	"github.com/conductorhq/conductor/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// Config holds the control server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Manager routes control operations to per-user processors.
	Manager *processor.Manager

	// Logger for request logging.
	Logger *observability.Logger

	// Metrics counts served requests.
	Metrics *observability.Metrics

	// Gatherer backs the /metrics endpoint; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg  Config
	mux  *http.ServeMux
	http *http.Server
}

// NewServer wires the routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/tasks/process", s.handleProcess)
	s.mux.HandleFunc("GET /v1/tasks/status", s.handleStatus)
	s.mux.HandleFunc("POST /v1/tasks/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /v1/tasks/steer", s.handleSteer)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.instrument(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.cfg.Logger.Info(ctx, "control server listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// taskRequest is the process operation's wire input. Messages is the prior
// conversation for multi-turn tasks; at least one of prompt and messages
// must be present.
type taskRequest struct {
	TaskID         string            `json:"taskId,omitempty"`
	ChatID         string            `json:"chatId"`
	UserID         string            `json:"userId"`
	ModelAlias     string            `json:"modelAlias"`
	Prompt         string            `json:"prompt,omitempty"`
	SystemPrompt   string            `json:"systemPrompt,omitempty"`
	Messages       []models.Message  `json:"messages,omitempty"`
	AutoResume     bool              `json:"autoResume,omitempty"`
	ReasoningLevel string            `json:"reasoningLevel,omitempty"`
	ResponseFormat string            `json:"responseFormat,omitempty"`
	Credentials    map[string]string `json:"credentials,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.UserID == "" || (strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and a prompt or messages are required"})
		return
	}

	proc := s.cfg.Manager.Get(req.UserID)
	taskID, err := proc.Start(r.Context(), processor.Request{
		TaskID:         req.TaskID,
		ChatID:         req.ChatID,
		Prompt:         req.Prompt,
		SystemPrompt:   req.SystemPrompt,
		Messages:       req.Messages,
		ModelAlias:     req.ModelAlias,
		AutoResume:     req.AutoResume,
		ReasoningLevel: req.ReasoningLevel,
		ResponseFormat: req.ResponseFormat,
		Credentials:    req.Credentials,
	})
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrTaskRunning):
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		case errors.Is(err, processor.ErrEmptyRequest):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "taskId": taskID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}
	proc, ok := s.cfg.Manager.Lookup(userID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}
	snapshot := proc.Snapshot()
	if snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type userRef struct {
	UserID string `json:"userId"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req userRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}
	proc, ok := s.cfg.Manager.Lookup(req.UserID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "not_processing", "current": "pending"})
		return
	}
	status, cancelled := proc.Cancel(r.Context())
	if !cancelled {
		writeJSON(w, http.StatusOK, map[string]any{"status": "not_processing", "current": string(status)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type steerRequest struct {
	UserID      string `json:"userId"`
	Instruction string `json:"instruction"`
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	var req steerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "instruction must not be empty"})
		return
	}
	proc, ok := s.cfg.Manager.Lookup(req.UserID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_processing"})
		return
	}
	queued, accepted := proc.Steer(req.Instruction)
	if !accepted {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_processing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "steered", "queued": queued})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.HTTPRequests.WithLabelValues(
				r.Method, r.URL.Path, strconv.Itoa(rec.code)).Inc()
		}
		s.cfg.Logger.Debug(r.Context(), "request served",
			"method", r.Method, "path", r.URL.Path, "code", rec.code)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
