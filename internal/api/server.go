package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reelforge/internal/broker"
	"reelforge/internal/models"
	"reelforge/internal/ratelimit"
	"reelforge/internal/telemetry"
	"reelforge/internal/worker"
)

// Submitter starts generation jobs.
type Submitter interface {
	Submit(prompt string) (string, error)
}

// AuditReader returns a job's durable lifecycle history.
type AuditReader interface {
	History(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

// Server wires HTTP handlers for job submission, progress and control.
type Server struct {
	broker  *broker.Broker
	jobs    Submitter
	limiter ratelimit.Limiter
	audit   AuditReader
}

// New constructs the API server. limiter may be nil.
func New(b *broker.Broker, jobs Submitter, limiter ratelimit.Limiter) *Server {
	return &Server{broker: b, jobs: jobs, limiter: limiter}
}

// WithAudit exposes GET /jobs/{id}/audit.
func (s *Server) WithAudit(a AuditReader) *Server {
	s.audit = a
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}
		r.Post("/generate/video", s.handleGenerate)
		r.Post("/generate/cancel/{id}", s.handleCancel)
	})
	r.Get("/events/{id}", s.handleEvents)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleRemoveJob)
	r.Get("/jobs/{id}/audit", s.handleAudit)
	return r
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	EventID string `json:"eventId"`
	Message string `json:"message"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Prompt is required.")
		return
	}
	id, err := s.jobs.Submit(req.Prompt)
	if errors.Is(err, worker.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "Prompt is required.")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, generateResponse{EventID: id, Message: "Video generation started."})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.broker.Abort(id); err != nil {
		writeError(w, http.StatusNotFound, "Event not found or already completed.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Video generation cancellation requested."})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.broker.List()
	for i := range jobs {
		jobs[i].Logs = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.broker.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	err := s.broker.Remove(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, broker.ErrActive):
		writeError(w, http.StatusConflict, "Job is still running.")
	default:
		writeError(w, http.StatusNotFound, "Event not found")
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "Audit trail is not enabled.")
		return
	}
	rows, err := s.audit.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []models.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
