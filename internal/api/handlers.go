package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stockscout/stockscout/internal/engine"
	"github.com/stockscout/stockscout/internal/report"
)

// Handlers serves read-only run state over HTTP. The engine keeps running in
// its own goroutine; every endpoint is a snapshot.
type Handlers struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewHandlers(eng *engine.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: eng,
		logger: logger,
	}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/run", h.GetRun)
		r.Get("/stats", h.GetStats)
		r.Get("/records", h.GetRecords)
	})

	return r
}

// Health reports liveness plus the run phase, so an operator can tell a
// healthy idle server from one mid-crawl.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"phase":  status.Phase,
	})
}

// GetRun returns the full run snapshot: phase, frontier counts, record and
// failure totals.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.engine.Status())
}

// GetStats returns aggregate inventory statistics over the records observed
// so far.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	results := h.engine.Results()
	if results == nil {
		h.respondError(w, http.StatusServiceUnavailable, "run not started")
		return
	}

	h.respondJSON(w, http.StatusOK, report.Summarize(results.Records(), results.Failures()))
}

// GetRecords returns every stock record observed so far, oldest first.
func (h *Handlers) GetRecords(w http.ResponseWriter, r *http.Request) {
	results := h.engine.Results()
	if results == nil {
		h.respondError(w, http.StatusServiceUnavailable, "run not started")
		return
	}

	h.respondJSON(w, http.StatusOK, results.Records())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
