// Package server exposes the classification pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knoguchi/logclass/internal/auth"
	"github.com/knoguchi/logclass/internal/pipeline"
	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/retriever"
)

// HTTPServer wraps the HTTP API around the pipeline.
type HTTPServer struct {
	server   *http.Server
	router   *chi.Mux
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port       int
	Logger     *slog.Logger
	APIKey     string
	JWTManager *auth.JWTManager
}

// NewHTTPServer creates the HTTP server and wires routes.
func NewHTTPServer(cfg HTTPServerConfig, p *pipeline.Pipeline) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)

	s := &HTTPServer{
		router:   router,
		pipeline: p,
		logger:   logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.APIKeyMiddleware(cfg.APIKey))
			r.Post("/classify", s.handleClassify)
			r.Post("/classify/batch", s.handleClassifyBatch)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.AnalystMiddleware(cfg.JWTManager))
			r.Post("/decisions/{id}/override", s.handleOverride)
			r.Get("/decisions/{id}", s.handleGetDecision)
		})
	})

	return s
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// decisionResponse is the API shape of a decision.
type decisionResponse struct {
	DecisionID string                       `json:"decision_id"`
	ClassID    string                       `json:"class_id"`
	Confidence float64                      `json:"confidence"`
	Status     string                       `json:"status"`
	Candidates []repository.RankedCandidate `json:"candidates"`
	Attributes map[string]string            `json:"attributes,omitempty"`
	DecidedAt  time.Time                    `json:"decided_at"`
	Degraded   bool                         `json:"degraded,omitempty"`
	Overridden *overrideProjection          `json:"override,omitempty"`
}

type overrideProjection struct {
	ClassID string     `json:"class_id"`
	Author  string     `json:"author"`
	At      *time.Time `json:"at"`
}

func toDecisionResponse(d *repository.Decision, degraded bool) decisionResponse {
	resp := decisionResponse{
		DecisionID: d.ID.String(),
		ClassID:    d.AuthoritativeClass(),
		Confidence: d.Confidence,
		Status:     d.Status,
		Candidates: d.Candidates,
		Attributes: d.Attributes,
		DecidedAt:  d.DecidedAt,
		Degraded:   degraded,
	}
	if d.Status == repository.StatusOverridden {
		resp.Overridden = &overrideProjection{
			ClassID: d.OverrideClass,
			Author:  d.OverrideAuthor,
			At:      d.OverriddenAt,
		}
	}
	return resp
}

// handleClassify runs one record through the pipeline synchronously.
func (s *HTTPServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var rec repository.NormalizedRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRecord(&rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.pipeline.Classify(r.Context(), &rec)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toDecisionResponse(d, false))
	case errors.Is(err, pipeline.ErrTimeout) && d != nil:
		// Deadline blew but a degraded decision was still recorded.
		writeJSON(w, http.StatusGatewayTimeout, toDecisionResponse(d, true))
	case errors.Is(err, pipeline.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "classification deadline exceeded")
	case errors.Is(err, pipeline.ErrOverloaded):
		writeError(w, http.StatusTooManyRequests, "pipeline overloaded, retry later")
	case errors.Is(err, retriever.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "retrieval backend unavailable")
	default:
		s.logger.Error("classification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "classification failed")
	}
}

// batchRequest carries multiple records for classification.
type batchRequest struct {
	Records []repository.NormalizedRecord `json:"records"`
}

type batchResult struct {
	Decision *decisionResponse `json:"decision,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// handleClassifyBatch classifies records one by one; per-record failures
// do not fail the batch.
func (s *HTTPServer) handleClassifyBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records is required")
		return
	}

	results := make([]batchResult, len(req.Records))
	for i := range req.Records {
		rec := &req.Records[i]
		if err := validateRecord(rec); err != nil {
			results[i] = batchResult{Error: err.Error()}
			continue
		}
		d, err := s.pipeline.Classify(r.Context(), rec)
		if err != nil && d == nil {
			results[i] = batchResult{Error: err.Error()}
			continue
		}
		resp := toDecisionResponse(d, errors.Is(err, pipeline.ErrTimeout))
		results[i] = batchResult{Decision: &resp}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// overrideRequest is the analyst correction payload.
type overrideRequest struct {
	NewClass string `json:"new_class"`
	Reason   string `json:"reason"`
}

// handleOverride appends an analyst override to a decision.
func (s *HTTPServer) handleOverride(w http.ResponseWriter, r *http.Request) {
	decisionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision id")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NewClass == "" {
		writeError(w, http.StatusBadRequest, "new_class is required")
		return
	}

	author, ok := auth.AnalystFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "analyst identity missing")
		return
	}

	event, err := s.pipeline.SubmitOverride(r.Context(), decisionID, req.NewClass, req.Reason, author)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		s.logger.Error("override failed", "decision_id", decisionID, "error", err)
		writeError(w, http.StatusInternalServerError, "override failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":    event.ID.String(),
		"decision_id": event.DecisionID.String(),
		"class_id":    event.ClassID,
		"reason":      event.Reason,
		"author":      event.Author,
		"created_at":  event.CreatedAt,
	})
}

// handleGetDecision returns a decision with its override history.
func (s *HTTPServer) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	decisionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision id")
		return
	}

	d, events, err := s.pipeline.GetDecision(r.Context(), decisionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		s.logger.Error("decision lookup failed", "decision_id", decisionID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	history := make([]map[string]any, len(events))
	for i, e := range events {
		history[i] = map[string]any{
			"event_id":   e.ID.String(),
			"class_id":   e.ClassID,
			"reason":     e.Reason,
			"author":     e.Author,
			"created_at": e.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decision":        toDecisionResponse(d, false),
		"auto_class":      d.ClassID,
		"override_events": history,
	})
}

// validateRecord checks the fields the pipeline depends on.
func validateRecord(rec *repository.NormalizedRecord) error {
	if rec.Text == "" {
		return errors.New("text is required")
	}
	if rec.SourceID == "" {
		return errors.New("sourceId is required")
	}
	if rec.IngestTimestamp == "" {
		return errors.New("ingestTimestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, rec.IngestTimestamp); err != nil {
		return errors.New("ingestTimestamp must be ISO-8601")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readinessCheckHandler returns a handler for the /readyz endpoint
func readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
