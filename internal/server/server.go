/**
 * HTTP API for the Document Extraction Worker
 *
 * - GET  /healthz                   database reachability
 * - GET  /v1/documents              records by status, newest first
 * - GET  /v1/documents/{id}         one record, latest upload by default
 * - GET  /v1/stats                  storage and queue statistics
 * - POST /v1/events                 S3 event notification, one job per record
 * - POST /v1/reconstruct            recognition response to document model
 */

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
	"github.com/adverant/nexus/docextract-worker/internal/queue"
	"github.com/adverant/nexus/docextract-worker/internal/storage"
)

const (
	maxEventBytes       = 1 << 20
	maxReconstructBytes = 32 << 20
	healthTimeout       = 2 * time.Second
)

// DocumentReader reads document records
type DocumentReader interface {
	GetDocument(ctx context.Context, documentID string, uploadTimestamp *time.Time) (*storage.DocumentRecord, error)
	QueryByStatus(ctx context.Context, status string, limit int) ([]*storage.DocumentRecord, error)
	Ping(ctx context.Context) error
}

// StatsFunc reports the statistics of one component
type StatsFunc func(ctx context.Context) (any, error)

// Server serves the worker's HTTP API
type Server struct {
	documents     DocumentReader
	queue         queue.Enqueuer
	reconstructor *processor.StructureReconstructor
	origins       []string
	stats         map[string]StatsFunc
	logger        *logging.Logger
}

// New creates the API server. A nil enqueuer disables POST /v1/events.
func New(documents DocumentReader, enqueuer queue.Enqueuer) *Server {
	return &Server{
		documents:     documents,
		queue:         enqueuer,
		reconstructor: processor.NewStructureReconstructor(),
		stats:         map[string]StatsFunc{},
		logger:        logging.NewLogger("server"),
	}
}

// WithAllowedOrigins enables CORS for the given origins
func (s *Server) WithAllowedOrigins(origins ...string) *Server {
	s.origins = origins
	return s
}

// WithStats adds a component to GET /v1/stats
func (s *Server) WithStats(name string, fn StatsFunc) *Server {
	s.stats[name] = fn
	return s
}

// Attach registers the API routes on r
func (s *Server) Attach(r chi.Router) {
	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/stats", s.handleStats)

		r.Post("/events", s.handleEvents)
		r.Post("/reconstruct", s.handleReconstruct)
	})
}

// Handler returns the instrumented router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.Attach(r)

	return otelhttp.NewHandler(r, "docextract-api")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if s.documents == nil {
		writeError(w, http.StatusServiceUnavailable, nil)
		return
	}

	if err := s.documents.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJson(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	result := make(map[string]any, len(s.stats))

	for name, fn := range s.stats {
		stats, err := fn(r.Context())

		if err != nil {
			s.logger.Warn("Failed to collect stats", "component", name, "error", err)
			result[name] = map[string]string{"error": err.Error()}
			continue
		}

		result[name] = stats
	}

	writeJson(w, result)
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeJsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.WriteHeader(code)

	text := http.StatusText(code)

	if err != nil {
		text = err.Error()
	}

	w.Write([]byte(text))
}
