// Package server exposes leases, extractions and corrections over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/schema"
	"github.com/leasebee/leasebee-cli/internal/store"
	"github.com/leasebee/leasebee-cli/internal/tracker"
)

// DefaultTrackerTTL is how long a finished progress record stays readable.
const DefaultTrackerTTL = 60 * time.Second

// Server wires the API routes to a Store and an Extractor.
type Server struct {
	store      store.Store
	extractor  Extractor
	schema     *schema.Schema
	trackers   *tracker.Registry
	trackerTTL time.Duration
	origins    []string
	log        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSchema overrides the field catalog.
func WithSchema(s *schema.Schema) Option {
	return func(srv *Server) {
		if s != nil {
			srv.schema = s
		}
	}
}

// WithTrackerTTL sets how long a finished progress record is kept.
func WithTrackerTTL(d time.Duration) Option {
	return func(srv *Server) {
		if d > 0 {
			srv.trackerTTL = d
		}
	}
}

// WithAllowedOrigins sets the CORS origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(srv *Server) {
		srv.origins = origins
	}
}

// WithRegistry shares a tracker registry.
func WithRegistry(r *tracker.Registry) Option {
	return func(srv *Server) {
		if r != nil {
			srv.trackers = r
		}
	}
}

// New creates a Server. A nil extractor makes extraction requests fail with
// 503.
func New(st store.Store, ex Extractor, opts ...Option) *Server {
	s := &Server{
		store:      st,
		extractor:  ex,
		schema:     schema.Default(),
		trackers:   tracker.NewRegistry(),
		trackerTTL: DefaultTrackerTTL,
		log:        zap.L().With(zap.String("component", "server")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/leases", func(r chi.Router) {
		r.Post("/", s.handleRegisterLease)
		r.Get("/", s.handleListLeases)
		r.Get("/{leaseID}", s.handleGetLease)
	})

	r.Route("/api/extractions", func(r chi.Router) {
		r.Get("/schema/fields", s.handleSchema)
		r.Post("/extract/{leaseID}", s.handleExtract)
		r.Get("/lease/{leaseID}", s.handleListExtractions)
		r.Get("/progress/{operationID}", s.handleProgress)
		r.Get("/{extractionID}", s.handleGetExtraction)
		r.Post("/{extractionID}/corrections", s.handleCreateCorrection)
		r.Get("/{extractionID}/corrections", s.handleListCorrections)
	})

	r.Route("/api/analytics", func(r chi.Router) {
		r.Get("/metrics", s.handleAccuracyMetrics)
		r.Get("/fields", s.handleFieldAccuracy)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.schema.Wire())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeStoreError maps store errors to responses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.log.Error("store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
