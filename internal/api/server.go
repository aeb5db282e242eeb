package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/loader"
	"github.com/JakeFAU/renec-harvester/internal/metrics"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/store"
)

const (
	defaultPageLimit   = 50
	maxPageLimit       = 500
	defaultSearchLimit = 20
	maxSearchLimit     = 200
)

// Corpus is the read-only query surface served over HTTP. *loader.Loader
// implements it.
type Corpus interface {
	StandardByCode(code string) (renec.ECStandard, bool)
	CertifiersForStandard(code string) ([]renec.RegistryEntry, bool)
	CommitteeByID(id int) (renec.Committee, bool)
	CommitteeByClave(clave string) (renec.Committee, bool)
	StandardsBySector(sector string) []renec.ECStandard
	CommitteesBySector(sector string) []renec.Committee
	CertifiersByState(state string) []renec.RegistryEntry
	TrainingCentersByState(state string) []renec.RegistryEntry
	Search(query string, limit int) loader.SearchResults
	Stats() renec.ExtractionStats
	Counts() (committees, standards int)
}

// Config tunes the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	// APIKey, when set, is required on every /v1 request.
	APIKey string
}

// Server wires HTTP handlers to the corpus and run history.
type Server struct {
	router chi.Router
	corpus Corpus
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case /v1/runs answers 503.
func NewServer(corpus Corpus, runs store.RunRepository, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{corpus: corpus, logger: logger}
	runsHandler := NewRunsHandler(runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/standards", s.listStandards)
		r.Get("/standards/{code}", s.getStandard)
		r.Get("/standards/{code}/certifiers", s.standardCertifiers)
		r.Get("/committees", s.listCommittees)
		r.Get("/committees/{id}", s.getCommittee)
		r.Get("/certifiers", s.listCertifiers)
		r.Get("/training-centers", s.listTrainingCenters)
		r.Get("/search", s.search)
		r.Get("/stats", s.stats)
		r.Get("/runs", runsHandler.ListRuns)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once a corpus with at least one standard is loaded.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	committees, standards := s.corpus.Counts()
	if standards == 0 {
		writeError(w, http.StatusServiceUnavailable, "no standards loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"committees": committees,
		"standards":  standards,
	})
}

func (s *Server) getStandard(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	std, ok := s.corpus.StandardByCode(code)
	if !ok {
		writeError(w, http.StatusNotFound, "standard not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"standard": std})
}

func (s *Server) standardCertifiers(w http.ResponseWriter, r *http.Request) {
	certs, ok := s.corpus.CertifiersForStandard(chi.URLParam(r, "code"))
	if !ok {
		writeError(w, http.StatusNotFound, "standard not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(certs), "certifiers": certs})
}

func (s *Server) listStandards(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := s.corpus.StandardsBySector(r.URL.Query().Get("sector"))
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(all),
		"standards": page(all, limit, offset),
	})
}

// getCommittee accepts either the numeric id or the committee clave.
func (s *Server) getCommittee(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	var (
		com renec.Committee
		ok  bool
	)
	if id, err := strconv.Atoi(key); err == nil {
		com, ok = s.corpus.CommitteeByID(id)
	} else {
		com, ok = s.corpus.CommitteeByClave(key)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "committee not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committee": com})
}

func (s *Server) listCommittees(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := s.corpus.CommitteesBySector(r.URL.Query().Get("sector"))
	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(all),
		"committees": page(all, limit, offset),
	})
}

func (s *Server) listCertifiers(w http.ResponseWriter, r *http.Request) {
	s.listRegistry(w, r, "certifiers", s.corpus.CertifiersByState)
}

func (s *Server) listTrainingCenters(w http.ResponseWriter, r *http.Request) {
	s.listRegistry(w, r, "trainingCenters", s.corpus.TrainingCentersByState)
}

func (s *Server) listRegistry(
	w http.ResponseWriter,
	r *http.Request,
	key string,
	byState func(string) []renec.RegistryEntry,
) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := byState(r.URL.Query().Get("state"))
	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(all),
		key:     page(all, limit, offset),
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.corpus.Search(q, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"total":   res.Total(),
		"results": res,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.corpus.Stats())
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := min(offset+limit, len(all))
	return all[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("request_id", RequestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
