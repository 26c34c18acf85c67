// Package api serves the refi-monitor HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/mortgage"
	"github.com/sells-group/refi-monitor/internal/store"
)

// RateSource returns the snapshot alerts are previewed against.
type RateSource interface {
	GetCurrentRates(ctx context.Context) (*model.Snapshot, error)
}

// SnapshotHook runs after a snapshot is uploaded, e.g. to drop a cache.
type SnapshotHook func(ctx context.Context, snap model.Snapshot)

// Server holds the API's collaborators.
type Server struct {
	store    store.Store
	engine   *engine.Engine
	rates    RateSource
	costs    engine.ClosingCostPolicy
	clock    func() time.Time
	origins  []string
	onUpload SnapshotHook
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the wall clock used for evaluations and state changes.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// WithCORSOrigins sets the allowed CORS origins. Default: all.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithSnapshotHook runs hook after every accepted rate upload.
func WithSnapshotHook(hook SnapshotHook) Option {
	return func(s *Server) { s.onUpload = hook }
}

// New creates a Server. rates may be nil, in which case previews use the
// latest stored snapshot.
func New(st store.Store, eng *engine.Engine, rates RateSource, costs engine.ClosingCostPolicy, opts ...Option) *Server {
	s := &Server{
		store:   st,
		engine:  eng,
		rates:   rates,
		costs:   costs,
		clock:   time.Now,
		origins: []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/templates", s.listTemplates)

	r.Route("/properties", func(r chi.Router) {
		r.Get("/", s.listProperties)
		r.Post("/", s.createProperty)
		r.Route("/{propertyID}", func(r chi.Router) {
			r.Get("/", s.getProperty)
			r.Put("/", s.updateProperty)
			r.Delete("/", s.deleteProperty)
			r.Get("/loan", s.getLoanFacts)
			r.Get("/alerts", s.listAlerts)
			r.Post("/alerts", s.createAlert)
		})
	})

	r.Route("/alerts/{alertID}", func(r chi.Router) {
		r.Get("/", s.getAlert)
		r.Delete("/", s.deleteAlert)
		r.Post("/snooze", s.snoozeAlert)
		r.Post("/unsnooze", s.unsnoozeAlert)
		r.Post("/acknowledge", s.acknowledgeAlert)
		r.Post("/evaluate", s.previewAlert)
		r.Get("/decisions", s.listDecisions)
	})

	r.Get("/rates", s.getRates)
	r.Post("/rates", s.uploadRates)

	return r
}

func (s *Server) now() time.Time { return s.clock().UTC() }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps domain errors onto HTTP statuses.
func fail(w http.ResponseWriter, err error) {
	var domainErr *mortgage.DomainError
	var inputErr *engine.InvalidInputError
	switch {
	case store.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case store.IsInvalid(err), errors.As(err, &domainErr), errors.As(err, &inputErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case eris.Is(err, alert.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("api: internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
