package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/httputil"
	"github.com/platinummonkey/meterline/pkg/observability"
)

// DefaultMaxBodyBytes caps request bodies when ServerOptions.MaxBodyBytes is zero
const DefaultMaxBodyBytes = 1 << 20

// ServerOptions holds the collaborators of the HTTP API. Only Service is required.
type ServerOptions struct {
	Service      billing.Service
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	Health       *observability.HealthChecker
	MaxBodyBytes int64
}

// Server is the meterline REST API
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer builds the router. Billing routes live under /api/v1; health and
// metrics endpoints are mounted at the root.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, httputil.ErrorResponse{
			Error: "route not found",
			Code:  httputil.CodeNotFound,
		})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Error: "method not allowed",
		})
	})

	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods(http.MethodGet)
	}
	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	NewBillingHandlers(opts.Service, opts.Logger).RegisterRoutes(v1)

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.LoggingMiddleware(opts.Logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(s.router)

	return s
}

// Router exposes the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
