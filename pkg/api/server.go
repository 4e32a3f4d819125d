package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/emulation"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/middleware"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// AuditSearcher queries stored audit events.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// RouteRegistrar is a group of handlers that registers its own routes.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Dependencies wires the API server. Verifier, Resolver, Emulation, Codec,
// Checker, CSRF and Limiter are required.
type Dependencies struct {
	Logger logrus.FieldLogger

	Verifier  auth.SessionVerifier
	Resolver  *emulation.Resolver
	Emulation *emulation.Service
	Codec     *emulation.CookieCodec
	Checker   *rbac.Checker
	Gate      *middleware.Gate
	CSRF      *middleware.CSRF

	Limiter          middleware.Limiter
	AdminLimit       middleware.RateLimitConfig
	RateLimitOptions []middleware.RateLimitOption

	Audit       audit.Logger
	AuditSearch AuditSearcher

	// Health answers GET /api/health when set.
	Health http.Handler

	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Tracing     bool

	SecureCookies bool
	MaxBodyBytes  int64
}

// Server is the accessgate HTTP API.
type Server struct {
	router  *mux.Router
	deps    Dependencies
	handler http.Handler
}

// NewServer creates the API server and registers every route.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Verifier == nil || deps.Resolver == nil || deps.Emulation == nil || deps.Codec == nil {
		return nil, errors.New("api: session verifier and emulation components are required")
	}
	if deps.Checker == nil || deps.CSRF == nil || deps.Limiter == nil {
		return nil, errors.New("api: permission checker, csrf and rate limiter are required")
	}

	if deps.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		deps.Logger = discard
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}
	if deps.Gate == nil {
		deps.Gate = middleware.NewGate(deps.Checker, deps.Audit, deps.Logger)
	}
	if deps.AdminLimit.Max <= 0 || deps.AdminLimit.Window <= 0 {
		deps.AdminLimit = middleware.AdminRateLimit
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	s.handler = s.buildHandler()
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Route-level metrics need mux.CurrentRoute, so they run inside the router.
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	if s.deps.OTelMetrics != nil {
		s.router.Use(s.deps.OTelMetrics.Middleware)
	}

	s.router.NotFoundHandler = http.HandlerFunc(notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	if s.deps.Health != nil {
		s.router.Handle("/api/health", s.deps.Health).Methods(http.MethodGet)
	}

	registrars := []RouteRegistrar{
		NewSessionHandlers(s.deps.CSRF, s.deps.Checker, s.deps.Codec, s.deps.Audit, s.deps.Logger, s.deps.SecureCookies),
		NewEmulationHandlers(s.deps.Emulation, s.deps.Gate, s.deps.CSRF, s.rateLimit, s.deps.Logger),
		NewAdminHandlers(s.deps.Checker, s.deps.Gate, s.deps.CSRF, s.deps.Audit, s.deps.AuditSearch, s.deps.Logger),
	}
	for _, registrar := range registrars {
		registrar.RegisterRoutes(s.router)
	}
}

// rateLimit throttles endpoint with the admin preset.
func (s *Server) rateLimit(endpoint string) func(http.Handler) http.Handler {
	return middleware.RateLimit(s.deps.Limiter, s.deps.AdminLimit, endpoint, s.deps.RateLimitOptions...)
}

func (s *Server) buildHandler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(s.deps.Logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
		httputil.SecurityHeadersMiddleware,
	}
	if s.deps.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes))
	}
	chain = append(chain,
		auth.SessionMiddleware(s.deps.Verifier, false, s.deps.Logger),
		s.deps.Resolver.Middleware,
	)

	handler := httputil.Chain(chain...)(s.router)
	if s.deps.Tracing {
		handler = otelhttp.NewHandler(handler, "accessgate-api")
	}
	return handler
}

// Handler returns the router wrapped in the global middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteAppError(w, apperrors.NotFound("Route not found"))
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}
