package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/karimtraders/grocery/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
)

// RouteRegistrar adds one group of endpoints under /api/v1.
type RouteRegistrar func(r chi.Router)

type middlewareChain = []func(http.Handler) http.Handler

// routeGroup is mounted in its own chi group so guards installed by the registrar, or passed
// in guards, never leak into neighbouring groups.
type routeGroup struct {
	register RouteRegistrar
	guards   middlewareChain
}

type groupName int

const (
	groupCart groupName = iota
	groupOrders
	groupAccount
	groupAdmin
	groupWebhooks
	groupInternal
	groupCount
)

type routerConfig struct {
	middlewares middlewareChain
	health      *HealthHandlers
	metrics     http.Handler
	groups      [groupCount]routeGroup
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface: probes and metrics at the root, the API under /api/v1.
// Request id, real IP and a 30s timeout always run first.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: middlewareChain{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		health:      NewHealthHandlers(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	use(r, cfg.middlewares)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(apiPrefix, func(api chi.Router) {
		for _, g := range cfg.groups {
			if g.register == nil {
				continue
			}
			api.Group(func(group chi.Router) {
				use(group, g.guards)
				g.register(group)
			})
		}
	})
	return r
}

func use(r chi.Router, chain middlewareChain) {
	for _, mw := range chain {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func withGroup(name groupName, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[name].register = reg }
}

// WithMiddlewares appends router-wide middleware after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		if h != nil {
			cfg.health = h
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = h }
}

// WithCartRoutes mounts the cart and coupon preview endpoints.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroup(groupCart, reg) }

// WithOrderRoutes mounts the shopper order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup(groupOrders, reg) }

// WithAccountRoutes mounts wallet and notification endpoints.
func WithAccountRoutes(reg RouteRegistrar) Option { return withGroup(groupAccount, reg) }

// WithAdminRoutes mounts the order administration endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup(groupAdmin, reg) }

// WithWebhookRoutes mounts the PSP callback endpoint.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup(groupWebhooks, reg) }

// WithInternalRoutes mounts the operator endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup(groupInternal, reg) }

// WithInternalMiddlewares guards the internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupInternal].guards = append(cfg.groups[groupInternal].guards, mw...)
	}
}
