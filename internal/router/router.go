// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/subx-ng/subx-core/internal/config"
	"github.com/subx-ng/subx-core/internal/handler"
	"github.com/subx-ng/subx-core/internal/middleware"
	"github.com/subx-ng/subx-core/internal/model"
)

// Handlers groups the route handlers.
type Handlers struct {
	Plots     *handler.PlotHandler
	Portfolio *handler.PortfolioHandler
	Purchases *handler.PurchaseHandler
	Webhooks  *handler.WebhookHandler
	Admin     *handler.AdminHandler
}

// Options configures the cross-cutting middleware.  Redis may be nil,
// which disables rate limiting and response caching.
type Options struct {
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	DB        *sql.DB
	Metrics   http.Handler
	Logger    *slog.Logger
}

// New returns an echo instance with every route registered.
func New(h Handlers, opts Options) *echo.Echo {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(opts.Logger))
	Register(e, h, opts)
	return e
}

// Register mounts the API:
//
//	public    /healthz /readyz /metrics /v1/plots...
//	provider  /v1/payments/paystack/webhook (signature checked, no JWT)
//	user      /v1/portfolio... /v1/purchases...
//	admin     /v1/admin/...
func Register(e *echo.Echo, h Handlers, opts Options) {
	e.GET("/healthz", handler.Health)
	if opts.DB != nil {
		e.GET("/readyz", handler.Ready(opts.DB))
	}
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	limit := middleware.NewTokenBucket(opts.RateLimit, opts.Redis, opts.Logger)

	v1 := e.Group("/v1")
	v1.GET("/plots", h.Plots.List, limit)
	v1.GET("/plots/catalog", h.Plots.Catalog, limit, middleware.NewRedisCache(opts.Cache, opts.Redis))
	v1.GET("/plots/:id/availability", h.Plots.Availability, limit)

	v1.POST("/payments/paystack/webhook", h.Webhooks.Paystack)

	user := []echo.MiddlewareFunc{middleware.JWTAuth(opts.JWTSecret), limit}
	v1.GET("/portfolio", h.Portfolio.Get, user...)
	v1.GET("/portfolio/records/:id/documents/:kind", h.Portfolio.Document, user...)
	v1.POST("/purchases", h.Purchases.Initiate, user...)
	v1.GET("/purchases/:reference", h.Purchases.Get, user...)
	v1.POST("/purchases/:reference/callback", h.Purchases.Callback, user...)

	admin := v1.Group("/admin", middleware.JWTAuth(opts.JWTSecret), middleware.RequireRole(model.RoleAdmin))
	admin.GET("/reconciliation", h.Admin.Flags)
	admin.POST("/reconciliation/:id/resolve", h.Admin.ResolveFlag)
	admin.POST("/plots/:id/reconcile", h.Admin.ReconcilePlot)
	admin.POST("/records/:id/cancel", h.Admin.CancelRecord)
	admin.POST("/identities/backfill", h.Admin.BackfillIdentity)
}
