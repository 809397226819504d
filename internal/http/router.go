// Package httpapi wires the HTTP transport (Gin) to the routine services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Streaming endpoints are never buffered, compressed, or cached
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-routine-backend/docs"
	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/config"
	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/http/handlers"
	"github.com/tbourn/go-routine-backend/internal/http/middleware"
	"github.com/tbourn/go-routine-backend/internal/observability"
	"github.com/tbourn/go-routine-backend/internal/repo"
)

// Dependencies are the collaborators RegisterRoutes mounts.
type Dependencies struct {
	DB       *gorm.DB
	Routines handlers.RoutineService
	Products handlers.ProductService // optional
	// Store backs /ready checks.
	Store cache.Store
	// RateStore enables the shared fixed-window limiter on the generate
	// route. Leave nil for single-instance deployments.
	RateStore cache.Store
	// StreamStop is closed when the server begins shutting down; open
	// event streams end on it.
	StreamStop <-chan struct{}
}

// idempotencyStore adapts the repository free functions to
// handlers.IdempotencyStore and the middleware lookup.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Save proxies repo.CreateIdempotency.
func (s idempotencyStore) Save(ctx context.Context, clientID, scope, key, sessionID string, cached bool, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, clientID, scope, key, sessionID, cached, status, s.ttl)
	return err
}

// lookup proxies repo.GetIdempotency; a miss is (nil, nil).
func (s idempotencyStore) lookup(ctx context.Context, clientID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, clientID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger or RedactingLogger: request-scoped structured logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per IP, bypass on replay)
//  9. CORS, security headers and compression
func RegisterRoutes(r *gin.Engine, deps Dependencies, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	base := cfg.APIBasePath
	if base == "/" {
		base = ""
	}
	streamPrefix := base + "/routine/stream"
	channelPrefix := base + "/routine/channel"

	// 1) Trace API requests; probes, scrapes and long-lived streams stay out
	r.Use(observability.HTTPTracing(cfg.OTEL.ServiceName, nil, "/health", "/ready", "/metrics", streamPrefix+"/"))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging, scrubbed unless disabled
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	r.Use(limitBody(maxBody))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	var idem handlers.IdempotencyStore
	var lookup middleware.IdempotencyLookup
	if deps.DB != nil {
		store := idempotencyStore{db: deps.DB, ttl: cfg.IdempotencyTTL}
		idem, lookup = store, store.lookup
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	// 8) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP(), "/health", "/ready", "/metrics", "/swagger")
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Last-Event-ID", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStorePaths: []string{streamPrefix, channelPrefix},
		EnablePolicy: true,
	}))

	// Compression, never for event streams
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPrefix, "/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Routines, deps.Products, idem, handlers.Options{
		DirectMaxWait: cfg.Routine.DirectMaxWait,
		SSE: handlers.SSEOptions{
			PollInterval: cfg.SSE.PollInterval,
			MaxDuration:  cfg.SSE.MaxDuration,
			Heartbeat:    cfg.SSE.Heartbeat,
			Stop:         deps.StreamStop,
		},
	})

	generate := []gin.HandlerFunc{h.GenerateRoutine}
	if deps.RateStore != nil && cfg.RateWindowMax > 0 {
		wl := middleware.NewWindowLimiter(deps.RateStore, int64(cfg.RateWindowMax), cfg.RateWindow, "ratelimit:generate")
		generate = append([]gin.HandlerFunc{wl.Handler()}, generate...)
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Routines
		api.POST("/routine/generate", generate...)
		api.GET("/routine", h.GetRoutine)
		api.GET("/routine/sessions/:sessionId", h.GetSession)
		api.DELETE("/routine/sessions/:sessionId", h.CancelSession)

		// Session channel
		api.GET("/routine/channel/:sessionId", h.PollChannel)
		api.GET("/routine/stream/:sessionId", h.StreamChannel)

		// Catalog
		api.GET("/products", h.ListProducts)
		api.POST("/products", h.UploadProducts)
	}
}

// readiness reports 503 until the database and the cache store answer.
func readiness(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		ready := true
		if deps.DB != nil {
			checks["database"] = "ok"
			if sqlDB, err := deps.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				checks["database"], ready = "unavailable", false
			}
		}
		if deps.Store != nil {
			checks["cache"] = "ok"
			if err := deps.Store.Ping(ctx); err != nil {
				checks["cache"], ready = "unavailable", false
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "checks": checks})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
