// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Middleware ordering is fixed: tracing first, then RequestID, logging and
// recovery, so every later failure is correlated and logged.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/docs"
	"github.com/tbourn/offers-comments/internal/config"
	"github.com/tbourn/offers-comments/internal/domain"
	"github.com/tbourn/offers-comments/internal/http/handlers"
	"github.com/tbourn/offers-comments/internal/http/middleware"
	"github.com/tbourn/offers-comments/internal/repo"
	"github.com/tbourn/offers-comments/internal/services"
)

// replyRepoShim adapts the repository free functions to the
// services.ReplyRepo interface expected by the CommentService.
type replyRepoShim struct{}

// FindProfile proxies repo.FindProfile.
func (replyRepoShim) FindProfile(ctx context.Context, db *gorm.DB, id string, expand repo.Expand) (*domain.Profile, error) {
	return repo.FindProfile(ctx, db, id, expand)
}

// FindReply proxies repo.FindReply.
func (replyRepoShim) FindReply(ctx context.Context, db *gorm.DB, id string) (*domain.Reply, error) {
	return repo.FindReply(ctx, db, id)
}

// CreateReply proxies repo.CreateReply.
func (replyRepoShim) CreateReply(ctx context.Context, db *gorm.DB, profileID, userID string, replyingToID *string, message string) (*domain.Reply, error) {
	return repo.CreateReply(ctx, db, profileID, userID, replyingToID, message)
}

// UpdateReplyMessage proxies repo.UpdateReplyMessage.
func (replyRepoShim) UpdateReplyMessage(ctx context.Context, db *gorm.DB, id, message string) (*domain.Reply, error) {
	return repo.UpdateReplyMessage(ctx, db, id, message)
}

// DeleteReply proxies repo.DeleteReply.
func (replyRepoShim) DeleteReply(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteReply(ctx, db, id)
}

var corsAllowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderUserID, handlers.HeaderEditToken, middleware.HeaderIdempotencyKey, "If-None-Match",
}

var corsExposeHeaders = []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the comment service it built. pub may be nil, in which
// case no events are published.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Gzip and body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, pub services.EventPublisher, cfg config.Config) *services.CommentService {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Compression and body size limit
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, profileID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, profileID, key, now)
			if err != nil {
				return false, err
			}
			return rec != nil, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStoreUnsafe: true,
		EnablePolicy:  true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	svc := services.NewCommentService(db, replyRepoShim{})
	if cfg.Comments.MaxMessageRunes > 0 {
		svc.MaxMessageRunes = cfg.Comments.MaxMessageRunes
	}
	svc.LegacyDeleteFallthrough = cfg.Comments.LegacyDeleteFallthrough
	svc.FlatThreads = cfg.Comments.FlatThreads
	if pub != nil {
		svc.Events = pub
	}
	h := handlers.New(svc, handlers.WithIdempotencyTTL(cfg.IdempotencyTTL))

	// Public API; every discussion route needs a session.
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.RequireSession())
	{
		api.GET("/profiles/:profileId/comments", h.ListDiscussion)
		api.POST("/profiles/:profileId/comments", h.CreateReply)
		api.PATCH("/profiles/:profileId/comments/:id", h.UpdateReply)
		api.DELETE("/profiles/:profileId/comments/:id", h.DeleteReply)
	}
	return svc
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error. A non-positive cap disables it.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
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
