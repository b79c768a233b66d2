// Package middleware contains the Gin middleware shared by the HTTP layer:
// correlation ids, access logging, panic recovery, sessions, idempotency,
// rate limiting, metrics, and security headers.
//
// Recommended order on the engine:
//
//	RequestID → RedactingLogger → Recovery → ... → RequireSession (per group)
//
// so that every log line and error envelope carries the request id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key holding the correlation id.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation id in both directions.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key holding the request-scoped logger.
	loggerKey = "logger"
	// maxRequestIDLen bounds client supplied correlation ids.
	maxRequestIDLen = 128
)

// RequestID reuses a well-formed incoming X-Request-ID or generates a UUID,
// stores it under "requestID" and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation id of the request, or "".
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// validRequestID accepts short printable ASCII ids so that client input
// cannot inject control characters into logs or headers.
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// Recovery turns a panic into the standard JSON 500 envelope and logs the
// stack with the request-scoped logger.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			abortJSON(c, http.StatusInternalServerError, codeInternal, "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by RedactingLogger,
// or the global logger when none is attached. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// attachLogger builds the request-scoped logger and stores it on c. Route
// parameters naming a profile or entry are included when present.
func attachLogger(c *gin.Context, route string) *zerolog.Logger {
	lc := log.With().
		Str("request_id", RequestIDFrom(c)).
		Str("method", c.Request.Method).
		Str("route", route)
	if p := c.Param("profileId"); p != "" {
		lc = lc.Str("profile_id", p)
	}
	if id := c.Param("id"); id != "" {
		lc = lc.Str("reply_id", id)
	}
	l := lc.Logger()
	c.Set(loggerKey, &l)
	return &l
}

// Error codes written by middleware aborts. They share the taxonomy of the
// handler codes; the handlers package cannot be imported from here.
const (
	codeUnauthorized      = "unauthorized"
	codeRateLimited       = "too_many_requests"
	codeInternal          = "internal_error"
	codeBadIdempotencyKey = "bad_idempotency_key"
)

// abortJSON writes the error envelope used across the API. It mirrors
// handlers.ErrorResponse without importing it.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

// routeOf returns the matched route template, or the raw path for 404s.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
