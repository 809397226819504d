// Package middleware contains the Gin middleware of the routine API.
//
// This file provides the correlation id, the request-scoped zerolog logger,
// a plain access logger and panic recovery. Suggested order:
//
//  1. RequestID()
//  2. Logger() or RedactingLogger()
//  3. Recovery()
//
// so that panics and access lines carry the correlation id. Handlers and the
// services they call log through LoggerFrom(c), which already holds the
// request id, the matched route and, on session routes, the session id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// sessionParam is the route parameter naming a generation session.
	sessionParam = "sessionId"

	maxQueryLogLength = 2048
	maxRequestIDLen   = 128
)

// RequestID reuses a well-formed X-Request-ID from the client or generates
// a UUIDv4, stores it in the context and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation id set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// attachLogger stores a logger carrying the request's identifying fields
// and returns it.
func attachLogger(c *gin.Context) *zerolog.Logger {
	lc := log.With().
		Str("request_id", RequestIDFrom(c)).
		Str("method", c.Request.Method).
		Str("route", routeOf(c))
	if sid := c.Param(sessionParam); sid != "" {
		lc = lc.Str("session_id", sid)
	}
	l := lc.Logger()
	c.Set(loggerKey, &l)
	return &l
}

// Logger attaches the request-scoped logger and writes one access line per
// request: error for 5xx or recorded gin errors, warn for 4xx, info otherwise.
// Query strings are logged verbatim (truncated); use RedactingLogger where
// they may carry personal data.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := attachLogger(c)

		c.Next()

		ev := l.With().
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery turns a panic into a 500 with the API's error envelope. Nothing
// is written when the handler already started the response (an SSE stream,
// for instance); the connection is just aborted.
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
				Msg("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success":    false,
				"error":      "Internal server error",
				"code":       "internal_error",
				"request_id": rid,
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// none was attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate cuts s to max bytes. max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
