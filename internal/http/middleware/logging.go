// Package middleware holds the Gin middleware shared by every route:
// correlation ids, access logging (plain or redacted), panic recovery,
// Prometheus instrumentation, security headers, idempotency keys and rate
// limiting.
//
// Every middleware that aborts a request writes the same error envelope as
// the handlers: {"request_id", "code", "message"}.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/chatdys-backend/internal/sysutil"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogRunes caps the logged query string.
	maxQueryLogRunes = 512
)

// UserIDKey is the Gin context key carrying the resolved account id. It is
// set by the auth middleware and read by rate limiting, idempotency and logs.
const UserIDKey = "userID"

// Inbound ids are echoed into headers and logs, so only short opaque tokens
// are trusted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// RequestID propagates a well-formed X-Request-ID or mints a UUID, and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDPattern.MatchString(rid) {
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

// Logger is the development access log: the raw query string is kept and no
// header is logged.
func Logger() gin.HandlerFunc {
	return accessLog(nil)
}

// accessLog installs the request-scoped logger and writes one line per
// request once the handlers ran. With a redactor the query string and
// headers are scrubbed first; without one headers are left out entirely.
func accessLog(rd *redactor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		scoped := log.With().Str("request_id", RequestIDFrom(c)).Logger()
		setLogger(c, &scoped)

		query := c.Request.URL.RawQuery
		if cut := sysutil.TruncateRunes(query, maxQueryLogRunes); cut != query {
			query = cut + "…"
		}
		var headers map[string]string
		if rd != nil {
			query = rd.scrub(query)
			headers = rd.headers(c.Request.Header)
		}

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = scoped.Error()
		case status >= http.StatusBadRequest:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}
		if len(c.Errors) > 0 {
			errs := c.Errors.String()
			if rd != nil {
				errs = rd.scrub(errs)
			}
			ev = ev.Str("errors", errs)
		}
		if headers != nil {
			ev = ev.Interface("headers", headers)
		}
		if IdempotencyFrom(c).Replay {
			ev = ev.Bool("replayed", true)
		}

		// The account is bound after authentication, so it is read late.
		ev.Str("user_id", c.GetString(UserIDKey)).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	}
}

// Recovery turns a panic into the standard 500 envelope and logs the stack
// with the request's logger.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", routeOf(c)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// no access log is installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// BindUser records the resolved account id on the Gin context and rebinds the
// request-scoped logger so later log lines carry it.
func BindUser(c *gin.Context, userID string) {
	c.Set(UserIDKey, userID)
	l := LoggerFrom(c).With().Str("user_id", userID).Logger()
	setLogger(c, &l)
}

// setLogger stores l on the Gin context and on the request context, where
// services pick it up with log.Ctx.
func setLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	if c.Request != nil {
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	}
}

// abortJSON writes the error envelope shared with the handlers.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

// routeOf is the registered route, or the raw path for unmatched requests.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
