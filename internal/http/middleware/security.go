package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CachePrivateRevalidate keeps health and account data out of shared caches
// while still letting the browser revalidate with ETag.
const CachePrivateRevalidate = "private, no-cache"

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests. Only
	// enable when TLS terminates in front of every replica.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// CacheControl is the default Cache-Control of every response; handlers
	// may override it. Empty sends nothing.
	CacheControl string
	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

// SecurityHeaders sets the hardening headers of a JSON API. No CSP is sent;
// nothing here serves HTML except Swagger UI, which brings its own.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.CacheControl != "" {
			h.Set("Cache-Control", opt.CacheControl)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or through
// a proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
