package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityRouter(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	r.GET("/api/user/profile", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": "acct-1"}) })
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=60")
		c.String(http.StatusOK, "<html></html>")
	})
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	w := httptest.NewRecorder()
	securityRouter(SecurityOptions{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user/profile", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q; want %q", k, got, v)
		}
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security"} {
		if got := w.Header().Get(k); got != "" {
			t.Errorf("%s unexpectedly set to %q", k, got)
		}
	}
}

func TestSecurityHeaders_PolicyAndCache(t *testing.T) {
	r := securityRouter(SecurityOptions{EnablePolicy: true, CacheControl: CachePrivateRevalidate})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user/profile", nil))
	if got := w.Header().Get("Cache-Control"); got != CachePrivateRevalidate {
		t.Fatalf("Cache-Control = %q", got)
	}
	if w.Header().Get("Permissions-Policy") == "" || w.Header().Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %v", w.Header())
	}

	// Handlers may override the default.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("override lost: %q", got)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	r := securityRouter(SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour})

	cases := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"plain http", func(*http.Request) {}, ""},
		{"direct tls", func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, "max-age=86400; includeSubDomains"},
		{"proxy https", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }, "max-age=86400; includeSubDomains"},
		{"proxy chain", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https, http") }, "max-age=86400; includeSubDomains"},
		{"proxy http", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "http") }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Strict-Transport-Security"); got != tc.want {
				t.Fatalf("HSTS = %q; want %q", got, tc.want)
			}
		})
	}

	// Zero max age falls back to 180 days.
	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	securityRouter(SecurityOptions{EnableHSTS: true}).ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains" {
		t.Fatalf("default HSTS = %q", got)
	}
}
