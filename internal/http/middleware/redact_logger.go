package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are masked entirely in addition to Authorization, Cookie,
	// Set-Cookie and Stripe-Signature. Matching is case-insensitive.
	MaskHeaders []string
}

// RedactingLogger is the production access log. Query strings, header
// values and collected errors are scrubbed of emails, phone numbers, UUIDs,
// bearer tokens and payment-provider object ids before they are written.
// Bodies are never logged.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	return accessLog(newRedactor(opts.MaskHeaders))
}

// Replacement order matters: the phone pattern is loose enough to eat the
// digit runs of UUIDs and provider ids, so those go first.
var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/\-]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), "[REDACTED:jwt]"},
	{regexp.MustCompile(`\b(?:cus|sub|cs|bps|evt|pi|in)_[A-Za-z0-9]{6,}`), "[REDACTED:billing]"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+(?:@|%40)[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

type redactor struct {
	masked map[string]struct{}
}

func newRedactor(extra []string) *redactor {
	rd := &redactor{masked: map[string]struct{}{
		"authorization":    {},
		"cookie":           {},
		"set-cookie":       {},
		"stripe-signature": {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			rd.masked[h] = struct{}{}
		}
	}
	return rd
}

func (rd *redactor) scrub(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// headers flattens h with masked headers replaced and the rest scrubbed.
func (rd *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := rd.masked[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = rd.scrub(strings.Join(vv, ", "))
	}
	return out
}
