package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const ctxKeyIdempotency = "idempotency"

// IdempotencyState is what Idempotency learned about the current request.
type IdempotencyState struct {
	// Key is the validated Idempotency-Key, empty when none was sent.
	Key string
	// Replay is set when a stored answer exists for Key. Such requests skip
	// rate limiting.
	Replay bool
}

// IdempotencyFrom returns the state recorded by Idempotency, or the zero
// state for requests it never saw.
func IdempotencyFrom(c *gin.Context) IdempotencyState {
	v, _ := c.Get(ctxKeyIdempotency)
	st, _ := v.(IdempotencyState)
	return st
}

// IdempotencyLookup reports whether accountID has a live stored answer
// under key.
type IdempotencyLookup func(ctx context.Context, accountID, key string) (bool, error)

// IdempotencyOptions configures Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet; nil means URL-safe characters
	// plus ':'.
	Pattern *regexp.Regexp
	// Lookup finds stored answers. Nil disables replay detection. A failing
	// lookup counts as a miss.
	Lookup IdempotencyLookup
}

var urlSafeKey = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// Idempotency checks the Idempotency-Key header and marks requests whose
// answer is already stored. Malformed keys get 400. It belongs after
// authentication because keys are per account; without an account on the
// context the key is recorded but never looked up.
func Idempotency(opts IdempotencyOptions) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = 200
	}
	if opts.Pattern == nil {
		opts.Pattern = urlSafeKey
	}

	return func(c *gin.Context) {
		st := IdempotencyState{Key: c.GetHeader(HeaderIdempotencyKey)}
		if st.Key == "" {
			c.Next()
			return
		}
		if len(st.Key) > opts.MaxLen || !opts.Pattern.MatchString(st.Key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}

		if acct := c.GetString(UserIDKey); acct != "" && opts.Lookup != nil {
			found, err := opts.Lookup(c.Request.Context(), acct, st.Key)
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed; treating as new request")
			case found:
				st.Replay = true
				idempotentReplays.Inc()
			}
		}

		c.Set(ctxKeyIdempotency, st)
		c.Next()
	}
}
