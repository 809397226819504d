package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// HeaderIdempotencyKey carries the client's retry key on POST requests.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // *domain.Idempotency
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// ReplayFrom returns the stored record when the request repeats an earlier
// keyed request that is still within its TTL.
func ReplayFrom(c *gin.Context) (*domain.Idempotency, bool) {
	rec, _ := c.Value(ctxKeyIdemReplay).(*domain.Idempotency)
	return rec, rec != nil
}

// IsReplay reports whether ReplayFrom would return a record.
func IsReplay(c *gin.Context) bool {
	_, ok := ReplayFrom(c)
	return ok
}

// IdempotencyScope is the scope a key is stored under: the matched route, so
// one key cannot replay across endpoints.
func IdempotencyScope(c *gin.Context) string {
	return c.Request.Method + " " + routeOf(c)
}

// ClientID identifies the caller that owns an idempotency key.
func ClientID(c *gin.Context) string { return "ip:" + c.ClientIP() }

// IdempotencyOptions configures header validation. TTLs are enforced by the
// lookup.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil selects ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the live record for (clientID, scope, key), or
// nil when there is none.
type IdempotencyLookup func(ctx context.Context, clientID, scope, key string, now time.Time) (*domain.Idempotency, error)

// IdempotencyValidator validates the Idempotency-Key header of unsafe
// requests and stashes it. When lookup finds a stored record the request is
// marked as a replay and exempted from rate limiting; the handler decides
// how to answer it. Lookup errors are logged and the request proceeds as new.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid Idempotency-Key header",
				"code":    "bad_idempotency_key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			rec, err := lookup(c.Request.Context(), ClientID(c), IdempotencyScope(c), key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case rec != nil:
				c.Set(ctxKeyIdemReplay, rec)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
