package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-routine-backend/internal/cache"
)

// WindowLimiter is a fixed-window counter kept in the shared cache store,
// so every instance behind a load balancer spends the same budget. Each
// window is one INCR'd key that expires with the window.
//
// Store errors fail open: the request is served and the failure logged.
type WindowLimiter struct {
	Store  cache.Store
	Max    int64
	Window time.Duration
	KeyFn  KeyFunc
	// Prefix namespaces the counters, e.g. "ratelimit:generate".
	Prefix string

	now func() time.Time
}

// NewWindowLimiter allows max requests per window for each KeyFn identity.
func NewWindowLimiter(store cache.Store, max int64, window time.Duration, prefix string) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &WindowLimiter{Store: store, Max: max, Window: window, KeyFn: KeyByIP(), Prefix: prefix, now: time.Now}
}

// Handler counts the request and sets X-RateLimit-Limit, -Remaining and
// -Reset (unix seconds). Over-budget requests get a 429.
func (wl *WindowLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if wl.Max <= 0 || IsRateBypass(c) {
			c.Next()
			return
		}
		now := wl.now()
		start := now.Truncate(wl.Window)
		reset := start.Add(wl.Window)
		key := wl.Prefix + ":" + wl.KeyFn(c) + ":" + strconv.FormatInt(start.Unix(), 10)

		ctx := c.Request.Context()
		n, err := wl.Store.Incr(ctx, key)
		if err == nil && n == 1 {
			err = wl.Store.Expire(ctx, key, wl.Window)
		}
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("limiter", wl.Prefix).Msg("rate limit store unavailable; allowing request")
			c.Next()
			return
		}

		remaining := wl.Max - n
		if remaining < 0 {
			remaining = 0
		}
		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(wl.Max, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if n > wl.Max {
			rateLimited(c, reset.Sub(now))
			return
		}
		c.Next()
	}
}
