package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"cad-copilot/backend/pkg/config"
	"cad-copilot/backend/pkg/errors"
	"cad-copilot/backend/pkg/logger"
)

// RateLimiterOptions configures the rate limiter
type RateLimiterOptions struct {
	// Limit is the sustained rate in requests per second
	Limit rate.Limit
	// Burst is the bucket size
	Burst int
	// IdleExpiry drops buckets not used for this long
	IdleExpiry time.Duration
	// KeyFunc picks the bucket for a request
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimiterOptions returns sensible defaults
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Limit:      5,
		Burst:      10,
		IdleExpiry: time.Hour,
		KeyFunc:    SessionOrIPKey,
	}
}

// RateLimiterOptionsFromConfig limits each client by the Security section.
// Model calls are slow and costly, so the defaults are low.
func RateLimiterOptionsFromConfig(cfg *config.Config) RateLimiterOptions {
	opts := DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst
	return opts
}

// SessionOrIPKey buckets session routes by session and everything else by
// client IP, so one browser driving several sessions is not starved.
func SessionOrIPKey(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return "session:" + id
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per key
type RateLimiter struct {
	mu      sync.Mutex
	options RateLimiterOptions
	buckets map[string]*bucket
	logger  *logger.Logger
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(logger *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = SessionOrIPKey
	}

	return &RateLimiter{
		options: opts,
		buckets: make(map[string]*bucket),
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Stop ends the cleanup goroutine.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// Allow takes a token from key's bucket and reports the tokens left.
func (r *RateLimiter) Allow(key string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.options.Limit, r.options.Burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))
	return allowed, remaining
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	go r.cleanup()

	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)
		allowed, remaining := r.Allow(key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(r.options.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			r.logger.Warn("Rate limit exceeded",
				"client", key,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.Header("Retry-After", strconv.Itoa(r.retryAfter()))
			c.Error(errors.NewError(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests. Please try again later."))
			c.Abort()
			return
		}

		c.Next()
	}
}

// retryAfter is the whole seconds until one token refills.
func (r *RateLimiter) retryAfter() int {
	if r.options.Limit <= 0 {
		return 60
	}
	return int(math.Ceil(1 / float64(r.options.Limit)))
}

// cleanup drops idle buckets every minute until Stop.
func (r *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *RateLimiter) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.options.IdleExpiry {
			delete(r.buckets, k)
		}
	}
}
