package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cad-copilot/backend/pkg/errors"
	"cad-copilot/backend/pkg/jwt"
	"cad-copilot/backend/pkg/logger"
)

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	opts := DefaultRateLimiterOptions()
	opts.Limit = 0.001
	opts.Burst = 2
	rl := NewRateLimiter(logger.Nop(), opts)
	defer rl.Stop()

	r := gin.New()
	r.Use(errors.ErrorHandler(), rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterBucketsPerSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	opts := DefaultRateLimiterOptions()
	opts.Limit = 0.001
	opts.Burst = 1
	rl := NewRateLimiter(logger.Nop(), opts)
	defer rl.Stop()

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.GET("/sessions/:id", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/sessions/a")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get("/sessions/a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get("/sessions/b").Code)
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	opts := DefaultRateLimiterOptions()
	opts.IdleExpiry = time.Minute
	rl := NewRateLimiter(logger.Nop(), opts)
	defer rl.Stop()

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	rl.Allow("ip:1.2.3.4")
	require.Len(t, rl.buckets, 1)

	now = now.Add(2 * time.Minute)
	rl.evictIdle()
	assert.Empty(t, rl.buckets)
}

func TestRequireSessionToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := jwt.NewService("secret", time.Hour)
	token, err := svc.GenerateToken("s1")
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.GET("/sessions/:id", RequireSessionToken(svc, logger.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid", "/sessions/s1", "Bearer " + token, http.StatusOK},
		{"query token", "/sessions/s1?token=" + token, "", http.StatusOK},
		{"missing", "/sessions/s1", "", http.StatusUnauthorized},
		{"garbage", "/sessions/s1", "Bearer nope", http.StatusUnauthorized},
		{"other session", "/sessions/s2", "Bearer " + token, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
