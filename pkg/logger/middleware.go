package logger

import (
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxRequestIDLen = 64

// Middleware tags every request with a request ID and a request-scoped
// logger, then logs the outcome. Paths in skip are served but not logged.
// Errors are logged by the error handler, not here.
func Middleware(l *Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		requestID := sanitizeRequestID(c.GetHeader("X-Request-ID"))
		c.Header("X-Request-ID", requestID)

		reqLogger := l.WithRequestID(requestID).WithSessionID(c.Param("id"))
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), reqLogger))

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if skipped[path] {
			return
		}
		reqLogger.LogRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// sanitizeRequestID keeps a caller-supplied ID only when it is short and
// printable, so it cannot forge log lines.
func sanitizeRequestID(id string) string {
	if id == "" || len(id) > maxRequestIDLen {
		return uuid.NewString()
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return uuid.NewString()
		}
	}
	return id
}
