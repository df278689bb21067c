package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/pkg/health"
)

// HealthHandler reports component health
type HealthHandler struct {
	checker     *health.Checker
	connections func() int
	version     string
	startTime   time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status     string                       `json:"status"`
	Timestamp  time.Time                    `json:"timestamp"`
	Version    string                       `json:"version"`
	Uptime     string                       `json:"uptime"`
	Components map[string]*health.Component `json:"components"`
	WebSocket  gin.H                        `json:"websocket"`
	Memory     gin.H                        `json:"memory"`
}

func NewHealthHandler(checker *health.Checker, connections func() int, version string) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		connections: connections,
		version:     version,
		startTime:   time.Now(),
	}
}

// Health answers 503 when a critical component is down. A degraded system
// (no Redis, an open provider circuit) still answers 200.
func (h *HealthHandler) Health(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status, code := "ok", http.StatusOK
	switch h.checker.Overall() {
	case health.StatusDown:
		status, code = "unavailable", http.StatusServiceUnavailable
	case health.StatusDegraded:
		status = "degraded"
	}

	active := 0
	if h.connections != nil {
		active = h.connections()
	}

	c.JSON(code, HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: h.checker.GetStatus(),
		WebSocket:  gin.H{"active_connections": active},
		Memory: gin.H{
			"alloc_mb":  memStats.Alloc / 1024 / 1024,
			"sys_mb":    memStats.Sys / 1024 / 1024,
			"gc_cycles": memStats.NumGC,
		},
	})
}

// RegisterRoutes registers health check related routes
func (h *HealthHandler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.Health)
	engine.GET("/api/health", h.Health)
}
