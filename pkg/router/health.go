package router

import (
	"cad-copilot/backend/internal/api"
)

// setupHealthRoutes mounts the health endpoints outside the rate limiter so
// probes are never throttled.
func (r *Router) setupHealthRoutes() {
	h := api.NewHealthHandler(r.Container.Health, r.Hub.ActiveConnections, r.Container.Config.Server.Version)
	h.RegisterRoutes(r.Engine)
}
