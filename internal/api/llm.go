package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/internal/llm"
	"cad-copilot/backend/internal/service"
	apperrors "cad-copilot/backend/pkg/errors"
	"cad-copilot/backend/pkg/logger"
)

// LLMHandler serves the model catalogue, credentials and the raw provider
// proxy.
type LLMHandler struct {
	adapter *llm.Adapter
	service *service.ConversationService
	logger  *logger.Logger
}

func NewLLMHandler(adapter *llm.Adapter, service *service.ConversationService, logger *logger.Logger) *LLMHandler {
	return &LLMHandler{adapter: adapter, service: service, logger: logger}
}

// RegisterRoutes mounts the v1 routes and the legacy proxy paths under
// the /api group.
func (h *LLMHandler) RegisterRoutes(apiGroup, v1 *gin.RouterGroup) {
	v1.GET("/models", h.Models)
	v1.GET("/credentials", h.CredentialStatus)
	v1.PUT("/credentials", h.SetAPIKey)
	v1.POST("/llm/:provider", h.Proxy)

	// Legacy paths
	apiGroup.POST("/claude", h.proxyFor(llm.ProviderAnthropic))
	apiGroup.POST("/openai", h.proxyFor(llm.ProviderOpenAI))
}

func (h *LLMHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":   h.service.Models(),
		"default":  h.adapter.Registry().DefaultModel(),
		"circuits": h.adapter.Breakers(),
	})
}

func (h *LLMHandler) CredentialStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"configured": h.service.CredentialStatus(c.Request.Context())})
}

type apiKeyRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey" binding:"required"`
}

func (h *LLMHandler) SetAPIKey(c *gin.Context) {
	var req apiKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	provider, err := h.service.SetAPIKey(c.Request.Context(), llm.ProviderName(req.Provider), req.APIKey)
	if err != nil {
		abort(c, err)
		return
	}
	h.logger.Info("API key updated", "provider", provider)
	c.JSON(http.StatusOK, gin.H{"provider": provider})
}

func (h *LLMHandler) Proxy(c *gin.Context) {
	h.proxyFor(llm.ProviderName(c.Param("provider")))(c)
}

func (h *LLMHandler) proxyFor(provider llm.ProviderName) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req llm.ProxyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidBody(c, err)
			return
		}

		registry := h.adapter.Registry()
		if req.Model == "" {
			for _, m := range registry.Models() {
				if m.Provider == provider {
					req.Model = m.Name
					break
				}
			}
		}
		entry, _, err := registry.Resolve(req.Model)
		if err != nil {
			abort(c, err)
			return
		}
		if entry.Provider != provider {
			abort(c, apperrors.NewBadRequestError("PROVIDER_MISMATCH",
				"model "+req.Model+" is not served by "+string(provider)))
			return
		}

		raw, err := h.adapter.Forward(c.Request.Context(), req)
		if err != nil {
			abort(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}
