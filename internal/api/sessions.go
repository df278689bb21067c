package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/orchestrator"
	"cad-copilot/backend/internal/service"
	apperrors "cad-copilot/backend/pkg/errors"
	"cad-copilot/backend/pkg/jwt"
	"cad-copilot/backend/pkg/logger"
)

// SessionHandler serves conversations and their orchestration passes.
type SessionHandler struct {
	service    *service.ConversationService
	jwtService *jwt.Service
	logger     *logger.Logger
}

func NewSessionHandler(service *service.ConversationService, jwtService *jwt.Service, logger *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service:    service,
		jwtService: jwtService,
		logger:     logger,
	}
}

// RegisterRoutes mounts the session routes. auth guards every route
// scoped to one session.
func (h *SessionHandler) RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc) {
	v1.POST("/sessions", h.CreateSession)
	v1.GET("/sessions", h.ListSessions)

	s := v1.Group("/sessions/:id", auth)
	{
		s.GET("", h.GetSession)
		s.DELETE("", h.DeleteSession)
		s.PUT("/settings", h.UpdateSettings)
		s.GET("/messages", h.Messages)
		s.PUT("/messages/:index", h.UpdateMessage)
		s.DELETE("/messages/:index", h.DeleteMessage)
		s.POST("/messages/:index/visibility", h.SetVisibility)
		s.POST("/send", h.Send)
		s.POST("/rerun/:index", h.Rerun)
		s.POST("/run-code/:index", h.RunCode)
		s.POST("/fix/:index", h.Fix)
		s.POST("/apply-request/:index", h.ApplyRequest)
		s.POST("/refine/:index", h.Refine)
	}
}

type createSessionRequest struct {
	Model string `json:"model"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Model     string `json:"model"`
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidBody(c, err)
			return
		}
	}

	sess, err := h.service.CreateSession(c.Request.Context(), req.Model)
	if err != nil {
		abort(c, err)
		return
	}
	token, err := h.jwtService.GenerateToken(sess.ID)
	if err != nil {
		h.logger.LogError(err, "Error generating session token", "session_id", sess.ID)
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, createSessionResponse{SessionID: sess.ID, Token: token, Model: sess.Model})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := h.service.ListSessions(c.Request.Context(), limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type settingsRequest struct {
	Model         *string `json:"model"`
	AutoRetry     *bool   `json:"autoRetry"`
	MaxRetryCount *int    `json:"maxRetryCount"`
}

func (h *SessionHandler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	sess, err := h.service.UpdateSettings(c.Request.Context(), c.Param("id"), service.Settings{
		Model:         req.Model,
		AutoRetry:     req.AutoRetry,
		MaxRetryCount: req.MaxRetryCount,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) Messages(c *gin.Context) {
	msgs, err := h.service.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type updateMessageRequest struct {
	Text  *string `json:"text"`
	Image *string `json:"image"`
}

func (h *SessionHandler) UpdateMessage(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	msgs, err := h.service.UpdateMessage(c.Request.Context(), c.Param("id"), index,
		service.MessageEdit{Text: req.Text, Image: req.Image})
	h.respondLog(c, msgs, err)
}

func (h *SessionHandler) DeleteMessage(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	msgs, err := h.service.DeleteMessage(c.Request.Context(), c.Param("id"), index)
	h.respondLog(c, msgs, err)
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

func (h *SessionHandler) SetVisibility(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	msgs, err := h.service.SetVisibility(c.Request.Context(), c.Param("id"), index, req.Hidden)
	h.respondLog(c, msgs, err)
}

func (h *SessionHandler) respondLog(c *gin.Context, msgs []models.Message, err error) {
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// sendRequest mirrors the options of a submitted message. Images are data
// URLs.
type sendRequest struct {
	TextInput      string `json:"textInput"`
	HiddenInput    string `json:"hiddenInput"`
	SketchInput    string `json:"sketchInput"`
	ImageInput     string `json:"imageInput"`
	NormalMapInput string `json:"normalMapInput"`
	CodeInput      string `json:"codeInput"`
	SendFromIndex  *int   `json:"sendFromIndex"`
}

func (h *SessionHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	res, err := h.service.Send(c.Request.Context(), c.Param("id"), orchestrator.Input{
		Text:            req.TextInput,
		Hidden:          req.HiddenInput,
		Sketch:          req.SketchInput,
		ModelWithSketch: req.ImageInput,
		NormalMap:       req.NormalMapInput,
		Code:            req.CodeInput,
		SendFromIndex:   req.SendFromIndex,
	})
	h.respondPass(c, res, err)
}

func (h *SessionHandler) Rerun(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	res, err := h.service.Rerun(c.Request.Context(), c.Param("id"), index)
	h.respondPass(c, res, err)
}

type runCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *SessionHandler) RunCode(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req runCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	res, err := h.service.RunCode(c.Request.Context(), c.Param("id"), index, req.Code)
	h.respondPass(c, res, err)
}

func (h *SessionHandler) Fix(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	res, err := h.service.Fix(c.Request.Context(), c.Param("id"), index)
	h.respondPass(c, res, err)
}

type applyRequestBody struct {
	Request         string `json:"request" binding:"required"`
	Sketch          string `json:"sketch"`
	Model           string `json:"model"`
	NormalMap       string `json:"normalMap"`
	Merged          string `json:"merged"`
	MergedNormalMap string `json:"mergedNormalMap"`
}

func (h *SessionHandler) ApplyRequest(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req applyRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	res, err := h.service.ApplyRequest(c.Request.Context(), c.Param("id"), index, orchestrator.ApplyRequest{
		Request:         req.Request,
		Sketch:          req.Sketch,
		Model:           req.Model,
		NormalMap:       req.NormalMap,
		Merged:          req.Merged,
		MergedNormalMap: req.MergedNormalMap,
	})
	h.respondPass(c, res, err)
}

type refineRequest struct {
	Render       string `json:"render" binding:"required"`
	Instructions string `json:"instructions"`
}

func (h *SessionHandler) Refine(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req refineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	res, err := h.service.Refine(c.Request.Context(), c.Param("id"), index, orchestrator.RefineRequest{
		Render:       req.Render,
		Instructions: req.Instructions,
	})
	h.respondPass(c, res, err)
}

// respondPass writes the log and outcome. A failed pass still reports the
// persisted log in the error details.
func (h *SessionHandler) respondPass(c *gin.Context, res *service.PassResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	appErr := toAppError(err)
	if res != nil && res.Messages != nil && appErr.DeveloperMessage == "" {
		appErr = apperrors.NewError(statusOf(appErr), appErr.Code, appErr.Message).WithDetails(res)
	}
	abort(c, appErr)
}
