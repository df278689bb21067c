package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/internal/llm"
	"cad-copilot/backend/internal/orchestrator"
	"cad-copilot/backend/internal/repository"
	"cad-copilot/backend/internal/service"
	"cad-copilot/backend/internal/session"
	apperrors "cad-copilot/backend/pkg/errors"
)

// toAppError maps domain errors to HTTP errors.
func toAppError(err error) *apperrors.AppError {
	var (
		appErr   *apperrors.AppError
		missing  *llm.MissingCredentialError
		provider *llm.ProviderError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &missing):
		return apperrors.NewBadRequestError("MISSING_API_KEY", missing.UserMessage()).
			WithDeveloperMessage(missing.DeveloperMessage())
	case errors.Is(err, session.ErrBusy):
		return apperrors.NewConflictError("SESSION_BUSY", "Another request is already running for this session").WithCause(err)
	case errors.Is(err, service.ErrLogFull):
		return apperrors.NewConflictError("LOG_FULL", err.Error())
	case errors.Is(err, repository.ErrSessionNotFound):
		return apperrors.NewNotFoundError("SESSION_NOT_FOUND", "Session not found")
	case errors.Is(err, session.ErrIndexOutOfRange):
		return apperrors.NewBadRequestError("INDEX_OUT_OF_RANGE", err.Error())
	case errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, orchestrator.ErrEmptyInput),
		errors.Is(err, llm.ErrUnknownModel):
		return apperrors.NewBadRequestError("INVALID_REQUEST", err.Error())
	case errors.As(err, &provider):
		return apperrors.NewBadGatewayError("PROVIDER_ERROR", provider.Error()).WithCause(err)
	}
	return apperrors.FromError(err)
}

func abort(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
	c.Abort()
}

func invalidBody(c *gin.Context, err error) {
	abort(c, apperrors.NewBadRequestError("INVALID_BODY", "Invalid request format: "+err.Error()))
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abort(c, apperrors.NewBadRequestError("INVALID_INDEX", "index must be an integer"))
		return 0, false
	}
	return index, true
}

func statusOf(appErr *apperrors.AppError) int {
	if appErr.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return appErr.StatusCode
}
