package utils

import (
	"context"
	"errors"
	"net/http"

	"financerag/internal/logger"
	"financerag/models"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithDomainError maps a service error onto the HTTP envelope.
// Unknown errors are logged and reported as 500 without their text.
func RespondWithDomainError(c *gin.Context, err error) {
	var (
		verr  *models.ValidationError
		perr  *models.ParseError
		serr  *models.SynthesisError
		iverr *models.IsolationViolation
	)

	switch {
	case errors.As(err, &verr):
		RespondWithError(c, http.StatusBadRequest, "invalid_input", verr.Error(), gin.H{"field": verr.Field})
	case errors.As(err, &perr):
		RespondWithError(c, http.StatusBadRequest, "parse_failed", perr.Error(), gin.H{"kind": perr.Kind})
	case errors.Is(err, models.ErrInvalidChunkConfig), errors.Is(err, models.ErrInvalidSettings):
		RespondWithError(c, http.StatusBadRequest, "invalid_settings", err.Error(), nil)
	case errors.Is(err, models.ErrCompanyNotFound):
		RespondWithError(c, http.StatusNotFound, "company_not_found", err.Error(), nil)
	case errors.Is(err, models.ErrDocumentNotFound):
		RespondWithError(c, http.StatusNotFound, "document_not_found", err.Error(), nil)
	case errors.Is(err, models.ErrHistoryNotFound):
		RespondWithError(c, http.StatusNotFound, "history_not_found", err.Error(), nil)
	case errors.Is(err, models.ErrRetryNotFound):
		RespondWithError(c, http.StatusNotFound, "retry_not_found", err.Error(), nil)
	case errors.Is(err, models.ErrEmptyKnowledgeBase):
		RespondWithError(c, http.StatusUnprocessableEntity, "empty_knowledge_base", err.Error(), nil)
	case errors.Is(err, models.ErrDocumentInFlight):
		RespondWithError(c, http.StatusConflict, "document_in_flight", err.Error(), nil)
	case errors.Is(err, models.ErrDuplicateCompany):
		RespondWithError(c, http.StatusConflict, "company_exists", err.Error(), nil)
	case errors.Is(err, models.ErrCompanyDeleting):
		RespondWithError(c, http.StatusConflict, "company_deleting", err.Error(), nil)
	case errors.Is(err, models.ErrStatusConflict):
		RespondWithError(c, http.StatusConflict, "status_conflict", err.Error(), nil)
	case errors.Is(err, models.ErrPrivilegedSetting):
		RespondWithError(c, http.StatusForbidden, "admin_required", err.Error(), nil)
	case errors.As(err, &serr):
		details := gin.H{}
		if serr.RetryID != "" {
			details["retry_id"] = serr.RetryID
		}
		RespondWithError(c, http.StatusBadGateway, "synthesis_failed", "The answer could not be generated. Retry with the retry_id.", details)
	case errors.As(err, &iverr):
		logger.Error("Isolation violation", "namespace", iverr.Namespace, "expected", iverr.Expected, "found", iverr.Found)
		RespondWithError(c, http.StatusInternalServerError, "isolation_violation", "Internal isolation check failed", nil)
	case errors.Is(err, context.DeadlineExceeded):
		RespondWithError(c, http.StatusGatewayTimeout, "timeout", "The request timed out", nil)
	case models.IsTransient(err):
		RespondWithError(c, http.StatusServiceUnavailable, "temporarily_unavailable", "Service temporarily unavailable, try again", nil)
	default:
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		RespondWithInternalError(c, "Internal server error", nil)
	}
}
