package handlers

import (
	"net/http"

	"github.com/ribelo/prism-sub000/services"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/utils"
	"go.uber.org/zap"
)

// StatusForError maps the domain error taxonomy to HTTP status codes.
// Upstream failures keep the vendor status when it is a client error.
func StatusForError(err error) int {
	switch {
	case services.IsConversionFailure(err), services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsRoutingFailure(err):
		return http.StatusNotFound
	case services.IsCredentialFailure(err), services.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case services.IsUpstreamFailure(err):
		if code := providers.StatusCode(err); code >= 400 && code < 500 {
			return code
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode returns the taxonomy name of err, "internal" for unknown errors
func errorCode(err error) string {
	if t := services.GetErrorType(err); t != "" {
		return string(t)
	}
	return string(services.ErrorTypeInternal)
}

// publicMessage hides internal error text from clients
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "An internal error occurred"
	}
	return err.Error()
}

// HandleServiceError writes err as a JSON error body
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err), zap.String("error_type", errorCode(err)))
	} else {
		logger.Debug("request rejected", zap.Error(err), zap.String("error_type", errorCode(err)))
	}

	if werr := utils.WriteJSON(w, status, utils.ErrorResponse{
		Error:   errorCode(err),
		Message: publicMessage(err, status),
		Details: services.GetErrorDetails(err),
	}); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}
