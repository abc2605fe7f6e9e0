package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/arcoportus/portal/services"
	"github.com/arcoportus/portal/services/identity"
	"github.com/arcoportus/portal/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain and identity provider errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	if pe, ok := identity.AsProviderError(err); ok {
		writeProviderError(w, pe, logger)
		return
	}

	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsEntitlementError(err):
		writeErr = utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse{
			Error:   "no_service_entitlement",
			Message: message,
		})

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// writeProviderError relays the identity provider's status and body. Bodies that are not
// JSON are wrapped in the standard error envelope.
func writeProviderError(w http.ResponseWriter, pe *identity.ProviderError, logger *zap.Logger) {
	status := pe.StatusCode
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}

	var err error
	if len(pe.Body) > 0 && json.Valid(pe.Body) {
		err = utils.WriteRaw(w, status, "application/json", pe.Body)
	} else {
		err = utils.WriteError(w, status, pe.Message, nil)
	}
	if err != nil {
		logger.Error("failed to write provider error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
