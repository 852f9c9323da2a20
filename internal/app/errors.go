package app

import (
	"errors"
	"fmt"
	"net/http"

	"barcamp/api/internal/export"
	"barcamp/api/internal/model"
	"barcamp/api/internal/reconcile"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(action string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": action})
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var modelErr *model.Error
	if errors.As(err, &modelErr) {
		details := map[string]any{"reason": modelErr.Code}
		switch modelErr.Kind {
		case model.KindValidation:
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", modelErr.Message, details
		case model.KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", modelErr.Message, details
		case model.KindConflict:
			return http.StatusConflict, "CONFLICT", modelErr.Message, details
		}
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	if errors.Is(err, reconcile.ErrTransport) {
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "The shared state could not be reached", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
