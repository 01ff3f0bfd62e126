package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
)

// Resource names used in error messages.
const (
	resourceDefinition = "workflow definition"
	resourceInstance   = "approval instance"
	resourceDelegation = "delegation"
)

// translate maps domain and repository errors onto the typed application
// errors the REST layer renders. Errors that already are AppErrors pass through.
func translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var appErr apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return apperrors.NewNotFoundError(resource, id)
	case errors.Is(err, ports.ErrVersionConflict):
		return apperrors.NewConflictError(resource, "version", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return apperrors.NewUnauthorizedError(detail(err, domain.ErrUnauthorized))
	case errors.Is(err, domain.ErrInvalidState):
		return apperrors.NewInvalidStateError(resource, detail(err, domain.ErrInvalidState))
	case errors.Is(err, domain.ErrNoApprovers):
		return apperrors.NewInvalidStateError(resource, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return apperrors.NewValidationError("", detail(err, domain.ErrInvalidInput))
	}
	return apperrors.NewInternalError(fmt.Sprintf("%s operation failed", resource), err)
}

// detail drops the sentinel prefix the AppError renders on its own.
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

// validationFailure wraps a blocking validation result.
func validationFailure(res domain.ValidationResult) error {
	return apperrors.NewRuleViolationError(res.Summary(), res)
}
