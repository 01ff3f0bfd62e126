package services

import (
	"github.com/nexuscrm/approvals/pkg/auth"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
)

func requireActor(actor *auth.UserSession) error {
	if actor == nil || actor.ID == "" {
		return apperrors.NewAuthenticationError("no acting user")
	}
	return nil
}

func requireAdmin(actor *auth.UserSession) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return apperrors.NewUnauthorizedError("administrator role required")
	}
	return nil
}

// tenantOf returns the actor's tenant, or fallback for tenantless sessions.
func tenantOf(actor *auth.UserSession, fallback string) string {
	if actor != nil && actor.Tenant != "" {
		return actor.Tenant
	}
	return fallback
}
