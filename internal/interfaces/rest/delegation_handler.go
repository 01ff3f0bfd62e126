package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexuscrm/approvals/internal/application/services"
	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/auth"
	"github.com/nexuscrm/approvals/pkg/constants"
	"github.com/nexuscrm/approvals/pkg/errors"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// DelegationService defines the delegation operations the handler needs
type DelegationService interface {
	List(ctx context.Context, actor *auth.UserSession, filter ports.DelegationFilter) ([]domain.Delegation, error)
	Create(ctx context.Context, actor *auth.UserSession, in services.DelegationInput) (*services.DelegationResult, error)
	Update(ctx context.Context, actor *auth.UserSession, id string, in services.DelegationInput) (*services.DelegationResult, error)
	Delete(ctx context.Context, actor *auth.UserSession, id string) error
	Resolve(ctx context.Context, actor *auth.UserSession, nominal, entityType string, asOf time.Time) (domain.DelegationResolution, error)
}

// DelegationHandler handles delegation endpoints
type DelegationHandler struct {
	svc DelegationService
	now func() time.Time
}

// NewDelegationHandler creates a new DelegationHandler
func NewDelegationHandler(svc DelegationService) *DelegationHandler {
	return &DelegationHandler{svc: svc, now: time.Now}
}

// List handles GET /api/delegations?delegator_id=&active_only=
func (h *DelegationHandler) List(c *gin.Context) {
	activeOnly, ok := boolQuery(c, constants.ParamActiveOnly)
	if !ok {
		return
	}
	filter := ports.DelegationFilter{
		DelegatorID: c.Query(constants.ParamDelegator),
		ActiveOnly:  activeOnly,
	}
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.List(c.Request.Context(), user, filter)
	})
}

// Create handles POST /api/delegations
func (h *DelegationHandler) Create(c *gin.Context) {
	var in services.DelegationInput
	if !BindJSON(c, &in) {
		return
	}
	res, err := h.svc.Create(c.Request.Context(), GetUserFromContext(c), in)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

// Update handles PUT /api/delegations/:id
func (h *DelegationHandler) Update(c *gin.Context) {
	var in services.DelegationInput
	if !BindJSON(c, &in) {
		return
	}
	res, err := h.svc.Update(c.Request.Context(), GetUserFromContext(c), c.Param("id"), in)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}

// Delete handles DELETE /api/delegations/:id
func (h *DelegationHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), GetUserFromContext(c), c.Param("id")); err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: "Delegation deleted"})
}

// Resolve handles GET /api/delegations/resolve?approver_id=&entity_type=&as_of=
func (h *DelegationHandler) Resolve(c *gin.Context) {
	asOf := h.now()
	if raw := c.Query(constants.ParamAsOf); raw != "" {
		t, err := utils.ParseDate(raw)
		if err != nil {
			RespondAppError(c, errors.NewValidationError(constants.ParamAsOf, err.Error()))
			return
		}
		asOf = t
	}
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.Resolve(c.Request.Context(), user, c.Query(constants.ParamApprover), c.Query(constants.ParamEntityType), asOf)
	})
}
