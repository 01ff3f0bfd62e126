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
)

// ApprovalService defines the interface for approval instance operations
type ApprovalService interface {
	Create(ctx context.Context, actor *auth.UserSession, req services.CreateInstanceRequest) (*services.InstanceResult, error)
	Act(ctx context.Context, actor *auth.UserSession, id string, req services.ActRequest) (*services.InstanceResult, error)
	Resubmit(ctx context.Context, actor *auth.UserSession, id, comments string) (*services.InstanceResult, error)
	Cancel(ctx context.Context, actor *auth.UserSession, id, reason string) (*services.InstanceResult, error)
	List(ctx context.Context, actor *auth.UserSession, filter ports.InstanceFilter, assignedToMe bool) ([]*domain.ApprovalInstance, error)
	Get(ctx context.Context, actor *auth.UserSession, id string) (*services.InstanceView, error)
	History(ctx context.Context, actor *auth.UserSession, id string, limit int) ([]domain.AuditEntry, error)
}

// SLAReporter summarizes SLA health of open instances
type SLAReporter interface {
	Summary(ctx context.Context, actor *auth.UserSession, entityType string, now time.Time) (domain.SLASummary, error)
}

// InstanceHandler handles approval instance endpoints
type InstanceHandler struct {
	svc ApprovalService
	sla SLAReporter
	now func() time.Time
}

// NewInstanceHandler creates a new InstanceHandler
func NewInstanceHandler(svc ApprovalService, sla SLAReporter) *InstanceHandler {
	return &InstanceHandler{svc: svc, sla: sla, now: time.Now}
}

// CommentRequest carries the optional comment of resubmit and cancel
type CommentRequest struct {
	Comments string `json:"comments"`
}

// Create handles POST /api/instances
func (h *InstanceHandler) Create(c *gin.Context) {
	var req services.CreateInstanceRequest
	if !BindJSON(c, &req) {
		return
	}
	res, err := h.svc.Create(c.Request.Context(), GetUserFromContext(c), req)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

// List handles GET /api/instances?entity_type=&status=&assigned=
func (h *InstanceHandler) List(c *gin.Context) {
	assigned, ok := boolQuery(c, constants.ParamAssigned)
	if !ok {
		return
	}
	filter := ports.InstanceFilter{
		EntityType: c.Query(constants.ParamEntityType),
		Status:     domain.InstanceStatus(c.Query(constants.ParamStatus)),
	}
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.List(c.Request.Context(), user, filter, assigned)
	})
}

// Get handles GET /api/instances/:id
func (h *InstanceHandler) Get(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.Get(c.Request.Context(), user, c.Param("id"))
	})
}

// Act handles POST /api/instances/:id/act
func (h *InstanceHandler) Act(c *gin.Context) {
	var req services.ActRequest
	if !BindJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, user *auth.UserSession) (*services.InstanceResult, error) {
		return h.svc.Act(ctx, user, c.Param("id"), req)
	})
}

// Resubmit handles POST /api/instances/:id/resubmit
func (h *InstanceHandler) Resubmit(c *gin.Context) {
	var req CommentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, user *auth.UserSession) (*services.InstanceResult, error) {
		return h.svc.Resubmit(ctx, user, c.Param("id"), req.Comments)
	})
}

// Cancel handles POST /api/instances/:id/cancel
func (h *InstanceHandler) Cancel(c *gin.Context) {
	var req CommentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, user *auth.UserSession) (*services.InstanceResult, error) {
		return h.svc.Cancel(ctx, user, c.Param("id"), req.Comments)
	})
}

// History handles GET /api/instances/:id/history
func (h *InstanceHandler) History(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok {
		return
	}
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.History(c.Request.Context(), user, c.Param("id"), limit)
	})
}

// SLASummary handles GET /api/sla/summary?entity_type=
func (h *InstanceHandler) SLASummary(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.sla.Summary(c.Request.Context(), user, c.Query(constants.ParamEntityType), h.now())
	})
}

func (h *InstanceHandler) respond(c *gin.Context, fn func(ctx context.Context, user *auth.UserSession) (*services.InstanceResult, error)) {
	res, err := fn(c.Request.Context(), GetUserFromContext(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}
