package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nexuscrm/approvals/internal/application/services"
	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/auth"
	"github.com/nexuscrm/approvals/pkg/constants"
	"github.com/nexuscrm/approvals/pkg/errors"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// WorkflowService defines the definition operations the handler needs
type WorkflowService interface {
	List(ctx context.Context, actor *auth.UserSession, filter ports.DefinitionFilter) ([]*domain.WorkflowDefinition, error)
	Get(ctx context.Context, actor *auth.UserSession, id string) (*domain.WorkflowDefinition, error)
	Create(ctx context.Context, actor *auth.UserSession, input *domain.WorkflowDefinition) (*services.MutationResult, error)
	Update(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int, input *domain.WorkflowDefinition) (*services.MutationResult, error)
	Duplicate(ctx context.Context, actor *auth.UserSession, id string) (*services.MutationResult, error)
	Publish(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int) (*services.MutationResult, error)
	Archive(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int) (*services.MutationResult, error)
	AddStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int, step domain.Step) (*services.MutationResult, error)
	RemoveStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, index int) (*services.MutationResult, error)
	MoveStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, from, to int) (*services.MutationResult, error)
	DuplicateStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, index int) (*services.MutationResult, error)
	UpdateStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, index int, patch domain.StepPatch) (*services.MutationResult, error)
	Export(ctx context.Context, actor *auth.UserSession, id, format string) ([]byte, error)
	Import(ctx context.Context, actor *auth.UserSession, data []byte, format string) (*services.MutationResult, error)
	History(ctx context.Context, actor *auth.UserSession, id string, limit int) ([]domain.AuditEntry, error)
}

// DefinitionValidator runs the local and canonical rule sets
type DefinitionValidator interface {
	Local(def *domain.WorkflowDefinition) domain.ValidationResult
	CanonicalDebounced(ctx context.Context, req services.CanonicalRequest) (services.CanonicalResponse, error)
}

// WorkflowHandler handles workflow definition endpoints
type WorkflowHandler struct {
	svc       WorkflowService
	validator DefinitionValidator
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(svc WorkflowService, validator DefinitionValidator) *WorkflowHandler {
	return &WorkflowHandler{svc: svc, validator: validator}
}

// ValidateRequest asks for a definition to be checked. Mode is "local" or
// "canonical" (the default).
type ValidateRequest struct {
	Definition *domain.WorkflowDefinition `json:"definition" binding:"required"`
	Mode       string                     `json:"mode"`
	SessionID  string                     `json:"sessionId"`
	Revision   int64                      `json:"revision"`
}

// MoveStepRequest moves the step at From to position To
type MoveStepRequest struct {
	From *int `json:"from" binding:"required"`
	To   *int `json:"to" binding:"required"`
}

// List handles GET /api/workflows
func (h *WorkflowHandler) List(c *gin.Context) {
	user := GetUserFromContext(c)
	filter := ports.DefinitionFilter{
		AppliesTo: c.Query(constants.ParamEntityType),
		Status:    domain.DefinitionStatus(c.Query(constants.ParamStatus)),
	}
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.List(c.Request.Context(), user, filter)
	})
}

// Get handles GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.Get(c.Request.Context(), user, c.Param("id"))
	})
}

// Create handles POST /api/workflows
func (h *WorkflowHandler) Create(c *gin.Context) {
	var def domain.WorkflowDefinition
	if !BindJSON(c, &def) {
		return
	}
	res, err := h.svc.Create(c.Request.Context(), GetUserFromContext(c), &def)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

// Update handles PUT /api/workflows/:id?expected_version=
func (h *WorkflowHandler) Update(c *gin.Context) {
	version, ok := expectedVersion(c)
	if !ok {
		return
	}
	var def domain.WorkflowDefinition
	if !BindJSON(c, &def) {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.Update(ctx, user, c.Param("id"), version, &def)
	})
}

// Duplicate handles POST /api/workflows/:id/duplicate
func (h *WorkflowHandler) Duplicate(c *gin.Context) {
	res, err := h.svc.Duplicate(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

// Publish handles POST /api/workflows/:id/publish?expected_version=
func (h *WorkflowHandler) Publish(c *gin.Context) {
	version, ok := expectedVersion(c)
	if !ok {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.Publish(ctx, user, c.Param("id"), version)
	})
}

// Archive handles POST /api/workflows/:id/archive?expected_version=
func (h *WorkflowHandler) Archive(c *gin.Context) {
	version, ok := expectedVersion(c)
	if !ok {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.Archive(ctx, user, c.Param("id"), version)
	})
}

// Validate handles POST /api/workflows/validate
func (h *WorkflowHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if !BindJSON(c, &req) {
		return
	}
	mode := req.Mode
	if q := c.Query(constants.ParamMode); q != "" {
		mode = q
	}

	switch mode {
	case services.ValidationModeLocal:
		res := h.validator.Local(req.Definition)
		respondData(c, http.StatusOK, services.CanonicalResponse{
			Valid:     res.Valid(),
			Errors:    res.Errors,
			Warnings:  res.Warnings,
			SessionID: req.SessionID,
			Revision:  req.Revision,
		})
	case "", services.ValidationModeCanonical:
		resp, err := h.validator.CanonicalDebounced(c.Request.Context(), services.CanonicalRequest{
			Definition: req.Definition,
			SessionID:  req.SessionID,
			Revision:   req.Revision,
		})
		if err != nil {
			RespondAppError(c, err)
			return
		}
		respondData(c, http.StatusOK, resp)
	default:
		RespondAppError(c, errors.NewValidationError(constants.ParamMode, fmt.Sprintf("unknown mode %q", mode)))
	}
}

// Export handles GET /api/workflows/:id/export?format=json|yaml
func (h *WorkflowHandler) Export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery(constants.ParamFormat, constants.FormatJSON))
	data, err := h.svc.Export(c.Request.Context(), GetUserFromContext(c), c.Param("id"), format)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	contentType := "application/json"
	ext := constants.FormatJSON
	if format == constants.FormatYAML || format == "yml" {
		contentType = "application/yaml"
		ext = constants.FormatYAML
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow-%s.%s"`, c.Param("id"), ext))
	c.Data(http.StatusOK, contentType, data)
}

// Import handles POST /api/workflows/import. The format comes from the
// format query parameter or the Content-Type header.
func (h *WorkflowHandler) Import(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return
	}
	if len(data) == 0 {
		RespondAppError(c, errors.NewValidationError("body", "document is empty"))
		return
	}

	format := c.Query(constants.ParamFormat)
	if format == "" && strings.Contains(c.ContentType(), "yaml") {
		format = constants.FormatYAML
	}
	res, err := h.svc.Import(c.Request.Context(), GetUserFromContext(c), data, format)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

// History handles GET /api/workflows/:id/history
func (h *WorkflowHandler) History(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok {
		return
	}
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, constants.FieldData, func() (interface{}, error) {
		return h.svc.History(c.Request.Context(), user, c.Param("id"), limit)
	})
}

// AddStep handles POST /api/workflows/:id/steps?expected_version=
func (h *WorkflowHandler) AddStep(c *gin.Context) {
	version, ok := expectedVersion(c)
	if !ok {
		return
	}
	var step domain.Step
	if !BindJSON(c, &step) {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.AddStep(ctx, user, c.Param("id"), version, step)
	})
}

// RemoveStep handles DELETE /api/workflows/:id/steps/:index?expected_version=
func (h *WorkflowHandler) RemoveStep(c *gin.Context) {
	version, index, ok := stepTarget(c)
	if !ok {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.RemoveStep(ctx, user, c.Param("id"), version, index)
	})
}

// MoveStep handles POST /api/workflows/:id/steps/move?expected_version=
func (h *WorkflowHandler) MoveStep(c *gin.Context) {
	version, ok := expectedVersion(c)
	if !ok {
		return
	}
	var req MoveStepRequest
	if !BindJSON(c, &req) {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.MoveStep(ctx, user, c.Param("id"), version, *req.From, *req.To)
	})
}

// DuplicateStep handles POST /api/workflows/:id/steps/:index/duplicate?expected_version=
func (h *WorkflowHandler) DuplicateStep(c *gin.Context) {
	version, index, ok := stepTarget(c)
	if !ok {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.DuplicateStep(ctx, user, c.Param("id"), version, index)
	})
}

// UpdateStep handles PATCH /api/workflows/:id/steps/:index?expected_version=
func (h *WorkflowHandler) UpdateStep(c *gin.Context) {
	version, index, ok := stepTarget(c)
	if !ok {
		return
	}
	var patch domain.StepPatch
	if !BindJSON(c, &patch) {
		return
	}
	h.respondMutation(c, func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error) {
		return h.svc.UpdateStep(ctx, user, c.Param("id"), version, index, patch)
	})
}

func (h *WorkflowHandler) respondMutation(c *gin.Context, fn func(ctx context.Context, user *auth.UserSession) (*services.MutationResult, error)) {
	res, err := fn(c.Request.Context(), GetUserFromContext(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}

func stepTarget(c *gin.Context) (int, int, bool) {
	version, ok := expectedVersion(c)
	if !ok {
		return 0, 0, false
	}
	index, err := utils.ParseIndex(c.Param("index"))
	if err != nil {
		RespondAppError(c, errors.NewValidationError("index", err.Error()))
		return 0, 0, false
	}
	return version, index, true
}
