package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexuscrm/approvals/internal/application/services"
	"github.com/nexuscrm/approvals/pkg/constants"
)

// Scanner runs the scheduled maintenance jobs on demand
type Scanner interface {
	RunOnce(ctx context.Context) (services.ScanReport, error)
	LastReport() services.ScanReport
}

// AdminHandler handles administrative endpoints
type AdminHandler struct {
	scanner Scanner
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(scanner Scanner) *AdminHandler {
	return &AdminHandler{scanner: scanner}
}

// Scan handles POST /api/scheduler/scan
func (h *AdminHandler) Scan(c *gin.Context) {
	report, err := h.scanner.RunOnce(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondData(c, http.StatusOK, report)
}

// LastScan handles GET /api/scheduler/last
func (h *AdminHandler) LastScan(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{constants.FieldData: h.scanner.LastReport()})
}
