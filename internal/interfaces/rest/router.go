package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/application/services"
	"github.com/nexuscrm/approvals/internal/interfaces/middleware"
)

// RouterConfig carries what the HTTP surface is built from.
type RouterConfig struct {
	Services *services.ServiceManager
	Tokens   middleware.TokenValidator
	Logger   zerolog.Logger
}

// NewRouter wires every route of the approvals API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(cfg.Logger))

	sm := cfg.Services
	workflows := NewWorkflowHandler(sm.Workflows, sm.Validation)
	instances := NewInstanceHandler(sm.Approvals, sm.SLA)
	delegations := NewDelegationHandler(sm.Delegations)
	admin := NewAdminHandler(sm.Scheduler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if sm.Metrics != nil {
		router.GET("/metrics", gin.WrapH(sm.Metrics.Handler()))
	}

	requireAuth := middleware.RequireAuth(cfg.Tokens)
	api := router.Group("/api")
	api.Use(requireAuth)

	wf := api.Group("/workflows")
	{
		wf.GET("", workflows.List)
		wf.POST("", workflows.Create)
		wf.POST("/validate", workflows.Validate)
		wf.POST("/import", workflows.Import)
		wf.GET("/:id", workflows.Get)
		wf.PUT("/:id", workflows.Update)
		wf.POST("/:id/duplicate", workflows.Duplicate)
		wf.POST("/:id/archive", workflows.Archive)
		wf.POST("/:id/publish", workflows.Publish)
		wf.GET("/:id/export", workflows.Export)
		wf.GET("/:id/history", workflows.History)

		wf.POST("/:id/steps", workflows.AddStep)
		wf.POST("/:id/steps/move", workflows.MoveStep)
		wf.DELETE("/:id/steps/:index", workflows.RemoveStep)
		wf.PATCH("/:id/steps/:index", workflows.UpdateStep)
		wf.POST("/:id/steps/:index/duplicate", workflows.DuplicateStep)
	}

	inst := api.Group("/instances")
	{
		inst.GET("", instances.List)
		inst.POST("", instances.Create)
		inst.GET("/:id", instances.Get)
		inst.POST("/:id/act", instances.Act)
		inst.POST("/:id/resubmit", instances.Resubmit)
		inst.POST("/:id/cancel", instances.Cancel)
		inst.GET("/:id/history", instances.History)
	}
	api.GET("/sla/summary", instances.SLASummary)

	del := api.Group("/delegations")
	{
		del.GET("", delegations.List)
		del.POST("", delegations.Create)
		del.GET("/resolve", delegations.Resolve)
		del.PUT("/:id", delegations.Update)
		del.DELETE("/:id", delegations.Delete)
	}

	sched := api.Group("/scheduler")
	sched.Use(middleware.RequireAdmin())
	{
		sched.POST("/scan", admin.Scan)
		sched.GET("/last", admin.LastScan)
	}

	return router
}
