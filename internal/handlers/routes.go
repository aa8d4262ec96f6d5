package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the health endpoints on router and the approval API
// under /api/v1 behind auth
func RegisterRoutes(router *gin.Engine, approvals *ApprovalHandler, health *HealthHandler, auth gin.HandlerFunc) {
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)

	api := router.Group("/api/v1")
	if auth != nil {
		api.Use(auth)
	}

	{
		api.POST("/approvals", approvals.CreateApproval)
		api.GET("/approvals/pending", approvals.ListPending)
		api.GET("/approvals/:id", approvals.GetWorkflow)
		api.GET("/approvals/:id/audit", approvals.GetAuditTrail)
		api.POST("/approvals/:id/approve", approvals.Approve)
		api.POST("/approvals/:id/reject", approvals.Reject)

		api.GET("/entities/:entityType/:entityId/approvals", approvals.ListEntityHistory)
	}
}
