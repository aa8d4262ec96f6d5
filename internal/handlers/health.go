package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceName = "approval-workflow-service"

// ReadinessCheck checks one dependency
type ReadinessCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness endpoints
type HealthHandler struct {
	required map[string]ReadinessCheck
	optional map[string]ReadinessCheck
}

// NewHealthHandler creates a HealthHandler. Failing required checks make the
// service unready; failing optional checks only degrade it.
func NewHealthHandler(required, optional map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{required: required, optional: optional}
}

// HealthCheck handles health check requests
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// ReadinessCheck handles readiness check requests
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	status := "ready"
	code := http.StatusOK

	for name, check := range h.required {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	for name, check := range h.optional {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			if code == http.StatusOK {
				status = "degraded"
			}
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": serviceName,
		"checks":  checks,
	})
}
