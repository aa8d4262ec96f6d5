package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serveReady(h *HealthHandler) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ready", h.ReadinessCheck)
	r.GET("/health", h.HealthCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	return w
}

func checkOK(context.Context) error { return nil }
func checkDown(context.Context) error { return errors.New("down") }

func TestReadinessCheck_AllHealthy(t *testing.T) {
	w := serveReady(NewHealthHandler(
		map[string]ReadinessCheck{"database": checkOK},
		map[string]ReadinessCheck{"redis": checkOK},
	))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)
}

func TestReadinessCheck_OptionalFailureDegrades(t *testing.T) {
	w := serveReady(NewHealthHandler(
		map[string]ReadinessCheck{"database": checkOK},
		map[string]ReadinessCheck{"nats": checkDown},
	))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestReadinessCheck_RequiredFailure(t *testing.T) {
	w := serveReady(NewHealthHandler(
		map[string]ReadinessCheck{"database": checkDown},
		nil,
	))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"not_ready"`)
}
