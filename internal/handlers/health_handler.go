package handlers

import (
	"context"
	"net/http"
	"time"

	"ridedispatch/internal/utils"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, state := http.StatusOK, "healthy"
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status, state = http.StatusServiceUnavailable, "unhealthy"
			continue
		}
		results[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status":   state,
		"version":  utils.AppVersion,
		"services": results,
		"time":     time.Now().UTC(),
	})
}
