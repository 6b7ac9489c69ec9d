package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/models"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

const checkTimeout = 5 * time.Second

type HealthHandler struct {
	extractor media.Extractor
	version   string
}

func NewHealthHandler(extractor media.Extractor, version string) *HealthHandler {
	return &HealthHandler{
		extractor: extractor,
		version:   version,
	}
}

// Health godoc
// @Summary Health check endpoint
// @Description Check the health of the service and its extraction engine
// @Tags health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Success 503 {object} models.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
		Services: map[string]models.ServiceHealth{
			"extractor": h.checkExtractor(ctx),
		},
	}

	for _, service := range response.Services {
		if service.Status != "healthy" {
			response.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

// Readiness godoc
// @Summary Readiness check endpoint
// @Description Check if the service is ready to accept requests
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Success 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	check := map[string]interface{}{
		"backend": h.extractor.Name(),
		"ready":   true,
	}
	ready := true
	if err := h.extractor.Check(ctx); err != nil {
		ready = false
		check["ready"] = false
		check["error"] = err.Error()
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks": gin.H{
			"extractor": check,
		},
	})
}

// Liveness godoc
// @Summary Liveness check endpoint
// @Description Check if the service is alive
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /live [get]
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alive":     true,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *HealthHandler) checkExtractor(ctx context.Context) models.ServiceHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	err := h.extractor.Check(checkCtx)
	responseTime := time.Since(start).String()

	if err != nil {
		utils.LogError(ctx, "Extractor health check failed", err, utils.Fields{
			"backend": h.extractor.Name(),
		})
		return models.ServiceHealth{
			Status:       "unhealthy",
			ResponseTime: responseTime,
			Error:        err.Error(),
		}
	}

	return models.ServiceHealth{
		Status:       "healthy",
		ResponseTime: responseTime,
	}
}
