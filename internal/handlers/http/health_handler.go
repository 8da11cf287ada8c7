package http

import (
	"net/http"
	"time"

	"peerboard/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	startTime time.Time
	backend   string
}

func NewHealthHandler(checker *monitoring.HealthChecker, backend string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		startTime: time.Now(),
		backend:   backend,
	}
}

// SetupRoutes mounts /health and /ready, plus /metrics when gatherer is set.
func (h *HealthHandler) SetupRoutes(router *gin.Engine, gatherer prometheus.Gatherer) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"storage":   h.backend,
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	if status.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"timestamp": status.Timestamp,
			"checks":    status.Checks,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": status.Timestamp,
		"checks":    status.Checks,
	})
}
