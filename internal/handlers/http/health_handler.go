package http

import (
	"context"
	"net/http"
	"time"

	"meshcall/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// SessionCounter reports the number of open relay sessions.
type SessionCounter interface {
	SessionCount() int
}

type HealthHandler struct {
	checker  *monitoring.HealthChecker
	sessions SessionCounter
	started  time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		sessions: sessions,
		started:  time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health is a liveness probe and never touches dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.started).String(),
		"sessions":  h.sessions.SessionCount(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
