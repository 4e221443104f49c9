package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/polylog/internal/common"
	"github.com/suPer8Hu/polylog/internal/db"
)

const (
	statusUp            = "up"
	statusDown          = "down"
	statusNotConfigured = "not_configured"
)

// Health reports each dependency. The relay works without any of them, so
// the endpoint always answers 200 and marks the service degraded instead.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := gin.H{
		"database": statusNotConfigured,
		"redis":    statusNotConfigured,
		"rabbitmq": statusNotConfigured,
	}
	healthy := true

	if h.DB != nil {
		deps["database"] = statusUp
		if err := db.Ping(h.DB); err != nil {
			deps["database"] = statusDown
			healthy = false
		}
	}
	if h.Redis != nil {
		deps["redis"] = statusUp
		if err := h.Redis.Ping(ctx); err != nil {
			deps["redis"] = statusDown
			healthy = false
		}
	}
	if h.Publisher != nil {
		deps["rabbitmq"] = statusUp
		if !h.Publisher.Healthy() {
			deps["rabbitmq"] = statusDown
			healthy = false
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	total := 0
	for _, s := range h.Relay.Registry().Snapshot() {
		total += s.ConnectionCount
	}
	common.OK(c, gin.H{
		"status":       status,
		"dependencies": deps,
		"websocket": gin.H{
			"status":            statusUp,
			"total_connections": total,
		},
	})
}
