// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poll-broadcaster/backend/internal/model"
	"github.com/poll-broadcaster/backend/internal/repository"
	"github.com/poll-broadcaster/backend/internal/session"
)

// StatusHandler exposes the read-only HTTP surface: health, the current
// session snapshot and the recent operational log.
type StatusHandler struct {
	controller *session.Controller
	logs       *repository.EventLogRepository
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(controller *session.Controller, logs *repository.EventLogRepository) *StatusHandler {
	return &StatusHandler{controller: controller, logs: logs}
}

// Health handles GET /health - a synchronous readiness probe.
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"ready":     h.controller.IsReady(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Status handles GET /api/status - the current session snapshot.
func (h *StatusHandler) Status(c *gin.Context) {
	snapshot := h.controller.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"session": snapshot,
		"ready":   snapshot.Ready(),
	})
}

// Logs handles GET /api/logs?limit= - recent operational log entries,
// newest first.
func (h *StatusHandler) Logs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := h.logs.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log: " + err.Error()})
		return
	}
	if events == nil {
		events = []model.LogEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// RegisterRoutes registers the API routes on a Gin router group.
func (h *StatusHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.GET("/logs", h.Logs)
}
