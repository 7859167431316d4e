package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/observability"
)

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// MetricsSnapshot serves the in-process metrics registry as plain text.
func MetricsSnapshot(c *gin.Context) {
	m := observability.Current()
	if m == nil {
		c.String(http.StatusNotFound, "metrics disabled\n")
		return
	}
	c.String(http.StatusOK, m.Snapshot())
}
