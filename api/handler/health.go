package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ingester/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// BusyReporter reports whether the browsing context is in use.
type BusyReporter interface {
	Busy() bool
}

// Health returns a handler for GET /api/v1/health.
func Health(br BusyReporter, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  "healthy",
			Uptime:  int64(time.Since(startTime).Seconds()),
			Version: Version,
			Busy:    br.Busy(),
		})
	}
}
