package api

import (
	"net/http"

	"github.com/echoproof/echo/internal/health"
	"github.com/gin-gonic/gin"
)

type healthSnapshotter interface {
	Snapshot() health.Report
}

// ReadyHandler serves the dependency report, 503 while any dependency is
// degraded.
func ReadyHandler(checker healthSnapshotter) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := checker.Snapshot()
		status := http.StatusOK
		if !r.Healthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, r)
	}
}
