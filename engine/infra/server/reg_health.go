package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CreateHealthHandler reports readiness of the database and the number of
// running progress consumers.
func CreateHealthHandler(db HealthChecker, consumers func() int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		status := "healthy"
		code := http.StatusOK
		database := gin.H{"ready": true}
		if db != nil {
			if err := db.HealthCheck(ctx); err != nil {
				logger.FromContext(ctx).Warn("Health check failed", "component", "database", "error", err)
				status = "not_ready"
				code = http.StatusServiceUnavailable
				database = gin.H{"ready": false, "error": err.Error()}
			}
		}
		response := gin.H{"status": status, "database": database}
		if consumers != nil {
			response["consumers"] = gin.H{"active": consumers()}
		}
		c.JSON(code, gin.H{"data": response})
	}
}
