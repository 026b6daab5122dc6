package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vidyahub/school-api/internal/service"
)

// Metrics records request duration and status for every handled route.
func Metrics(metricsService *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsService.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
