package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"easybaby/backend/internal/telemetry"
)

// unmatchedRoute is the route label for requests that matched no route.
const unmatchedRoute = "unmatched"

// Metrics records request count and latency by route template.
func Metrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
