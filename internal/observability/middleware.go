package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Admin route groups used to pick log levels and label metrics.
const (
	RouteProbe     = "probe"
	RouteMetrics   = "metrics"
	RouteQuery     = "query"
	RouteUnmatched = "unmatched"
)

// RouteGroup classifies a matched admin route. An empty route means gin
// found no handler.
func RouteGroup(route string) string {
	switch {
	case route == "":
		return RouteUnmatched
	case route == "/health" || route == "/ready":
		return RouteProbe
	case strings.HasPrefix(route, "/metrics"):
		return RouteMetrics
	default:
		return RouteQuery
	}
}

// AdminRequestLogger logs admin requests for the listener ae. Probe and
// scrape traffic logs at trace so pollers do not drown association logs.
func AdminRequestLogger(logger zerolog.Logger, ae string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		group := RouteGroup(route)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case group == RouteProbe || group == RouteMetrics:
			event = logger.Trace()
		default:
			event = logger.Debug()
		}

		event.
			Str("ae", ae).
			Str("group", group).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin.request")
	}
}

// AdminMetricsMiddleware counts admin requests by matched route. Unmatched
// paths share one label so stray URLs cannot grow the series count.
func AdminMetricsMiddleware(ae string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = RouteUnmatched
		}
		RecordHTTPRequest(ae, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
