package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRouteGroup(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"":              RouteUnmatched,
		"/health":       RouteProbe,
		"/ready":        RouteProbe,
		"/metrics":      RouteMetrics,
		"/associations": RouteQuery,
		"/statistics":   RouteQuery,
	}
	for route, want := range cases {
		if got := RouteGroup(route); got != want {
			t.Fatalf("RouteGroup(%q)=%q want %q", route, got, want)
		}
	}
}

func TestAdminMiddlewareTagsRequests(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.ReleaseMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := gin.New()
	r.Use(AdminRequestLogger(logger, "MW_AE"))
	r.Use(AdminMetricsMiddleware("MW_AE"))
	r.GET("/associations", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/associations", "/health", "/nope/1", "/nope/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected query and two unmatched lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"ae":"MW_AE"`) || !strings.Contains(lines[0], `"group":"query"`) || !strings.Contains(lines[0], `"bytes":2`) {
		t.Fatalf("query line missing fields: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"group":"unmatched"`) {
		t.Fatalf("unmatched line missing fields: %s", lines[1])
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("MW_AE", "GET", RouteUnmatched, "404")); got != 2 {
		t.Fatalf("unmatched counter=%v want 2", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("MW_AE", "GET", "/health", "200")); got != 1 {
		t.Fatalf("health counter=%v want 1", got)
	}
}
