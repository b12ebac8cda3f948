// Package admin serves health, readiness, metrics and recent association
// history over HTTP.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/scpd/internal/observability"
	"github.com/danmuck/scpd/internal/scp"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Options wire the admin surface to a running listener.
type Options struct {
	ID          string
	Addr        string
	CorsOrigins []string
	Recent      *RecentAssociations
	// Statistics reports listener counters; nil serves zeros.
	Statistics func() scp.Statistics
	// Ready reports whether the listener accepts associations.
	Ready func() bool
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router     *gin.Engine
	recent     *RecentAssociations
	statistics func() scp.Statistics
	ready      func() bool
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequestLogger(observability.Component("admin"), opts.ID))
	r.Use(observability.AdminMetricsMiddleware(opts.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	recent := opts.Recent
	if recent == nil {
		recent = NewRecentAssociations(DefaultRecentAssociations)
	}
	s := &Server{
		ID:         opts.ID,
		Addr:       opts.Addr,
		Appeared:   time.Now(),
		router:     r,
		recent:     recent,
		statistics: opts.Statistics,
		ready:      opts.Ready,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.ready == nil || s.ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/statistics", func(c *gin.Context) {
		var stats scp.Statistics
		if s.statistics != nil {
			stats = s.statistics()
		}
		c.JSON(http.StatusOK, stats)
	})

	s.router.GET("/associations", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"associations": s.recent.Snapshot(limit)})
	})
}

// Serve listens on Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("admin.serve listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
