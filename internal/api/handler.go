package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashboard-core/internal/hierarchy"
	"dashboard-core/internal/monitor"
	"dashboard-core/internal/settings"
	"dashboard-core/internal/store"
	"dashboard-core/pkg/cache"
)

// Pinger is the slice of the database the health endpoint needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP endpoints around the dashboard store.
type Server struct {
	Router    *gin.Engine
	DB        Pinger
	Store     *store.Store
	Hierarchy *hierarchy.Assembler
	Settings  *settings.Overlay
	Metrics   *monitor.SystemMetrics
	Log       *zap.Logger
	Meta      SystemMeta

	cache   *cache.ShardedCache[any]
	mu      sync.Mutex
	httpSrv *http.Server
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// Options tunes the middleware stack.
type Options struct {
	RateLimit      float64 // requests per second per client IP; <= 0 disables
	RateBurst      int
	CORSOrigins    []string
	RequestTimeout time.Duration
	CacheTTL       time.Duration // aggregate/tree responses; <= 0 disables
}

func NewServer(database Pinger, st *store.Store, asm *hierarchy.Assembler, overlay *settings.Overlay, metrics *monitor.SystemMetrics, logger *zap.Logger, meta SystemMeta, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	responses := cache.New[any](opts.CacheTTL)

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(RecoveryMiddleware(logger))           // Panic recovery (first)
	r.Use(RequestIDMiddleware())                // Request ID tracking
	r.Use(TracingMiddleware())                  // Span per request
	r.Use(RequestLogger(logger, metrics))       // Request logging (after ID is set)
	r.Use(CORSMiddleware(opts.CORSOrigins))     // CORS before limiting so preflights pass
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.RateBurst), logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(InvalidateOnWrite(responses)) // Writes drop cached aggregates

	s := &Server{
		Router:    r,
		DB:        database,
		Store:     st,
		Hierarchy: asm,
		Settings:  overlay,
		Metrics:   metrics,
		Log:       logger,
		Meta:      meta,
		cache:     responses,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/stats", s.getGlobalStats)
		api.GET("/trades", s.listTrades)

		instances := api.Group("/instances")
		{
			instances.GET("", s.listInstances)
			instances.POST("", s.createInstance)
			instances.GET("/:id", s.getInstance)
			instances.PUT("/:id", s.updateInstance)
			instances.POST("/:id/deactivate", s.deactivateInstance)
			instances.GET("/:id/config", s.getInstanceConfig)
			instances.PUT("/:id/settings", s.updateInstanceSettings)
			instances.GET("/:id/stats", s.getInstanceStats)
			instances.GET("/:id/metrics", s.getInstanceMetrics)
			instances.GET("/:id/process", s.getProcessStatus)
			instances.PUT("/:id/process", s.saveProcessStatus)
		}

		runs := api.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
			runs.PUT("/:id/status", s.updateRunStatus)
			runs.GET("/:id/stats", s.getRunStats)
		}

		api.GET("/cycles/:id/stats", s.getCycleStats)

		tree := api.Group("/hierarchy")
		{
			tree.GET("/instances", s.getInstancesHierarchy)
			tree.GET("/runs", s.getRunsHierarchy)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": "database not configured"})
		return
	}
	if err := s.DB.Ping(ctx); err != nil {
		s.Log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": s.Meta.Backend})
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
