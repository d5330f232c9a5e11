package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashboard-core/internal/store"
)

type createInstanceRequest struct {
	Name          string         `json:"name" binding:"required,min=1,max=120"`
	PromptName    string         `json:"prompt_name"`
	PromptVersion string         `json:"prompt_version"`
	Symbols       []string       `json:"symbols"`
	Timeframe     string         `json:"timeframe"`
	MinConfidence *float64       `json:"min_confidence"`
	MinRiskReward *float64       `json:"min_risk_reward"`
	Settings      map[string]any `json:"settings"`
}

type listInstancesQuery struct {
	Active bool `form:"active"`
}

type listRunsQuery struct {
	InstanceID string `form:"instance_id"`
	Status     string `form:"status"`
	Limit      int    `form:"limit"`
}

type listTradesQuery struct {
	InstanceID string `form:"instance_id"`
	RunID      string `form:"run_id"`
	CycleID    string `form:"cycle_id"`
	Status     string `form:"status"`
	DryRun     *bool  `form:"dry_run"`
	Limit      int    `form:"limit"`
}

type hierarchyQuery struct {
	Limit  int  `form:"limit"`
	Active bool `form:"active"`
}

type updateRunStatusRequest struct {
	Status     string `json:"status" binding:"required"`
	StopReason string `json:"stop_reason"`
}

type processStatusRequest struct {
	Running    bool     `json:"running"`
	PID        *int64   `json:"pid"`
	RecentLogs []string `json:"recent_logs"`
}

func (q *listRunsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	q.Status = strings.ToLower(strings.TrimSpace(q.Status))
}

func (q *hierarchyQuery) normalize() {
	if q.Limit < 0 {
		q.Limit = 0
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondStoreError maps store sentinels onto HTTP codes. Anything else is
// logged and reported as a generic 500.
func (s *Server) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		_ = c.Error(err)
		s.Log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

// maxCachedResponses bounds the response cache before expired entries are
// swept.
const maxCachedResponses = 1024

// respondCached serves the request URI from the response cache, or calls load
// and caches its result.
func (s *Server) respondCached(c *gin.Context, load func() (any, error)) {
	key := c.Request.URL.RequestURI()
	if v, age, ok := s.cache.GetWithAge(key); ok {
		c.Header("X-Cache", "HIT")
		c.Header("Age", strconv.Itoa(int(age.Seconds())))
		c.JSON(http.StatusOK, v)
		return
	}

	v, err := load()
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if s.cache.Enabled() {
		s.cache.Set(key, v)
		if s.cache.Len() > maxCachedResponses {
			s.cache.Cleanup()
		}
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":        s.Meta.Version,
		"backend":        s.Meta.Backend,
		"response_cache": s.cache.Stats(),
	})
}

// getMetrics returns system performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// --- instances ---

func (s *Server) listInstances(c *gin.Context) {
	var q listInstancesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	instances, err := s.Store.ListInstances(c.Request.Context(), q.Active)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

func (s *Server) createInstance(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	for k, v := range req.Settings {
		if err := s.Settings.Catalog().Validate(k, v); err != nil {
			s.respondStoreError(c, err)
			return
		}
	}

	inst, err := s.Store.CreateInstance(c.Request.Context(), store.Instance{
		Name:          req.Name,
		PromptName:    req.PromptName,
		PromptVersion: req.PromptVersion,
		Symbols:       req.Symbols,
		Timeframe:     req.Timeframe,
		MinConfidence: req.MinConfidence,
		MinRiskReward: req.MinRiskReward,
		Settings:      req.Settings,
	})
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) getInstance(c *gin.Context) {
	inst, err := s.Store.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if inst == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "instance not found")
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) updateInstance(c *gin.Context) {
	var req store.InstanceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	inst, err := s.Store.UpdateInstance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) deactivateInstance(c *gin.Context) {
	if err := s.Store.DeactivateInstance(c.Request.Context(), c.Param("id")); err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "is_active": false})
}

func (s *Server) getInstanceConfig(c *gin.Context) {
	rows, err := s.Settings.GetInstanceConfigAsRows(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if rows == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "instance not found")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) updateInstanceSettings(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	merged, err := s.Settings.UpdateInstanceSettings(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, merged)
}

// requireInstance writes a 404 and returns false when id is unknown.
func (s *Server) requireInstance(c *gin.Context, id string) bool {
	inst, err := s.Store.GetInstance(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return false
	}
	if inst == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "instance not found")
		return false
	}
	return true
}

func (s *Server) getInstanceStats(c *gin.Context) {
	id := c.Param("id")
	if !s.requireInstance(c, id) {
		return
	}
	stats, err := s.Store.GetStatsByInstanceID(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getInstanceMetrics(c *gin.Context) {
	id := c.Param("id")
	if !s.requireInstance(c, id) {
		return
	}
	metrics, err := s.Store.GetTradeMetrics(c.Request.Context(), store.InstanceScope(id))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) getProcessStatus(c *gin.Context) {
	status, err := s.Store.GetProcessStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if status == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no process status recorded")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) saveProcessStatus(c *gin.Context) {
	id := c.Param("id")
	var req processStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !s.requireInstance(c, id) {
		return
	}
	err := s.Store.SaveProcessStatus(c.Request.Context(), store.ProcessStatus{
		InstanceID: id,
		Running:    req.Running,
		PID:        req.PID,
		RecentLogs: req.RecentLogs,
	})
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.getProcessStatus(c)
}

// --- runs, cycles, trades ---

func (s *Server) listRuns(c *gin.Context) {
	var q listRunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	runs, err := s.Store.ListRuns(c.Request.Context(), store.RunFilter{
		InstanceID: q.InstanceID,
		Status:     q.Status,
		Limit:      q.Limit,
	})
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.Store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if run == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) updateRunStatus(c *gin.Context) {
	var req updateRunStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	id := c.Param("id")
	if err := s.Store.UpdateRunStatus(c.Request.Context(), id, strings.ToLower(req.Status), req.StopReason); err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.getRun(c)
}

func (s *Server) getRunStats(c *gin.Context) {
	id := c.Param("id")
	run, err := s.Store.GetRun(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if run == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	stats, err := s.Store.GetStatsByRunID(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getCycleStats(c *gin.Context) {
	id := c.Param("id")
	cycle, err := s.Store.GetCycle(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if cycle == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "cycle not found")
		return
	}
	stats, err := s.Store.GetStatsByCycleID(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getGlobalStats(c *gin.Context) {
	ctx := c.Request.Context()
	s.respondCached(c, func() (any, error) {
		stats, err := s.Store.GetGlobalStats(ctx)
		if err != nil {
			return nil, err
		}
		metrics, err := s.Store.GetTradeMetrics(ctx, store.GlobalScope())
		if err != nil {
			return nil, err
		}
		return gin.H{"stats": stats, "metrics": metrics}, nil
	})
}

func (s *Server) listTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	trades, err := s.Store.ListTrades(c.Request.Context(), store.TradeFilter{
		InstanceID: q.InstanceID,
		RunID:      q.RunID,
		CycleID:    q.CycleID,
		Status:     q.Status,
		DryRun:     q.DryRun,
		Limit:      q.Limit,
	})
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// --- hierarchy ---

func (s *Server) getInstancesHierarchy(c *gin.Context) {
	var q hierarchyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	s.respondCached(c, func() (any, error) {
		return s.Hierarchy.GetInstancesWithHierarchy(c.Request.Context(), q.Limit, q.Active)
	})
}

func (s *Server) getRunsHierarchy(c *gin.Context) {
	var q hierarchyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	s.respondCached(c, func() (any, error) {
		return s.Hierarchy.GetRunsWithHierarchy(c.Request.Context(), q.Limit)
	})
}
