package apihttp

import (
	"net/http"
	"strings"

	"tradeflow/internal/aggregation"
	"tradeflow/internal/execution"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/summary"

	"github.com/gin-gonic/gin"
)

// Router exposes read-only operator endpoints over run and session
// state. All mutation happens through the worker paths; this surface is
// for humans and dashboards.
type Router struct {
	Runs       *execution.Service
	Sessions   *aggregation.Service
	Aggregator *summary.Aggregator
	Metrics    *metrics.Registry
}

func NewRouter(runs *execution.Service, sessions *aggregation.Service, agg *summary.Aggregator, reg *metrics.Registry) *Router {
	return &Router{Runs: runs, Sessions: sessions, Aggregator: agg, Metrics: reg}
}

// Register mounts /api routes onto the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/runs/:id", r.handleRun)
	group.GET("/runs/:id/trades", r.handleRunTrades)
	group.GET("/runs/:id/summary", r.handleRunSummary)
	group.GET("/sessions/:id", r.handleSession)
	if r.Metrics != nil {
		group.GET("/metrics", r.handleMetrics)
	}
}

func (r *Router) handleRun(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run service unavailable"})
		return
	}
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run id is required"})
		return
	}
	run, err := r.Runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		logger.Errorf("[api] run lookup failed ip=%s run=%s err=%v", c.ClientIP(), runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "status": run.Status.String()})
}

func (r *Router) handleRunTrades(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run service unavailable"})
		return
	}
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run id is required"})
		return
	}
	trades, err := r.Runs.ListTrades(c.Request.Context(), runID)
	if err != nil {
		logger.Errorf("[api] run trades failed ip=%s run=%s err=%v", c.ClientIP(), runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "trades": trades, "count": len(trades)})
}

func (r *Router) handleRunSummary(c *gin.Context) {
	if r.Aggregator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator unavailable"})
		return
	}
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run id is required"})
		return
	}
	sum, err := r.Aggregator.BuildRunSummary(c.Request.Context(), runID)
	if err != nil {
		logger.Errorf("[api] run summary failed ip=%s run=%s err=%v", c.ClientIP(), runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sum == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

func (r *Router) handleSession(c *gin.Context) {
	if r.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session service unavailable"})
		return
	}
	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}
	session, err := r.Sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		logger.Errorf("[api] session lookup failed ip=%s session=%s err=%v", c.ClientIP(), sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "status": session.Status.String()})
}

func (r *Router) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"counters": r.Metrics.Snapshot()})
}
