package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/detection"
	"github.com/mbd888/sentinel/internal/health"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/pagination"
	"github.com/mbd888/sentinel/internal/risk"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// analyzeHandler scores one transaction. Any failure, including a body
// that does not parse, answers 500 with the ERROR assessment.
func (s *Server) analyzeHandler(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.analysisFailed(c, err)
		return
	}

	a, err := s.engine.Analyze(c.Request.Context(), req.toRisk())
	if err != nil {
		s.analysisFailed(c, err)
		return
	}

	c.Header("X-Assessment-ID", a.ID)
	c.JSON(http.StatusOK, a)
}

func (s *Server) analysisFailed(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Warn("analysis failed", "error", err)
	c.JSON(http.StatusInternalServerError, risk.ErrorAssessment(err))
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status       string           `json:"status"`
	Service      string           `json:"service"`
	Version      string           `json:"version"`
	ModelsLoaded detection.Report `json:"models_loaded"`
	ConfigLoaded bool             `json:"config_loaded"`
	AuditPending int              `json:"audit_pending"`
	Timestamp    string           `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		Service:      "sentinel",
		Version:      Version,
		ModelsLoaded: s.engine.Detector().Report(),
		ConfigLoaded: s.engineCfg != nil,
		AuditPending: s.witness.Pending(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	ok, checks := s.health.CheckAll(c.Request.Context())
	if checks == nil {
		checks = []health.Status{}
	}
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// ConfigResponse echoes the scoring configuration. Profiles, the trust
// graph and training data are not exposed.
type ConfigResponse struct {
	Weights    config.RiskWeights    `json:"risk_weights"`
	Thresholds config.RiskThresholds `json:"risk_thresholds"`
	Model      config.ModelConfig    `json:"model_config"`
}

func (s *Server) configHandler(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{
		Weights:    s.engineCfg.Weights,
		Thresholds: s.engineCfg.Thresholds,
		Model:      s.engineCfg.Model,
	})
}

func (s *Server) listAssessmentsHandler(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	account := c.Param("account")
	before, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	recs, err := s.engine.History(c.Request.Context(), account, before, limit+1)
	switch {
	case errors.Is(err, risk.ErrNotFound) && before != nil:
		recs = []*risk.Record{}
	case errors.Is(err, risk.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no assessments recorded for account",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to list assessments", "account", account, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list assessments",
		})
		return
	}

	recs, next, more := pagination.ComputePage(recs, limit, func(r *risk.Record) (time.Time, string) {
		return r.EvaluatedAt, r.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"account":     account,
		"assessments": recs,
		"count":       len(recs),
		"next_cursor": next,
		"has_more":    more,
	})
}

// parseLimit reads ?limit, defaulting to 50 and capping at 500. It writes
// a 400 and returns false when the value is not a positive integer.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_limit",
			"message": "limit must be a positive integer",
		})
		return 0, false
	}
	return min(n, maxListLimit), true
}
