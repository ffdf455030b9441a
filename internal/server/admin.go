package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/internal/security"
)

// requireAdmin gates the security administration surface on the admin
// reporting scope
func (s *Server) requireAdmin(c *gin.Context) bool {
	if _, rejection := s.deps.Gate.Authorize(c.Request.Context(), &policy.Request{
		Operation: policy.OpReportAdmin,
		Principal: principalFrom(c),
	}); rejection != nil {
		s.writeError(c, rejection)
		return false
	}
	return true
}

func (s *Server) handleListRules(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": s.deps.Rules.List()})
}

// ruleInput is the wire form of a detection rule. Compiled conditions are
// code-level and cannot be set through the API.
type ruleInput struct {
	ID            string             `json:"id" binding:"required"`
	EventType     security.EventType `json:"eventType" binding:"required"`
	Threshold     int                `json:"threshold" binding:"required"`
	WindowSeconds int                `json:"windowSeconds"`
	Severity      security.Severity  `json:"severity"`
	Response      security.Action    `json:"response"`
	Enabled       bool               `json:"enabled"`
}

func (s *Server) handleUpsertRule(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var in ruleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	rule := &security.Rule{
		ID:        in.ID,
		EventType: in.EventType,
		Threshold: in.Threshold,
		Window:    time.Duration(in.WindowSeconds) * time.Second,
		Severity:  in.Severity,
		Response:  in.Response,
		Enabled:   in.Enabled,
	}
	if err := s.deps.Rules.Upsert(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_RULE", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if !s.deps.Rules.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "RULE_NOT_FOUND",
			"message": "no rule with that id",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleListEvents(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	ip := c.Query("ip")
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "the ip query parameter is required",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ip":     ip,
		"events": s.deps.Recorder.EventsForSource(ip),
	})
}

func (s *Server) handleUnblock(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var in struct {
		IP     string `json:"ip"`
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	lifted := false
	if in.IP != "" && s.deps.Responder.UnblockIP(in.IP) {
		lifted = true
	}
	if in.UserID != "" && s.deps.Responder.UnblockUser(in.UserID) {
		lifted = true
	}
	if !lifted {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "BLOCK_NOT_FOUND",
			"message": "no active block for the given source",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unblocked"})
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.deps.Dashboard == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.deps.Dashboard.Recent(100)})
}
