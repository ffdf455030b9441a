package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/security"
)

const principalKey = "finguard.principal"

// securityGate rejects requests from blocked or throttled source IPs before
// any other processing. User-level state is checked again after
// authentication, once the caller is known.
func (s *Server) securityGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := s.deps.Responder.Check(c.ClientIP(), "")
		if !decision.Allowed {
			s.writeGateDecision(c, decision)
			return
		}
		c.Next()
	}
}

// rateLimit is the distributed per-IP request limiter. Redis outages fail
// open; abuse of the limit is itself a recorded security event.
func (s *Server) rateLimit() gin.HandlerFunc {
	limit := s.deps.RateLimit
	if limit <= 0 {
		limit = 300
	}
	return func(c *gin.Context) {
		allowed, _, err := s.deps.RateWindow.Take(c.Request.Context(), "ratelimit:"+c.ClientIP(), time.Minute, limit)
		if err != nil {
			s.deps.Logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			s.deps.Recorder.Record(security.EventRateLimitAbuse, security.Source{
				IP:        c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			}, map[string]string{"path": c.FullPath()})
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "request rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// authenticate resolves the bearer token into a Principal and re-checks the
// security gate with the user identity attached.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.recordAuthFailure(c, "missing bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "a bearer session token is required",
			})
			return
		}
		principal, err := s.deps.Sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			s.recordAuthFailure(c, err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "invalid session token",
			})
			return
		}

		decision := s.deps.Responder.Check(c.ClientIP(), principal.UserID.String())
		if !decision.Allowed {
			s.writeGateDecision(c, decision)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func (s *Server) recordAuthFailure(c *gin.Context, reason string) {
	s.deps.Recorder.Record(security.EventAuthFailure, security.Source{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, map[string]string{
		"path":   c.FullPath(),
		"reason": reason,
	})
}

func (s *Server) writeGateDecision(c *gin.Context, decision security.Decision) {
	if decision.RetryAfter > 0 {
		seconds := int(decision.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.AbortWithStatusJSON(decision.Status, gin.H{
		"error":   decision.Code,
		"message": "request refused by security policy",
	})
}

func principalFrom(c *gin.Context) *identity.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	principal, _ := v.(*identity.Principal)
	return principal
}
