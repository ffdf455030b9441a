// Package server exposes the HTTP API: financial operations guarded by the
// policy pipeline, balance queries, and the security administration surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/internal/alerting"
	"github.com/fanvault/finguard/internal/finance"
	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/internal/security"
)

// Deps are the collaborators the server routes requests to
type Deps struct {
	Logger    *zap.Logger
	Finance   *finance.Service
	Gate      *policy.Gate
	Sessions  identity.SessionProvider
	Recorder  *security.Recorder
	Responder *security.Responder
	Rules     *security.RuleSet
	Dashboard *alerting.DashboardAlerter

	// RateWindow enables the distributed per-IP request limiter when set
	RateWindow *security.RedisWindow
	RateLimit  int
}

// Server is the HTTP front end
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

// New builds the server and its route table
func New(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		deps:   deps,
		engine: engine,
		http: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	engine.Use(ginzap.RecoveryWithZap(deps.Logger, true))
	engine.Use(ginzap.Ginzap(deps.Logger, time.RFC3339, true))
	engine.Use(otelgin.Middleware("finguard"))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	api.Use(s.securityGate())
	if deps.RateWindow != nil {
		api.Use(s.rateLimit())
	}
	api.Use(s.authenticate())

	api.POST("/accounts", s.handleCreateAccount)
	api.POST("/transactions", s.handleCreateTransaction)
	api.GET("/transactions/:id", s.handleGetTransaction)
	api.POST("/transactions/:id/cancel", s.handleCancelTransaction)

	api.POST("/payouts", s.handleCreatePayout)
	api.POST("/payouts/:id/approve", s.handleApprovePayout)
	api.POST("/payouts/:id/execute", s.handleExecutePayout)

	api.GET("/balances/:account", s.handleGetBalance)
	api.POST("/balances/:account/lock", s.handleLockBalance)
	api.POST("/balances/:account/unlock", s.handleUnlockBalance)

	admin := api.Group("/admin/security")
	admin.GET("/rules", s.handleListRules)
	admin.PUT("/rules", s.handleUpsertRule)
	admin.DELETE("/rules/:id", s.handleDeleteRule)
	admin.GET("/events", s.handleListEvents)
	admin.POST("/unblock", s.handleUnblock)
	admin.GET("/alerts", s.handleRecentAlerts)

	return s
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.deps.Logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
