// Package http serves the migration-guard admin API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/config"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/usecase"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Server implements the admin REST API over a Guard
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	guard      *usecase.Guard
	auth       *Authenticator
	config     config.HTTPConfig
	logger     *zap.Logger
}

// NewServer creates the admin API server
func NewServer(guard *usecase.Guard, cfg config.HTTPConfig, logger *zap.Logger) *Server {
	s := &Server{
		guard:  guard,
		auth:   NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, logger),
		config: cfg,
		logger: logger.Named("http"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	if s.guard.Config.Service.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(correlationMiddleware())
	s.router.Use(loggingMiddleware(s.logger))

	// Probes and the scrape endpoint stay unauthenticated
	s.router.GET("/livez", gin.WrapF(s.guard.Readiness.LivenessHandler()))
	s.router.GET("/readyz", gin.WrapF(s.guard.Readiness.ReadinessHandler()))
	s.router.GET("/metrics", gin.WrapH(s.guard.Metrics.Handler()))

	admin := s.router.Group("/")
	admin.Use(s.auth.Middleware())
	{
		admin.GET("/health", s.getHealth)
		admin.GET("/dashboard", s.getDashboard)
		admin.GET("/alerts", s.listAlerts)
		admin.POST("/alerts/:key/ack", s.acknowledgeAlert)
		admin.POST("/dr/detect", s.detectDisasters)
	}
}

// getHealth runs every health category. ?cached=true returns the stored
// results instead.
func (s *Server) getHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("cached") == "true" {
		results, err := s.guard.Health.Current(ctx)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  entity.CompositeStatus(results),
			"results": results,
		})
		return
	}

	report, err := s.guard.Health.Run(ctx, executionContext(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	code := http.StatusOK
	if report.Status == entity.HealthStatusFailed {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) getDashboard(c *gin.Context) {
	var window time.Duration
	if since := c.Query("since"); since != "" {
		parsed, err := time.ParseDuration(since)
		if err != nil || parsed <= 0 {
			s.respondError(c, common.ErrInvalidInput("since").WithContext("since", since))
			return
		}
		window = parsed
	}

	dashboard, err := s.guard.Bus.Dashboard(c.Request.Context(), window)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts, err := s.guard.Bus.GenerateAlerts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	key := c.Param("key")
	n, err := s.guard.Bus.AcknowledgeAlert(c.Request.Context(), executionContext(c), key)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "acknowledged": n})
}

func (s *Server) detectDisasters(c *gin.Context) {
	candidates, err := s.guard.Recovery.Detect(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// respondError maps application errors onto their HTTP status
func (s *Server) respondError(c *gin.Context, err error) {
	appErr := common.GetAppError(err)
	if appErr == nil {
		appErr = common.WrapError(err, common.ErrCodeInternal, "internal error")
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Admin API request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   appErr.Code,
		"message": appErr.Message,
		"context": appErr.Context,
	})
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Admin API listening", zap.String("address", s.config.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
