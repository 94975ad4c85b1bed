// Package server is the HTTP surface of the gateway: tool mediation on
// /call, discovery on /tools and /status, and operator endpoints for
// permissions, reliability state, and the audit log.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/audit"
	"github.com/toolgate-io/toolgate/internal/auth"
	"github.com/toolgate-io/toolgate/internal/gateway"
)

type Server struct {
	echo   *echo.Echo
	config Config
}

func New(cfg Config, manager *gateway.SecureManager, aud audit.Store, authManager *auth.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		config: cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(manager, aud, authManager)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Info().Int("port", s.config.Port).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	s.echo.Server.WriteTimeout = time.Duration(s.config.WriteTimeout) * time.Second

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Handler exposes the router so tests can serve it without binding a port.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
}

func (s *Server) setupRoutes(manager *gateway.SecureManager, aud audit.Store, authManager *auth.Manager) {
	callHandler := NewCallHandler(manager, aud)
	toolsHandler := NewToolsHandler(manager)
	permissionsHandler := NewPermissionsHandler(manager.Checker())
	reliabilityHandler := NewReliabilityHandler(manager.Registries())
	auditHandler := NewAuditHandler(aud)
	authHandler := auth.NewHandler(authManager)

	// Public endpoints (no auth required)
	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/login", authHandler.Login)

	protected := s.echo.Group("")
	protected.Use(authManager.Middleware())

	protected.GET("/me", authHandler.Me)

	protected.POST("/call", callHandler.HandleCall)
	protected.GET("/tools", toolsHandler.ListTools)
	protected.GET("/status", toolsHandler.Status)

	protected.GET("/permissions", permissionsHandler.GetPermissions)
	protected.POST("/permissions", permissionsHandler.UpdateConsent, authManager.RequireRole(auth.RoleAdmin))

	protected.GET("/reliability", reliabilityHandler.GetStats)
	protected.POST("/reliability", reliabilityHandler.HandleAction, authManager.RequireRole(auth.RoleAdmin))

	protected.GET("/audit", auditHandler.GetAuditLog)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, `
		<!DOCTYPE html>
		<html>
		<head>
			<title>Toolgate</title>
			<meta charset="UTF-8">
			<meta name="viewport" content="width=device-width, initial-scale=1.0">
		</head>
		<body>
			<div id="root">
				<h1>Toolgate</h1>
				<p>Secure tool-call gateway. API endpoints:</p>
				<ul>
					<li>POST /call - Mediate a tool call</li>
					<li>GET /tools - List tools with permission annotations</li>
					<li>GET /status - Upstream server reachability</li>
					<li>GET/POST /permissions - Inspect and manage consent</li>
					<li>GET/POST /reliability - Breaker, gate, and cache state</li>
					<li>GET /audit - Append-only call log</li>
					<li>POST /login - Operator login</li>
				</ul>
			</div>
		</body>
		</html>
	`)
}
