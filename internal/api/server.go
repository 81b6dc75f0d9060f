// Package api wires the Gin HTTP server that exposes the control
// plane's single tool-call endpoint plus a liveness probe.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeblabdev/codeb-controlplane/internal/api/handler"
	"github.com/codeblabdev/codeb-controlplane/internal/api/middleware"
	"github.com/codeblabdev/codeb-controlplane/internal/core/envbundle"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slotengine"
	"github.com/codeblabdev/codeb-controlplane/internal/version"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host      string
	Port      int
	JWTSecret string
}

// Server is the control API's HTTP server.
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	log        logger.Logger
}

// NewServer creates a new control API server.
func NewServer(
	config ServerConfig,
	engine *slotengine.Engine,
	slots slot.Store,
	envs envbundle.Store,
	log logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{config: config, router: router, log: log}
	server.setupMiddleware()
	server.setupRoutes(engine, slots, envs)

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.Logger(s.log))
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes(engine *slotengine.Engine, slots slot.Store, envs envbundle.Store) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.GetInfo()})
	})

	toolHandler := handler.NewToolHandler(engine, slots, envs, s.log)

	v1 := s.router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(middleware.Auth(s.config.JWTSecret))
	protected.POST("/tools", toolHandler.Dispatch)
}

// Start runs the HTTP server until it errors or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
