package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loomchat/loomchat/pkg/auth"
	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/handler"
	"github.com/loomchat/loomchat/pkg/mcp"
	"github.com/loomchat/loomchat/pkg/registry"
	"github.com/loomchat/loomchat/pkg/service"
)

type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	cfg       *config.AppConfig
	port      int
}

// Deps bundles the wired services the router needs.
type Deps struct {
	Sessions *auth.Sessions
	Users    *service.UserService
	Chat     *service.ChatService
	Projects *service.ProjectService
	Registry *registry.Registry
	Gateway  *mcp.Gateway
}

func NewServer(cfg *config.AppConfig, deps Deps, logger *slog.Logger) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS: allow localhost dev origins; the session cookie requires
	// credentials to be allowed explicitly.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
				c.Header("Access-Control-Allow-Credentials", "true")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    logger,
		cfg:       cfg,
	}
	server.setupRoutes(deps)
	return server
}

func (s *Server) setupRoutes(deps Deps) {
	authHandler := handler.NewAuthHandler(deps.Users, deps.Sessions)

	s.ginEngine.GET("/healthz", handler.Healthz)

	api := s.ginEngine.Group("/api/v1")
	api.POST("/auth/signin", authHandler.SignIn)

	authed := api.Group("", deps.Sessions.Middleware())
	authed.GET("/session", authHandler.Session)
	handler.NewMetaHandler(deps.Registry, deps.Gateway).RegisterRoutes(authed)
	handler.NewThreadHandler(deps.Chat).RegisterRoutes(authed)
	handler.NewProjectHandler(deps.Projects).RegisterRoutes(authed)
}

// Start binds the listener and serves until ctx is cancelled, then shuts
// down gracefully. A busy port fails immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
