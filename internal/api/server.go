// Package api exposes the memory graph engine over HTTP. The surface is a
// thin projection of the engine's operations; all semantics live in
// internal/engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/engramkit/engram/internal/engine"
	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/pkg/config"
)

// Server is the REST API server over one engine instance.
type Server struct {
	router     *gin.Engine
	engine     *engine.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer creates the REST API server.
func NewServer(eng *engine.Engine, cfg *config.Config) *Server {
	log := logging.GetLogger("api")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		corsConfig := cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			MaxAge:          12 * time.Hour,
		}
		router.Use(cors.New(corsConfig))
	}

	s := &Server{
		router: router,
		engine: eng,
		config: cfg,
		log:    log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")

	v1.POST("/memories", s.handleStore)
	v1.GET("/memories/:id", s.handleGet)
	v1.GET("/memories/:id/links", s.handleLinks)
	v1.GET("/search", s.handleSearch)
	v1.GET("/context", s.handleContext)
	v1.GET("/graph/traverse/:id", s.handleTraverse)
	v1.GET("/graph/clusters", s.handleClusters)
	v1.GET("/conflicts", s.handleConflicts)
	v1.POST("/conflicts/:id/resolve", s.handleResolveConflict)
	v1.GET("/health", s.handleHealth)
}

// Run starts the server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("REST API listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Router exposes the gin router, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
