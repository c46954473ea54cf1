// Package api exposes a meshstore.Store over HTTP: PUT to write a blob to
// an address, GET to read one back. The API never interprets the blob it
// carries — from the server's point of view every payload is opaque bytes,
// and address is the only index.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zentalk-labs/magicratchet/pkg/meshstore"
)

// Config holds server configuration.
type Config struct {
	Port            int
	EnableCORS      bool
	RateLimit       int // requests per minute per client IP
	MaxUploadSizeMB int
}

// DefaultConfig returns sane defaults for a single mesh storage node.
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		EnableCORS:      true,
		RateLimit:       600,
		MaxUploadSizeMB: 16,
	}
}

// Server is the HTTP front end for one meshstore.Store.
type Server struct {
	store      *meshstore.Store
	router     *gin.Engine
	httpServer *http.Server
	port       int
	logger     *slog.Logger
}

// NewServer builds a Server backed by store. A nil logger falls back to
// slog's default handler.
func NewServer(store *meshstore.Store, config *Config, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{store: store, router: router, port: config.Port, logger: logger}

	if config.EnableCORS {
		router.Use(corsMiddleware())
	}
	router.Use(rateLimitMiddleware(config.RateLimit))
	router.Use(loggingMiddleware(logger))
	router.MaxMultipartMemory = int64(config.MaxUploadSizeMB) << 20

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	shares := s.router.Group("/shares")
	{
		shares.PUT("/:addr", s.handlePut)
		shares.GET("/:addr", s.handleGet)
		shares.DELETE("/:addr", s.handleDelete)
	}
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/stats", s.handleStats)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mesh storage api listening", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down mesh storage api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop shuts the server down immediately.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
