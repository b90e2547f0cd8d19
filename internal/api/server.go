// Package api assembles the gin router and the dual HTTP/HTTPS edge.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omnia-network/wg-gateway/internal/api/handlers"
	"github.com/omnia-network/wg-gateway/internal/api/middleware"
	"github.com/omnia-network/wg-gateway/internal/config"
	"github.com/omnia-network/wg-gateway/internal/directory"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server owns the gin engine and the listeners built from it.
type Server struct {
	config *config.Config
	logger *zap.Logger
	router *gin.Engine

	httpServer  *http.Server
	httpsServer *http.Server
}

// NewServer builds the handler tree. Routes are registered in order of
// specificity: the three named endpoints first, then a catch-all that
// forwards everything else per the classifier.
func NewServer(cfg *config.Config, dir *directory.Directory, logger *zap.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())

	h := handlers.New(dir, cfg, logger)

	r.GET("/health-check", handlers.HealthCheck)
	r.POST("/register-to-vpn", h.Register)
	r.GET("/peer-info", h.PeerInfo)
	r.NoRoute(h.Forward)

	return &Server{config: cfg, logger: logger, router: r}
}

// Run binds 0.0.0.0:8081 for HTTP always, and additionally 0.0.0.0:443 for
// HTTPS if ENABLE_HTTPS is set, serving the same handler tree on both. It
// blocks until ctx is cancelled, then drains both listeners.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: "0.0.0.0:8081", Handler: s.router}

	// Buffered so a listener failing after shutdown has already begun
	// never blocks its goroutine forever.
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("http listener started", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listener: %w", err)
		}
	}()

	if s.config.EnableHTTPS {
		s.httpsServer = &http.Server{Addr: "0.0.0.0:443", Handler: s.router}
		go func() {
			s.logger.Info("https listener started", zap.String("addr", s.httpsServer.Addr))
			err := s.httpsServer.ListenAndServeTLS(s.config.HTTPSCertPath, s.config.HTTPSKeyPath)
			if err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("https listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		_ = s.Shutdown()
		return err
	}
}

// Shutdown drains in-flight requests on both listeners within a bounded
// deadline.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
		}
	}
	if s.httpsServer != nil {
		if shutdownErr := s.httpsServer.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
		}
	}
	return err
}
