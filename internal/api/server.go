// Package api exposes the backtest runner over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/app"
	"regime-backtest-lab/internal/observability"
)

// Options configures a Server.
type Options struct {
	App    *app.App
	Logger *zap.Logger
	Clock  func() time.Time
}

// Server routes HTTP requests to the wired application.
type Server struct {
	app     *app.App
	engine  *gin.Engine
	hub     *Hub
	logger  *zap.Logger
	clock   func() time.Time
	started time.Time
}

// New creates a Server and registers its routes. The stream hub subscribes
// to the app bus immediately; call Close to detach it.
func New(opts Options) *Server {
	s := &Server{
		app:    opts.App,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.started = s.clock()
	s.hub = NewHub(HubOptions{
		Bus:     s.app.Bus,
		Buffer:  s.app.Config.Server.StreamBuffer,
		Metrics: s.app.Metrics,
		Logger:  s.logger,
	})

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(observability.Handler(s.app.Registry)))

	api := r.Group("/api/v1")
	{
		api.POST("/backtests", s.handleRun)
		api.POST("/backtests/batch", s.handleBatch)
		api.GET("/runs/:id", s.handleGetRun)
		api.GET("/runs/:id/trades", s.handleGetTrades)
		api.POST("/screen", s.handleScreen)
		api.GET("/stream", s.hub.Serve)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the event stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Close detaches the stream hub and disconnects its clients.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		began := s.clock()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", s.clock().Sub(began)),
		)
	}
}
