package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/observability"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Link is the read side of a running bus.
type Link interface {
	Stats() bus.Stats
	Done() <-chan struct{}
	Err() error
}

// Rates issues rate-control commands; *ratecontrol.Controller implements it.
type Rates interface {
	Set(ctx context.Context, req ratecontrol.Request) error
	StopAll(ctx context.Context, sys uint8) error
}

type Options struct {
	Name            string
	Addr            string
	CorsOrigins     []string
	TargetSystem    uint8
	TargetComponent uint8
}

// Server is the admin HTTP surface over one bus.
type Server struct {
	opts     Options
	link     Link
	rates    Rates
	router   *gin.Engine
	appeared time.Time
}

func New(link Link, rates Rates, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "mavbus"
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:     opts,
		link:     link,
		rates:    rates,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve listens until ctx is cancelled or the link goes down, then shuts the
// HTTP server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Str("service", s.opts.Name).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	var cause error
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	case <-s.link.Done():
		cause = s.link.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	log.Info().Str("service", s.opts.Name).Err(cause).Msg("admin server stopped")
	return cause
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
