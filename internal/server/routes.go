package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StreamRequest is the body of POST /streams/:stream. Omitted targets fall back
// to the server's configured autopilot; Start defaults to true.
type StreamRequest struct {
	Rate            int    `json:"rate"`
	Start           *bool  `json:"start,omitempty"`
	TargetSystem    *uint8 `json:"target_system,omitempty"`
	TargetComponent *uint8 `json:"target_component,omitempty"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.opts.Name,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready, reason := s.linkUp()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{
			"ready":   ready,
			"service": s.opts.Name,
			"version": version,
		}
		if reason != "" {
			body["reason"] = reason
		}
		c.JSON(status, body)
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.link.Stats())
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/streams/:stream", s.handleSetStream)

	r.POST("/stop-all", func(c *gin.Context) {
		if err := s.rates.StopAll(c.Request.Context(), s.opts.TargetSystem); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": len(ratecontrol.Streams())})
	})
}

func (s *Server) handleSetStream(c *gin.Context) {
	stream, err := ratecontrol.ParseStreamType(c.Param("stream"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var body StreamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := ratecontrol.Request{
		TargetSystem:    s.opts.TargetSystem,
		TargetComponent: s.opts.TargetComponent,
		Stream:          stream,
		Rate:            body.Rate,
		Start:           true,
	}
	if body.Start != nil {
		req.Start = *body.Start
	}
	if body.TargetSystem != nil {
		req.TargetSystem = *body.TargetSystem
	}
	if body.TargetComponent != nil {
		req.TargetComponent = *body.TargetComponent
	}

	if err := s.rates.Set(c.Request.Context(), req); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"stream": stream.String(),
		"rate":   req.Rate,
		"start":  req.Start,
	})
}

func (s *Server) linkUp() (bool, string) {
	select {
	case <-s.link.Done():
		if err := s.link.Err(); err != nil {
			return false, err.Error()
		}
		return false, bus.ErrClosed.Error()
	default:
		return true, ""
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var encErr *message.EncodingError
	switch {
	case errors.Is(err, ratecontrol.ErrUnknownStream), errors.Is(err, ratecontrol.ErrNegativeRate), errors.As(err, &encErr):
		status = http.StatusBadRequest
	case errors.Is(err, bus.ErrClosed), errors.Is(err, bus.ErrTransportIO):
		status = http.StatusServiceUnavailable
	}
	log.Warn().Err(err).Int("status", status).Msg("admin rate command failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
