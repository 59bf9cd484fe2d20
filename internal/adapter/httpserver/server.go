// Package httpserver exposes the inbound event webhook, the read API for the
// transport bridge, health probes and metrics.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dixxi1208/GryazBot/internal/adapter/metrics"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/dixxi1208/GryazBot/internal/platform/config"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type eventRouter interface {
	Handle(ctx context.Context, ev domain.ChatEvent) (*domain.Reply, error)
}

type pollService interface {
	Poll(ctx context.Context, pollID int64) (*domain.PollHandle, error)
	Standings(ctx context.Context, chatID int64) ([]domain.Standing, error)
	AttachMessage(ctx context.Context, pollID int64, ref string) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	router eventRouter
	polls  pollService

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	sweeper      sweepReporter
	startTime    time.Time
}

// NewServer wires routes. registry, httpMetrics and sweeper may be nil.
func NewServer(cfg *config.Config, router eventRouter, polls pollService, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck, sweeper sweepReporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		router:       router,
		polls:        polls,
		registry:     registry,
		httpMetrics:  httpMetrics,
		healthChecks: healthChecks,
		sweeper:      sweeper,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
