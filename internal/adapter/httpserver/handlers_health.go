package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dixxi1208/GryazBot/internal/app"
	"github.com/dixxi1208/GryazBot/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe, run by startup and readiness.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type sweepReporter interface {
	Status() app.SweepStatus
}

type checkResult struct {
	Name   string  `json:"name"`
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	TookMS float64 `json:"took_ms"`
}

type sweeperReport struct {
	Enabled         bool       `json:"enabled"`
	IntervalSeconds float64    `json:"interval_seconds,omitempty"`
	Leader          bool       `json:"leader"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	LastResult      string     `json:"last_result,omitempty"`
	LastExpired     int        `json:"last_expired"`
}

type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds float64        `json:"uptime_seconds,omitempty"`
	Checks        []checkResult  `json:"checks,omitempty"`
	Sweeper       *sweeperReport `json:"sweeper,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.respondChecks(c, s.runHealthChecks(ctx))
}

// handleLiveness reports process state only. It runs no dependency checks.
func (s *Server) handleLiveness(c echo.Context) error {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Sweeper:       s.sweeperReport(),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.respondChecks(c, s.runHealthChecks(ctx))
}

// runHealthChecks runs every check, so one response names all failing dependencies.
func (s *Server) runHealthChecks(ctx context.Context) []checkResult {
	results := make([]checkResult, 0, len(s.healthChecks))
	for _, hc := range s.healthChecks {
		start := time.Now()
		err := hc.Check(ctx)
		res := checkResult{
			Name:   hc.Name,
			OK:     err == nil,
			TookMS: float64(time.Since(start).Microseconds()) / 1000,
		}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

func (s *Server) respondChecks(c echo.Context, results []checkResult) error {
	status, code := "ready", http.StatusOK
	for _, r := range results {
		if !r.OK {
			status, code = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}

	resp := healthResponse{Status: status, Checks: results, Sweeper: s.sweeperReport()}
	if err := c.JSON(code, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) sweeperReport() *sweeperReport {
	if s.sweeper == nil {
		return nil
	}
	st := s.sweeper.Status()
	report := &sweeperReport{
		Enabled:     st.Enabled,
		Leader:      st.Leader,
		LastResult:  st.LastResult,
		LastExpired: st.LastExpired,
	}
	if st.Enabled {
		report.IntervalSeconds = st.Interval.Seconds()
	}
	if !st.LastRun.IsZero() {
		lastRun := st.LastRun.UTC()
		report.LastRun = &lastRun
	}
	return report
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
