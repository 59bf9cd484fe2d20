package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dixxi1208/GryazBot/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

type staticSweeper app.SweepStatus

func (s staticSweeper) Status() app.SweepStatus { return app.SweepStatus(s) }

func decodeHealth(t *testing.T, body []byte) healthResponse {
	t.Helper()
	var resp healthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestHandleStartup(t *testing.T) {
	ts := newTestServer(t,
		HealthCheck{Name: "database", Check: healthOK},
		HealthCheck{Name: "redis", Check: healthOK},
	)

	rec := ts.do(t, http.MethodGet, "/health/startup", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, "ready", resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, "database", resp.Checks[0].Name)
	assert.True(t, resp.Checks[0].OK)
	assert.Nil(t, resp.Sweeper)
}

func TestHandleReadiness_ReportsEveryFailedCheck(t *testing.T) {
	ts := newTestServer(t,
		HealthCheck{Name: "database", Check: healthErr("too many connections")},
		HealthCheck{Name: "redis", Check: healthErr("connection refused")},
	)

	rec := ts.do(t, http.MethodGet, "/health/ready", "", false)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, "unhealthy", resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, "too many connections", resp.Checks[0].Error)
	assert.Equal(t, "connection refused", resp.Checks[1].Error)
}

func TestHandleReadiness_RedisDown(t *testing.T) {
	ts := newTestServer(t,
		HealthCheck{Name: "database", Check: healthOK},
		HealthCheck{Name: "redis", Check: healthErr("connection refused")},
	)

	rec := ts.do(t, http.MethodGet, "/health/ready", "", false)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeHealth(t, rec.Body.Bytes())
	assert.True(t, resp.Checks[0].OK)
	assert.False(t, resp.Checks[1].OK)
}

func TestHandleLiveness(t *testing.T) {
	ts := newTestServer(t, HealthCheck{Name: "database", Check: healthErr("down")})

	rec := ts.do(t, http.MethodGet, "/health/live", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime_seconds"`)
	assert.NotContains(t, rec.Body.String(), "down")
}

func TestHandleLiveness_SweeperStatus(t *testing.T) {
	lastRun := time.Date(2026, 5, 1, 10, 5, 0, 0, time.UTC)
	srv := NewServer(testConfig(), nil, nil, nil, nil, nil, staticSweeper{
		Enabled:     true,
		Interval:    5 * time.Minute,
		Leader:      true,
		LastRun:     lastRun,
		LastResult:  "ok",
		LastExpired: 3,
	})
	ts := &testServer{srv: srv}

	rec := ts.do(t, http.MethodGet, "/health/live", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeHealth(t, rec.Body.Bytes())
	require.NotNil(t, resp.Sweeper)
	assert.True(t, resp.Sweeper.Enabled)
	assert.True(t, resp.Sweeper.Leader)
	assert.InDelta(t, 300, resp.Sweeper.IntervalSeconds, 0)
	assert.Equal(t, 3, resp.Sweeper.LastExpired)
	require.NotNil(t, resp.Sweeper.LastRun)
	assert.True(t, resp.Sweeper.LastRun.Equal(lastRun))
}

func TestHandleLiveness_SweeperNeverRan(t *testing.T) {
	srv := NewServer(testConfig(), nil, nil, nil, nil, nil, staticSweeper{})
	ts := &testServer{srv: srv}

	rec := ts.do(t, http.MethodGet, "/health/live", "", false)

	resp := decodeHealth(t, rec.Body.Bytes())
	require.NotNil(t, resp.Sweeper)
	assert.False(t, resp.Sweeper.Enabled)
	assert.Nil(t, resp.Sweeper.LastRun)
	assert.NotContains(t, rec.Body.String(), "interval_seconds")
}

func TestHandleVersion(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/version", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}
