package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/healthsup/internal/health"
	"github.com/loykin/healthsup/internal/server"
	"github.com/loykin/healthsup/internal/supervisor"
)

type backend struct {
	down atomic.Bool
}

func (b *backend) Statuses() []supervisor.Status {
	st, _ := b.Status("cleaning")
	return []supervisor.Status{st}
}

func (b *backend) Status(name string) (supervisor.Status, bool) {
	if name != "cleaning" {
		return supervisor.Status{}, false
	}
	probe := health.Result{Status: health.Unhealthy, Reason: "HTTP 503", StatusCode: 503, Latency: time.Millisecond}
	return supervisor.Status{
		Service:             "cleaning",
		State:               supervisor.StateDegraded,
		PID:                 77,
		ConsecutiveFailures: 2,
		LastProbe:           &probe,
	}, true
}

func (b *backend) Shutdown() { b.down.Store(true) }

func newTestClient(t *testing.T) (*Client, *backend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b := &backend{}
	ts := httptest.NewServer(server.NewRouter(b, "/api", false).Handler())
	t.Cleanup(ts.Close)
	c := New(Config{BaseURL: ts.URL + "/api/", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return c, b
}

func TestClientStatuses(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	all, err := c.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "degraded", all[0].State)
	assert.Equal(t, 2, all[0].ConsecutiveFailures)
	require.NotNil(t, all[0].LastProbe)
	assert.Equal(t, "unhealthy", all[0].LastProbe.Status)
	assert.Equal(t, 503, all[0].LastProbe.StatusCode)

	one, err := c.Status(ctx, "cleaning")
	require.NoError(t, err)
	assert.Equal(t, 77, one.PID)
}

func TestClientStatusNotFound(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Status(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not supervised")
}

func TestClientShutdown(t *testing.T) {
	c, b := newTestClient(t)
	require.NoError(t, c.Shutdown(context.Background()))
	assert.True(t, b.down.Load())
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Statuses(context.Background())
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://127.0.0.1:9180/api", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}
