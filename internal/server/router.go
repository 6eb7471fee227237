package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/healthsup/internal/metrics"
	"github.com/loykin/healthsup/internal/supervisor"
)

// Backend is what the control API reads from and acts on.
type Backend interface {
	Statuses() []supervisor.Status
	Status(name string) (supervisor.Status, bool)
	Shutdown()
}

// Router provides embeddable HTTP handlers for the running daemon.
// Endpoints:
//
//	GET  {basePath}/status        all supervised services
//	GET  {basePath}/status/:name  one service; 404 if unknown
//	POST {basePath}/shutdown      stop every supervisor and exit
//	GET  /metrics                 Prometheus exposition (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	backend  Backend
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/shutdown.
func NewRouter(b Backend, basePath string, withMetrics bool) *Router {
	return &Router{backend: b, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:name", r.handleStatus)
	group.POST("/shutdown", r.handleShutdown)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; later serve errors are logged.
func NewServer(addr string, r *Router, log *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control server listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatusAll(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.backend.Statuses())
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	st, ok := r.backend.Status(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: fmt.Sprintf("service %q not supervised", name)})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleShutdown(c *gin.Context) {
	r.backend.Shutdown()
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}
