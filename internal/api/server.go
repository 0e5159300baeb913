// Package api serves the dashboard: REST read models, the kill switch, the
// journal, backtests, a websocket event stream and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var apiLog = logging.New("api")

// HTTPRecorder counts requests by route template.
type HTTPRecorder interface {
	RecordHTTP(route, method, status string)
}

type ServerOption func(*ServerConfig)

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	CORS            bool
	Gatherer        prometheus.Gatherer
	Recorder        HTTPRecorder
}

func WithAddr(addr string) ServerOption {
	return func(c *ServerConfig) {
		c.Addr = addr
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(c *ServerConfig) {
		c.CORS = enabled
	}
}

// WithMetrics exposes g on /metrics and counts requests into rec.
func WithMetrics(g prometheus.Gatherer, rec HTTPRecorder) ServerOption {
	return func(c *ServerConfig) {
		c.Gatherer = g
		c.Recorder = rec
	}
}

type Server struct {
	echo    *echo.Echo
	config  *ServerConfig
	handler *Handler
}

func NewServer(handler *Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		CORS:            true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogging())
	if cfg.Recorder != nil {
		e.Use(requestMetrics(cfg.Recorder))
	}
	if cfg.CORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{echo: e, config: cfg, handler: handler}
}

// Start listens in the background.
func (s *Server) Start() error {
	go func() {
		slog.Info("HTTP server listening", "addr", s.config.Addr)
		if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.handler != nil && s.handler.deps.Hub != nil {
		s.handler.deps.Hub.Close()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestMetrics(rec HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			rec.RecordHTTP(routeLabel(c), c.Request().Method, strconv.Itoa(responseStatus(c, err)))
			return err
		}
	}
}

func requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := responseStatus(c, err)
			attrs := []any{
				"route", routeLabel(c),
				"method", c.Request().Method,
				"status", status,
				"duration", time.Since(start),
			}
			if status >= http.StatusInternalServerError {
				slog.Error("HTTP request failed", attrs...)
			} else {
				apiLog.Debug("HTTP request", attrs...)
			}
			return err
		}
	}
}

// routeLabel keeps label cardinality low by preferring the route template.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	return http.StatusInternalServerError
}
