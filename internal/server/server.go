// Package server assembles the echo instance that serves the webhook and
// health endpoints.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/qqrelay/internal/auth"
)

const defaultAddr = ":5000"

// Handler registers its routes on the echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

type Options struct {
	Addr string
	// AccessToken, when set, is required as a bearer token on every path
	// except the health checks.
	AccessToken string
}

var authSkipPaths = map[string]struct{}{
	"/ping":   {},
	"/health": {},
}

type Server struct {
	echo *echo.Echo
	addr string
}

func New(log *slog.Logger, opts Options, handlers []Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = defaultAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(auth.TokenMiddleware(opts.AccessToken, func(c echo.Context) bool {
		return shouldSkipAuth(c.Request().URL.Path)
	}))
	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr}
}

func (s *Server) Start() error                   { return s.echo.Start(s.addr) }
func (s *Server) Stop(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func shouldSkipAuth(path string) bool {
	_, ok := authSkipPaths[path]
	return ok
}
