// Package server exposes the signing cache over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/aweris/signproxy"
	"github.com/aweris/signproxy/internal/compression"
)

const (
	HeaderOutcome     = "X-Sign-Outcome"
	HeaderContentHash = "X-Content-Hash"
)

// Service is the part of signproxy.Service the handlers need.
type Service interface {
	Exists(hash string) bool
	Sign(ctx context.Context, req signproxy.SignRequest) (*signproxy.Result, error)
	Open(h signproxy.Hash) (io.ReadCloser, int64, error)
	Stats() (signproxy.Stats, error)
}

type Server struct {
	Echo       *echo.Echo
	Service    Service
	Compressor *compression.Compressor
	Log        zerolog.Logger
}

func New(svc Service, compressor *compression.Compressor, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{Echo: e, Service: svc, Compressor: compressor, Log: log}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.Log.Debug()
			if v.Error != nil || v.Status >= http.StatusBadRequest {
				ev = s.Log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))

	e.GET("/", getIndexHandler())
	e.GET("/stats", getStatsHandler(s))
	e.POST("/exists", postExistsHandler(s))
	e.POST("/sign", postSignHandler(s))

	return s
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.Log.Info().Str("addr", addr).Msg("serving")
	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func badRequest(c echo.Context, msg string) error {
	return c.String(http.StatusBadRequest, msg)
}
