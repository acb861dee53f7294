package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/api/handler"
	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/internal/prober"
	"github.com/revflow-os/revcore/pkg/storage"
)

// Server is the registrar's HTTP surface.
type Server struct {
	e      *echo.Echo
	host   string
	port   int
	logger config.Logger
}

// NewServer wires the echo instance, middleware and routes.
func NewServer(store storage.RecordStore, p *prober.Prober, cfg *config.Config, logger config.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	serviceHandler := handler.NewServiceHandler(store, logger, cfg.Prober.StalenessWindow)
	healthHandler := handler.NewHealthHandler(store, p)

	apiGroup := e.Group("/api/v1")
	serviceHandler.RegisterRoutes(apiGroup)
	apiGroup.GET("/report", healthHandler.CycleReport)

	e.GET("/health", healthHandler.HealthCheck)

	return &Server{
		e:      e,
		host:   cfg.API.ListenAddress,
		port:   cfg.API.Port,
		logger: logger,
	}
}

// Start runs the server without blocking.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("registrar API listening", zap.String("addr", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("registrar API failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
