package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/revflow-os/revcore/internal/prober"
	"github.com/revflow-os/revcore/pkg/storage"
)

// HealthResponse is the registrar's own liveness report. Store outage makes
// the process degraded, never dead.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler serves the registrar's liveness endpoint and the on-demand
// probe-cycle report.
type HealthHandler struct {
	store  storage.RecordStore
	prober *prober.Prober
}

// NewHealthHandler creates the handler. prober may be nil when the process
// runs without an embedded prober; the report endpoint then returns 404.
func NewHealthHandler(store storage.RecordStore, p *prober.Prober) *HealthHandler {
	return &HealthHandler{store: store, prober: p}
}

// HealthCheck reports process health and store reachability.
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    map[string]string{"database": "healthy"},
	}

	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Checks["database"] = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	return c.JSON(http.StatusOK, resp)
}

// CycleReport returns the latest probe-cycle report.
func (h *HealthHandler) CycleReport(c echo.Context) error {
	if h.prober == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    http.StatusNotFound,
			Message: "no prober running in this process",
		})
	}

	report := h.prober.LastReport()
	if report == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    http.StatusNotFound,
			Message: "no probe cycle has completed yet",
		})
	}

	return c.JSON(http.StatusOK, report)
}
