package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

// RegisterRequest is the registration payload. It deliberately has no health
// field: observed health is derived by the prober and cannot be set by the
// registering service.
type RegisterRequest struct {
	ServiceID      string            `json:"service_id"`
	Name           string            `json:"name"`
	DisplayName    string            `json:"display_name"`
	Description    string            `json:"description"`
	Version        string            `json:"version"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	BasePath       string            `json:"base_path"`
	HealthEndpoint string            `json:"health_endpoint"`
	Status         string            `json:"status"`
	EndpointsCount int               `json:"endpoints_count"`
	Dependencies   []string          `json:"dependencies"`
	Config         map[string]string `json:"config"`
}

// RegisterResponse wraps a stored record together with whether the call was a
// fresh registration or an update.
type RegisterResponse struct {
	Message string               `json:"message"`
	Created bool                 `json:"created"`
	Service *model.ServiceRecord `json:"service"`
}

// ListResponse is the collection envelope for GET /services.
type ListResponse struct {
	Total    int                    `json:"total"`
	Services []*model.ServiceRecord `json:"services"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServiceHandler serves the registrar CRUD surface.
type ServiceHandler struct {
	store           storage.RecordStore
	logger          config.Logger
	stalenessWindow time.Duration
}

// NewServiceHandler creates the handler. stalenessWindow controls when cached
// health values are surfaced as unknown on read.
func NewServiceHandler(store storage.RecordStore, logger config.Logger, stalenessWindow time.Duration) *ServiceHandler {
	return &ServiceHandler{
		store:           store,
		logger:          logger,
		stalenessWindow: stalenessWindow,
	}
}

// RegisterRoutes mounts the service routes on the API group.
func (h *ServiceHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/services", h.Register)
	g.GET("/services", h.List)
	g.GET("/services/:service_id", h.Get)
	g.DELETE("/services/:service_id", h.Deregister)
}

// Register handles self-registration. Re-registration with a known
// service_id is an update, never a conflict.
func (h *ServiceHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "invalid request payload: " + err.Error(),
		})
	}

	if req.ServiceID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "service_id is required",
		})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "name is required",
		})
	}
	if req.Port <= 0 || req.Port > 65535 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "port must be between 1 and 65535",
		})
	}

	status := model.Status(req.Status)
	if req.Status != "" && !status.Valid() {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "invalid status: " + req.Status,
		})
	}

	record := &model.ServiceRecord{
		ServiceID:      req.ServiceID,
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		Version:        req.Version,
		Host:           req.Host,
		Port:           req.Port,
		BasePath:       req.BasePath,
		HealthEndpoint: req.HealthEndpoint,
		Status:         status,
		EndpointsCount: req.EndpointsCount,
		Dependencies:   req.Dependencies,
		Config:         req.Config,
	}

	stored, created, err := h.store.Upsert(c.Request().Context(), record)
	if err != nil {
		return h.storeError(c, "registering service", err)
	}

	message := "service updated"
	if created {
		message = "service registered"
	}

	h.logger.Info(message,
		zap.String("service_id", stored.ServiceID),
		zap.String("name", stored.Name),
		zap.Int("port", stored.Port),
	)

	return c.JSON(http.StatusOK, RegisterResponse{
		Message: message,
		Created: created,
		Service: stored,
	})
}

// List returns every record plus a total count, optionally filtered by
// ?status=.
func (h *ServiceHandler) List(c echo.Context) error {
	filter := storage.ListFilter{}
	if status := c.QueryParam("status"); status != "" {
		filter.Status = model.Status(status)
		if !filter.Status.Valid() {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    http.StatusBadRequest,
				Message: "invalid status filter: " + status,
			})
		}
	}

	records, err := h.store.List(c.Request().Context(), filter)
	if err != nil {
		return h.storeError(c, "listing services", err)
	}

	now := time.Now()
	for _, record := range records {
		record.Health = record.EffectiveHealth(now, h.stalenessWindow)
	}

	return c.JSON(http.StatusOK, ListResponse{
		Total:    len(records),
		Services: records,
	})
}

// Get returns one record or 404.
func (h *ServiceHandler) Get(c echo.Context) error {
	serviceID := c.Param("service_id")

	record, err := h.store.Get(c.Request().Context(), serviceID)
	if err != nil {
		return h.storeError(c, "fetching service", err)
	}

	record.Health = record.EffectiveHealth(time.Now(), h.stalenessWindow)

	return c.JSON(http.StatusOK, record)
}

// Deregister removes one record or reports 404 for an unknown id.
func (h *ServiceHandler) Deregister(c echo.Context) error {
	serviceID := c.Param("service_id")

	if err := h.store.Delete(c.Request().Context(), serviceID); err != nil {
		return h.storeError(c, "deregistering service", err)
	}

	h.logger.Info("service deregistered", zap.String("service_id", serviceID))

	return c.JSON(http.StatusOK, map[string]string{
		"message":    "service deregistered",
		"service_id": serviceID,
	})
}

// storeError maps the storage error taxonomy onto HTTP statuses.
func (h *ServiceHandler) storeError(c echo.Context, op string, err error) error {
	status := http.StatusInternalServerError
	switch storage.ErrorCode(err) {
	case storage.ErrNotFound:
		status = http.StatusNotFound
	case storage.ErrInvalidArgument:
		status = http.StatusBadRequest
	case storage.ErrConflict:
		status = http.StatusConflict
	case storage.ErrUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}

	return c.JSON(status, ErrorResponse{Code: status, Message: err.Error()})
}
