package model

import (
	"fmt"
	"time"
)

// Status is the declared lifecycle state of a service, set by the owning
// service or an operator. It expresses intent, not observation.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDegraded, StatusMaintenance:
		return true
	}
	return false
}

// Health is the last-observed state of a service. Only the health prober
// transitions it; the registrar API never writes it.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Registration defaults applied when the caller omits the field.
const (
	DefaultHost           = "localhost"
	DefaultBasePath       = "/api/v1"
	DefaultHealthEndpoint = "/health"
)

// ServiceRecord is the registry's unit of truth about one microservice.
type ServiceRecord struct {
	ServiceID       string            `json:"service_id"`
	Name            string            `json:"name"`
	DisplayName     string            `json:"display_name,omitempty"`
	Description     string            `json:"description,omitempty"`
	Version         string            `json:"version,omitempty"`
	Host            string            `json:"host"`
	Port            int               `json:"port"`
	BasePath        string            `json:"base_path"`
	HealthEndpoint  string            `json:"health_endpoint"`
	Status          Status            `json:"status"`
	Health          Health            `json:"health"`
	LastHealthCheck time.Time         `json:"last_health_check,omitempty"`
	EndpointsCount  int               `json:"endpoints_count,omitempty"`
	Dependencies    []string          `json:"dependencies,omitempty"`
	Config          map[string]string `json:"config,omitempty"`
	RegisteredAt    time.Time         `json:"registered_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Address returns the host:port pair of the record.
func (r *ServiceRecord) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ProbeURL builds the URL the health prober polls for this record.
func (r *ServiceRecord) ProbeURL() string {
	return fmt.Sprintf("http://%s:%d%s", r.Host, r.Port, r.HealthEndpoint)
}

// ApplyDefaults fills the optional registration fields with their documented
// defaults. It never touches Health or LastHealthCheck; those belong to the
// prober.
func (r *ServiceRecord) ApplyDefaults() {
	if r.Host == "" {
		r.Host = DefaultHost
	}
	if r.BasePath == "" {
		r.BasePath = DefaultBasePath
	}
	if r.HealthEndpoint == "" {
		r.HealthEndpoint = DefaultHealthEndpoint
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Health == "" {
		r.Health = HealthUnknown
	}
}

// EffectiveHealth derives the health value read paths should surface. An
// active record without a successful probe inside the staleness window must
// be reported as unknown rather than trusting a stale cached value.
func (r *ServiceRecord) EffectiveHealth(now time.Time, staleAfter time.Duration) Health {
	if r.Status != StatusActive || staleAfter <= 0 {
		return r.Health
	}
	if r.LastHealthCheck.IsZero() || now.Sub(r.LastHealthCheck) > staleAfter {
		return HealthUnknown
	}
	return r.Health
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the slice and map fields.
func (r *ServiceRecord) Clone() *ServiceRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Dependencies != nil {
		cp.Dependencies = append([]string(nil), r.Dependencies...)
	}
	if r.Config != nil {
		cp.Config = make(map[string]string, len(r.Config))
		for k, v := range r.Config {
			cp.Config[k] = v
		}
	}
	return &cp
}
