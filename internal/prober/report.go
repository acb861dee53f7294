package prober

import (
	"time"

	"github.com/google/uuid"

	"github.com/revflow-os/revcore/pkg/model"
)

// ServiceProbe is one service's row in a cycle report.
type ServiceProbe struct {
	ServiceID  string       `json:"service_id"`
	Name       string       `json:"name"`
	Status     model.Status `json:"status"`
	PortActive bool         `json:"port_active"`
	HealthOK   bool         `json:"health_ok"`
	HTTPStatus int          `json:"http_status,omitempty"`
	Reason     string       `json:"reason"`
	Health     model.Health `json:"health"`
	Detail     string       `json:"detail,omitempty"`
	Misses     int          `json:"consecutive_port_misses,omitempty"`
}

// CycleReport summarizes one full pass over the active records. The two
// anomaly buckets are disjoint by construction: a phantom candidate has no
// listener at all, an up-but-broken service has a listener and a failing
// health check.
type CycleReport struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`

	Services []ServiceProbe `json:"services"`

	// UpButBroken lists services whose port accepts connections but whose
	// health check fails: the process is up, the app is not.
	UpButBroken []string `json:"up_but_broken"`
	// PhantomCandidates lists active services whose port has had no listener
	// for at least the configured number of consecutive cycles.
	PhantomCandidates []string `json:"phantom_candidates"`
}

func newCycleReport(started time.Time, total int) *CycleReport {
	return &CycleReport{
		CycleID:           uuid.New().String(),
		StartedAt:         started,
		Total:             total,
		Services:          make([]ServiceProbe, 0, total),
		UpButBroken:       []string{},
		PhantomCandidates: []string{},
	}
}

func (r *CycleReport) observe(entry ServiceProbe, phantomCycles int) {
	if entry.HealthOK {
		r.Healthy++
	} else {
		r.Unhealthy++
	}

	switch {
	case entry.PortActive && !entry.HealthOK:
		r.UpButBroken = append(r.UpButBroken, entry.ServiceID)
	case !entry.PortActive && entry.Status == model.StatusActive && entry.Misses >= phantomCycles:
		r.PhantomCandidates = append(r.PhantomCandidates, entry.ServiceID)
	}
}
