package prober

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/revflow-os/revcore/pkg/model"
)

// Probe outcome reasons. Offline (nothing accepted the connection) is kept
// distinct from error (the service answered, but badly) so operators can tell
// a dead process from a broken one.
const (
	ReasonOK      = "ok"
	ReasonOffline = "offline"
	ReasonTimeout = "timeout"
	ReasonError   = "error"
)

// maxDetailBytes caps how much of a response body or error message is kept
// for diagnostics.
const maxDetailBytes = 256

// ProbeResult is the outcome of probing a single service record.
type ProbeResult struct {
	ServiceID    string        `json:"service_id"`
	Healthy      bool          `json:"healthy"`
	Reason       string        `json:"reason"`
	HTTPStatus   int           `json:"http_status,omitempty"`
	PortActive   bool          `json:"port_active"`
	Detail       string        `json:"detail,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Health maps the probe outcome onto the record's observed-health enum.
func (r ProbeResult) Health() model.Health {
	if r.Healthy {
		return model.HealthHealthy
	}
	return model.HealthUnhealthy
}

// Checker performs the two independent checks for one record: an HTTP GET of
// the declared health endpoint, and a raw TCP dial of the declared port.
type Checker struct {
	http    *resty.Client
	timeout time.Duration
}

// NewChecker creates a checker with the given per-probe timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "revcore-prober").
		SetRedirectPolicy(resty.NoRedirectPolicy())

	return &Checker{http: client, timeout: timeout}
}

// Probe runs both checks against the record. It never returns an error; every
// failure mode is folded into the result so one bad service cannot abort a
// cycle.
func (c *Checker) Probe(ctx context.Context, record *model.ServiceRecord) ProbeResult {
	result := ProbeResult{
		ServiceID: record.ServiceID,
		CheckedAt: time.Now(),
	}

	result.PortActive = c.PortActive(ctx, record.Host, record.Port)

	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).Get(record.ProbeURL())
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Healthy = false
		result.Reason, result.Detail = classifyTransportError(err)
		return result
	}

	result.HTTPStatus = resp.StatusCode()
	if resp.StatusCode() == 200 {
		result.Healthy = true
		result.Reason = ReasonOK
		return result
	}

	result.Healthy = false
	result.Reason = ReasonError
	result.Detail = truncate(string(resp.Body()), maxDetailBytes)
	return result
}

// PortActive dials host:port over TCP and reports whether anything is
// listening. This is the phantom-detection signal, orthogonal to HTTP health.
func (c *Checker) PortActive(ctx context.Context, host string, port int) bool {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// classifyTransportError maps a failed HTTP round trip to a reason code.
func classifyTransportError(err error) (reason, detail string) {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonOffline, truncate(err.Error(), maxDetailBytes)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ReasonTimeout, truncate(err.Error(), maxDetailBytes)
	}

	return ReasonError, truncate(err.Error(), maxDetailBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
