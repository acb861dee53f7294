package prober

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revflow-os/revcore/pkg/model"
)

// recordFor builds a service record pointing at a test server.
func recordFor(t *testing.T, serverURL, serviceID string) *model.ServiceRecord {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return &model.ServiceRecord{
		ServiceID:      serviceID,
		Name:           serviceID,
		Host:           u.Hostname(),
		Port:           port,
		HealthEndpoint: "/health",
		Status:         model.StatusActive,
	}
}

// deadRecord builds a record whose port was listening a moment ago and is
// now guaranteed closed.
func deadRecord(t *testing.T, serviceID string) *model.ServiceRecord {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return &model.ServiceRecord{
		ServiceID:      serviceID,
		Name:           serviceID,
		Host:           "127.0.0.1",
		Port:           port,
		HealthEndpoint: "/health",
		Status:         model.StatusActive,
	}
}

func TestProbeHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	c := NewChecker(2 * time.Second)
	result := c.Probe(context.Background(), recordFor(t, srv.URL, "leadgen-api"))

	assert.True(t, result.Healthy)
	assert.Equal(t, ReasonOK, result.Reason)
	assert.Equal(t, 200, result.HTTPStatus)
	assert.True(t, result.PortActive)
	assert.Equal(t, model.HealthHealthy, result.Health())
}

func TestProbeNon200IsUnhealthyWithCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database connection lost", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker(2 * time.Second)
	result := c.Probe(context.Background(), recordFor(t, srv.URL, "content-engine"))

	assert.False(t, result.Healthy)
	assert.Equal(t, ReasonError, result.Reason)
	assert.Equal(t, 500, result.HTTPStatus)
	assert.Contains(t, result.Detail, "database connection lost")
	// The process is up even though the app is broken.
	assert.True(t, result.PortActive)
}

func TestProbeConnectionRefusedIsOffline(t *testing.T) {
	c := NewChecker(2 * time.Second)
	result := c.Probe(context.Background(), deadRecord(t, "wp-deployer"))

	assert.False(t, result.Healthy)
	assert.Equal(t, ReasonOffline, result.Reason)
	assert.Equal(t, 0, result.HTTPStatus)
	assert.False(t, result.PortActive)
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := NewChecker(150 * time.Millisecond)
	result := c.Probe(context.Background(), recordFor(t, srv.URL, "citation-tracker"))

	assert.False(t, result.Healthy)
	assert.Equal(t, ReasonTimeout, result.Reason)
	assert.True(t, result.PortActive)
}

func TestProbeTruncatesLongBodies(t *testing.T) {
	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'x'
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write(long)
	}))
	defer srv.Close()

	c := NewChecker(2 * time.Second)
	result := c.Probe(context.Background(), recordFor(t, srv.URL, "chatty"))

	assert.Equal(t, ReasonError, result.Reason)
	assert.LessOrEqual(t, len(result.Detail), maxDetailBytes)
}

func TestPortActive(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	c := NewChecker(time.Second)
	assert.True(t, c.PortActive(context.Background(), "127.0.0.1", port))

	dead := deadRecord(t, "dead")
	assert.False(t, c.PortActive(context.Background(), dead.Host, dead.Port))
}
