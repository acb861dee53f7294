package reconcile

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

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
	"github.com/revflow-os/revcore/pkg/storage/memory"
)

func testOptions() Options {
	return Options{
		Passes:  2,
		PassGap: 5 * time.Millisecond,
		Timeout: 500 * time.Millisecond,
	}
}

func liveRecord(t *testing.T, srv *httptest.Server, serviceID string) *model.ServiceRecord {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return &model.ServiceRecord{
		ServiceID:      serviceID,
		Name:           serviceID,
		Host:           u.Hostname(),
		Port:           port,
		HealthEndpoint: "/health",
	}
}

func closedPortRecord(t *testing.T, serviceID string) *model.ServiceRecord {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return &model.ServiceRecord{
		ServiceID: serviceID,
		Name:      serviceID,
		Host:      "127.0.0.1",
		Port:      port,
	}
}

func upsert(t *testing.T, store storage.RecordStore, record *model.ServiceRecord) {
	t.Helper()
	_, _, err := store.Upsert(context.Background(), record)
	require.NoError(t, err)
}

func TestPlanPhantomsFlagsOnlyDeadPorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	store := memory.NewMemoryStore()
	upsert(t, store, liveRecord(t, srv, "leadgen-api"))
	upsert(t, store, closedPortRecord(t, "ghost"))

	r := New(store, config.NopLogger{}, testOptions())

	plan, err := r.PlanPhantoms(context.Background())
	require.NoError(t, err)

	assert.Equal(t, KindPhantom, plan.Kind)
	assert.Equal(t, 2, plan.Examined)
	require.Len(t, plan.Removals, 1)
	assert.Equal(t, "ghost", plan.Removals[0].ServiceID)
	assert.Contains(t, plan.Removals[0].Reason, "no listener")
}

func TestPlanPhantomsIgnoresNonActive(t *testing.T) {
	store := memory.NewMemoryStore()
	parked := closedPortRecord(t, "parked")
	parked.Status = model.StatusMaintenance
	upsert(t, store, parked)

	r := New(store, config.NopLogger{}, testOptions())

	plan, err := r.PlanPhantoms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.Removals)
}

func TestPlanIsDryRun(t *testing.T) {
	store := memory.NewMemoryStore()
	upsert(t, store, closedPortRecord(t, "ghost"))

	r := New(store, config.NopLogger{}, testOptions())

	plan, err := r.PlanPhantoms(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Removals, 1)

	// Planning never mutates; the record is still there.
	records, err := store.List(context.Background(), storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestApplyRemovesAndReports(t *testing.T) {
	store := memory.NewMemoryStore()
	upsert(t, store, closedPortRecord(t, "ghost"))

	r := New(store, config.NopLogger{}, testOptions())

	plan, err := r.PlanPhantoms(context.Background())
	require.NoError(t, err)

	result, err := r.Apply(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, "ghost", result.Removed[0].ServiceID)
	assert.Empty(t, result.Missing)

	records, err := store.List(context.Background(), storage.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)

	// Re-applying the same plan reports the records as already gone instead
	// of failing.
	result, err = r.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, result.Removed)
	assert.Equal(t, []string{"ghost"}, result.Missing)
}

func TestPlanDuplicatePortsKeepsNewest(t *testing.T) {
	store := memory.NewMemoryStore()

	t1 := time.Now().Add(-3 * time.Hour)
	t2 := time.Now().Add(-2 * time.Hour)
	t3 := time.Now().Add(-1 * time.Hour)

	for id, registered := range map[string]time.Time{
		"old-a":  t1,
		"old-b":  t2,
		"newest": t3,
	} {
		upsert(t, store, &model.ServiceRecord{
			ServiceID:    id,
			Name:         id,
			Host:         "localhost",
			Port:         8080,
			RegisteredAt: registered,
		})
	}

	r := New(store, config.NopLogger{}, testOptions())

	plan, err := r.PlanDuplicatePorts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, KindDuplicatePort, plan.Kind)
	removed := make([]string, 0, len(plan.Removals))
	for _, removal := range plan.Removals {
		removed = append(removed, removal.ServiceID)
		assert.Contains(t, removal.Reason, "newest")
	}
	assert.ElementsMatch(t, []string{"old-a", "old-b"}, removed)
}

func TestPlanDuplicatePortsDifferentHostsAreFine(t *testing.T) {
	store := memory.NewMemoryStore()

	upsert(t, store, &model.ServiceRecord{
		ServiceID: "svc-a", Name: "svc-a", Host: "10.0.0.1", Port: 8080,
	})
	upsert(t, store, &model.ServiceRecord{
		ServiceID: "svc-b", Name: "svc-b", Host: "10.0.0.2", Port: 8080,
	})

	r := New(store, config.NopLogger{}, testOptions())

	plan, err := r.PlanDuplicatePorts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.Removals, "same port on different hosts is not a conflict")
}
