package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

func TestUpsertIsIdempotentOnServiceID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, created, err := s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "leadgen-api",
		Name:      "leadgen-api",
		Port:      8105,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 8105, first.Port)

	// Re-registration with a different port updates in place.
	second, created, err := s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "leadgen-api",
		Name:      "leadgen-api",
		Port:      8205,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 8205, second.Port)
	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)

	records, err := s.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 8205, records[0].Port)
}

func TestUpsertValidatesRequiredFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cases := []*model.ServiceRecord{
		{Name: "no-id", Port: 8080},
		{ServiceID: "no-name", Port: 8080},
		{ServiceID: "no-port", Name: "no-port"},
		{ServiceID: "bad-port", Name: "bad-port", Port: 70000},
	}

	for _, record := range cases {
		_, _, err := s.Upsert(ctx, record)
		require.Error(t, err)
		assert.Equal(t, storage.ErrInvalidArgument, storage.ErrorCode(err))
	}
}

func TestUpsertNeverTouchesHealth(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "content-engine",
		Name:      "content-engine",
		Port:      8106,
	})
	require.NoError(t, err)

	checkedAt := time.Now()
	require.NoError(t, s.SetHealth(ctx, "content-engine", model.HealthHealthy, checkedAt))

	// A re-registration carrying a health value must not override the
	// prober's observation.
	_, _, err = s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "content-engine",
		Name:      "content-engine",
		Port:      8106,
		Health:    model.HealthUnhealthy,
	})
	require.NoError(t, err)

	record, err := s.Get(ctx, "content-engine")
	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, record.Health)
	assert.True(t, record.LastHealthCheck.Equal(checkedAt))
}

func TestGetNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestDeleteReportsAbsentDistinctly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "wp-deployer",
		Name:      "wp-deployer",
		Port:      8107,
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "wp-deployer"))

	err = s.Delete(ctx, "wp-deployer")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestListFiltersByStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "svc-a", Name: "svc-a", Port: 8001,
	})
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "svc-b", Name: "svc-b", Port: 8002, Status: model.StatusMaintenance,
	})
	require.NoError(t, err)

	active, err := s.List(ctx, storage.ListFilter{Status: model.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "svc-a", active[0].ServiceID)

	all, err := s.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, &model.ServiceRecord{
		ServiceID: "svc-a", Name: "svc-a", Port: 8001,
	})
	require.NoError(t, err)

	records, err := s.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	records[0].Name = "mutated"

	record, err := s.Get(ctx, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, "svc-a", record.Name)
}

func TestSetHealthUnknownService(t *testing.T) {
	s := NewMemoryStore()

	err := s.SetHealth(context.Background(), "ghost", model.HealthHealthy, time.Now())
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestConcurrentUpsertsDistinctIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Upsert(ctx, &model.ServiceRecord{
				ServiceID: fmt.Sprintf("svc-%d", i),
				Name:      fmt.Sprintf("svc-%d", i),
				Port:      9000 + i,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := s.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, n)
}
