package memory

import (
	"context"
	"sync"
	"time"

	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

// MemoryStore is a map-backed RecordStore. It is the test double for every
// component that takes a storage.RecordStore and doubles as a dev-mode
// backend when no etcd is available.
type MemoryStore struct {
	records map[string]*model.ServiceRecord
	mutex   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.ServiceRecord),
	}
}

// Upsert inserts or replaces the record keyed by ServiceID.
func (m *MemoryStore) Upsert(ctx context.Context, record *model.ServiceRecord) (*model.ServiceRecord, bool, error) {
	if record.ServiceID == "" || record.Name == "" || record.Port <= 0 || record.Port > 65535 {
		return nil, false, storage.NewInvalidArgumentError("service_id, name and a valid port are required")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	stored := record.Clone()
	stored.ApplyDefaults()
	stored.UpdatedAt = now

	prev, exists := m.records[record.ServiceID]
	if exists {
		// Re-registration: keep the original registration time and the
		// prober-owned observation fields.
		stored.RegisteredAt = prev.RegisteredAt
		stored.Health = prev.Health
		stored.LastHealthCheck = prev.LastHealthCheck
	} else {
		if stored.RegisteredAt.IsZero() {
			stored.RegisteredAt = now
		}
		stored.Health = model.HealthUnknown
		stored.LastHealthCheck = time.Time{}
	}

	m.records[stored.ServiceID] = stored

	return stored.Clone(), !exists, nil
}

// Get returns the record with the given id.
func (m *MemoryStore) Get(ctx context.Context, serviceID string) (*model.ServiceRecord, error) {
	if serviceID == "" {
		return nil, storage.NewInvalidArgumentError("service_id must not be empty")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, exists := m.records[serviceID]
	if !exists {
		return nil, storage.NewNotFoundError("service not found: " + serviceID)
	}

	return record.Clone(), nil
}

// List returns all records matching the filter. The whole read happens under
// one lock so the result is a consistent snapshot.
func (m *MemoryStore) List(ctx context.Context, filter storage.ListFilter) ([]*model.ServiceRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	records := make([]*model.ServiceRecord, 0, len(m.records))
	for _, record := range m.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		records = append(records, record.Clone())
	}

	return records, nil
}

// Delete removes the record; an absent id is reported as NotFound.
func (m *MemoryStore) Delete(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return storage.NewInvalidArgumentError("service_id must not be empty")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.records[serviceID]; !exists {
		return storage.NewNotFoundError("service not found: " + serviceID)
	}

	delete(m.records, serviceID)
	return nil
}

// SetHealth records a probe observation for the service.
func (m *MemoryStore) SetHealth(ctx context.Context, serviceID string, health model.Health, checkedAt time.Time) error {
	if serviceID == "" {
		return storage.NewInvalidArgumentError("service_id must not be empty")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, exists := m.records[serviceID]
	if !exists {
		return storage.NewNotFoundError("service not found: " + serviceID)
	}

	record.Health = health
	record.LastHealthCheck = checkedAt
	record.UpdatedAt = time.Now()
	return nil
}

// Ping always succeeds; memory is never unreachable.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
