package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

// RecordStore implements storage.RecordStore on etcd. Records are JSON
// documents under the client's key prefix, keyed by service_id, which gives
// the unique index the registry relies on for free.
type RecordStore struct {
	client *Client
}

// NewRecordStore creates an etcd-backed record store.
func NewRecordStore(client *Client) *RecordStore {
	return &RecordStore{client: client}
}

// Upsert inserts or replaces the record keyed by ServiceID.
func (s *RecordStore) Upsert(ctx context.Context, record *model.ServiceRecord) (*model.ServiceRecord, bool, error) {
	if record.ServiceID == "" || record.Name == "" || record.Port <= 0 || record.Port > 65535 {
		return nil, false, storage.NewInvalidArgumentError("service_id, name and a valid port are required")
	}

	now := time.Now()
	stored := record.Clone()
	stored.ApplyDefaults()
	stored.UpdatedAt = now

	prev, err := s.Get(ctx, record.ServiceID)
	created := false
	switch {
	case err == nil:
		stored.RegisteredAt = prev.RegisteredAt
		stored.Health = prev.Health
		stored.LastHealthCheck = prev.LastHealthCheck
	case storage.IsNotFound(err):
		created = true
		if stored.RegisteredAt.IsZero() {
			stored.RegisteredAt = now
		}
		stored.Health = model.HealthUnknown
		stored.LastHealthCheck = time.Time{}
	default:
		return nil, false, err
	}

	if err := s.put(ctx, stored); err != nil {
		return nil, false, err
	}

	return stored, created, nil
}

// Get returns the record with the given id.
func (s *RecordStore) Get(ctx context.Context, serviceID string) (*model.ServiceRecord, error) {
	if serviceID == "" {
		return nil, storage.NewInvalidArgumentError("service_id must not be empty")
	}

	resp, err := s.client.client.Get(ctx, s.client.RecordKey(serviceID))
	if err != nil {
		return nil, storage.NewUnavailableError(fmt.Sprintf("etcd read failed: %v", err))
	}
	if len(resp.Kvs) == 0 {
		return nil, storage.NewNotFoundError("service not found: " + serviceID)
	}

	var record model.ServiceRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("decoding service record: %v", err))
	}

	return &record, nil
}

// List returns all records matching the filter. A single range read over the
// prefix yields one etcd revision, so the result is a consistent snapshot.
func (s *RecordStore) List(ctx context.Context, filter storage.ListFilter) ([]*model.ServiceRecord, error) {
	resp, err := s.client.client.Get(ctx, s.client.RecordPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, storage.NewUnavailableError(fmt.Sprintf("etcd range read failed: %v", err))
	}

	records := make([]*model.ServiceRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record model.ServiceRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("decoding service record %s: %v", kv.Key, err))
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		records = append(records, &record)
	}

	return records, nil
}

// Delete removes the record; an absent id is reported as NotFound.
func (s *RecordStore) Delete(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return storage.NewInvalidArgumentError("service_id must not be empty")
	}

	resp, err := s.client.client.Delete(ctx, s.client.RecordKey(serviceID))
	if err != nil {
		return storage.NewUnavailableError(fmt.Sprintf("etcd delete failed: %v", err))
	}
	if resp.Deleted == 0 {
		return storage.NewNotFoundError("service not found: " + serviceID)
	}

	return nil
}

// SetHealth records a probe observation for the service.
func (s *RecordStore) SetHealth(ctx context.Context, serviceID string, health model.Health, checkedAt time.Time) error {
	record, err := s.Get(ctx, serviceID)
	if err != nil {
		return err
	}

	record.Health = health
	record.LastHealthCheck = checkedAt
	record.UpdatedAt = time.Now()

	return s.put(ctx, record)
}

// Ping verifies the etcd cluster answers within the context deadline.
func (s *RecordStore) Ping(ctx context.Context) error {
	if _, err := s.client.client.Get(ctx, s.client.RecordPrefix(), clientv3.WithPrefix(), clientv3.WithKeysOnly(), clientv3.WithLimit(1)); err != nil {
		return storage.NewUnavailableError(fmt.Sprintf("etcd unreachable: %v", err))
	}
	return nil
}

func (s *RecordStore) put(ctx context.Context, record *model.ServiceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("encoding service record: %v", err))
	}

	if _, err := s.client.client.Put(ctx, s.client.RecordKey(record.ServiceID), string(data)); err != nil {
		return storage.NewUnavailableError(fmt.Sprintf("etcd write failed: %v", err))
	}

	return nil
}
