package storage

import (
	"context"
	"time"

	"github.com/revflow-os/revcore/pkg/model"
)

// ListFilter narrows a List call. The zero value matches every record.
type ListFilter struct {
	Status model.Status
}

// RecordStore is the persistence contract for service records. Uniqueness is
// on ServiceID; re-registration of a known id is an update, never a conflict.
type RecordStore interface {
	// Upsert inserts a new record or replaces every mutable field of the
	// record with the same ServiceID. The returned bool is true for a fresh
	// registration, false for an update. RegisteredAt and the prober-owned
	// fields (Health, LastHealthCheck) survive updates unchanged.
	Upsert(ctx context.Context, record *model.ServiceRecord) (*model.ServiceRecord, bool, error)

	// Get returns the record or a NotFound error.
	Get(ctx context.Context, serviceID string) (*model.ServiceRecord, error)

	// List returns all records matching the filter from a single snapshot
	// read; concurrent writes never produce a partially-applied view.
	List(ctx context.Context, filter ListFilter) ([]*model.ServiceRecord, error)

	// Delete removes the record. Deleting an absent id returns a NotFound
	// error so callers can report it distinctly; treating that as success is
	// the caller's choice.
	Delete(ctx context.Context, serviceID string) error

	// SetHealth is the only mutation path for the Health and LastHealthCheck
	// fields. It is reserved for the health prober.
	SetHealth(ctx context.Context, serviceID string, health model.Health, checkedAt time.Time) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// StoreError is the typed error all RecordStore implementations return, so
// the HTTP layer can map failures to statuses without string matching.
type StoreError struct {
	Code    int
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

// Error codes carried by StoreError.
const (
	// ErrNotFound: no record with the given service id.
	ErrNotFound = iota + 1
	// ErrConflict: reserved for reconciliation races; registration itself
	// never conflicts because upsert is the defined update path.
	ErrConflict
	// ErrInvalidArgument: a required field is missing or malformed.
	ErrInvalidArgument
	// ErrUnavailable: the backing store is unreachable.
	ErrUnavailable
	// ErrInternal: any other storage failure.
	ErrInternal
)

// NewNotFoundError creates a StoreError with ErrNotFound.
func NewNotFoundError(message string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: message}
}

// NewConflictError creates a StoreError with ErrConflict.
func NewConflictError(message string) *StoreError {
	return &StoreError{Code: ErrConflict, Message: message}
}

// NewInvalidArgumentError creates a StoreError with ErrInvalidArgument.
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: message}
}

// NewUnavailableError creates a StoreError with ErrUnavailable.
func NewUnavailableError(message string) *StoreError {
	return &StoreError{Code: ErrUnavailable, Message: message}
}

// NewInternalError creates a StoreError with ErrInternal.
func NewInternalError(message string) *StoreError {
	return &StoreError{Code: ErrInternal, Message: message}
}

// ErrorCode extracts the StoreError code from err, or ErrInternal when err is
// not a StoreError.
func ErrorCode(err error) int {
	if se, ok := err.(*StoreError); ok {
		return se.Code
	}
	return ErrInternal
}

// IsNotFound reports whether err is a StoreError with ErrNotFound.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return ErrorCode(err) == ErrNotFound
}
