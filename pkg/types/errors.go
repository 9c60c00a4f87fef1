package types

import (
	"errors"
	"fmt"
)

// Record and store errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidID         = errors.New("invalid record id")
	ErrInvalidData       = errors.New("invalid record data")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrDetached          = errors.New("store is detached")
	ErrAlreadyAttached   = errors.New("store is already attached")
)

// Sync errors.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
)

// NotFoundError reports an update or delete of a record that does not exist.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Collection, e.ID, ErrNotFound)
}

// Is makes errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StoreError reports a failed persistent-store transaction.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NetworkError reports a rejected fetch (StatusCode 0) or a non-2xx response.
type NetworkError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Sync phases reported by SyncError.
const (
	PhaseDrain     = "drain"
	PhaseReconcile = "reconcile"
	PhasePush      = "push"
	PhaseRestore   = "restore"
	PhaseStatus    = "status"
)

// SyncError reports which phase of a sync failed and for which entity type.
type SyncError struct {
	Phase      string
	EntityType EntityType
	Err        error
}

func (e *SyncError) Error() string {
	if e.EntityType == "" {
		return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("sync %s %s: %v", e.Phase, e.EntityType, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsStoreError reports whether err wraps a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
