package types

import (
	"encoding/json"
	"time"
)

// SyncStatus is the server-side state of the last bulk sync.
type SyncStatus string

const (
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
	SyncInProgress SyncStatus = "in_progress"
)

// SyncMetadata is returned by GET /api/sync/status. It is maintained by the
// backend; the client only reads it.
type SyncMetadata struct {
	LastSyncTimestamp *time.Time            `json:"lastSyncTimestamp" yaml:"lastSyncTimestamp"`
	Collections       map[string]*time.Time `json:"collections" yaml:"collections"`
	Status            SyncStatus            `json:"status" yaml:"status"`
	Error             string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// Snapshot is the bulk payload of POST /api/sync/all and
// GET /api/sync/restore.
type Snapshot struct {
	CustomerID   string            `json:"customerId"`
	BusinessName string            `json:"businessName"`
	Products     []json.RawMessage `json:"products"`
	Categories   []json.RawMessage `json:"categories"`
	Transactions []json.RawMessage `json:"transactions"`
	Users        []json.RawMessage `json:"users"`
	Settings     []json.RawMessage `json:"settings"`
}

// Records returns the slice held for et.
func (s *Snapshot) Records(et EntityType) []json.RawMessage {
	switch et {
	case EntityProducts:
		return s.Products
	case EntityCategories:
		return s.Categories
	case EntityTransactions:
		return s.Transactions
	case EntityUsers:
		return s.Users
	case EntitySettings:
		return s.Settings
	default:
		return nil
	}
}

// SetRecords stores recs for et. Unsynced entity types are ignored.
func (s *Snapshot) SetRecords(et EntityType, recs []json.RawMessage) {
	if recs == nil {
		recs = []json.RawMessage{}
	}
	switch et {
	case EntityProducts:
		s.Products = recs
	case EntityCategories:
		s.Categories = recs
	case EntityTransactions:
		s.Transactions = recs
	case EntityUsers:
		s.Users = recs
	case EntitySettings:
		s.Settings = recs
	}
}
