package reqcache

import "errors"

// Message types exchanged with pages over the hub.
const (
	MsgSkipWaiting  = "SKIP_WAITING"
	MsgCheckUpdate  = "CHECK_UPDATE"
	MsgVersion      = "VERSION"
	MsgSyncRequired = "SYNC_REQUIRED"
	MsgError        = "ERROR"
)

// SyncTag is the background-sync tag that makes the worker ask pages to
// sync. The worker never syncs itself.
const SyncTag = "sync-pending-operations"

// Message is one frame on the page/worker channel.
type Message struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Message handling errors.
var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrUnknownTag     = errors.New("unknown sync tag")
	ErrNoWorker       = errors.New("no active worker")
)
