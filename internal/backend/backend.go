// Package backend defines the realtime tree database abstraction the sync
// layer is written against.
//
// The database is a tree of slash-separated paths. Every node may carry a
// JSON leaf value and an ordered set of children (ordered by key; push keys
// sort chronologically). Reads are one-shot; continuous observation goes
// through Watch, which delivers a typed child-event stream.
package backend

import (
	"context"
	"encoding/json"
)

// EventKind discriminates the variants of Event.
type EventKind int

const (
	// Snapshot carries the full ordered child list of a subtree: the
	// response to the one-shot load issued when a watch attaches. It is
	// delivered after the child replay and before any live event.
	Snapshot EventKind = iota

	// Added reports a new direct child. On attach, Watch replays every
	// existing child as Added before the Snapshot arrives; consumers
	// deduplicate by ignoring adds until they have seen the Snapshot.
	Added

	// Changed reports that an existing direct child's value changed.
	Changed

	// Removed reports that a direct child was deleted. Data carries the
	// child's last known value.
	Removed

	// Cancelled reports that the backend terminated the subscription
	// (e.g. permission revoked, connection lost). It is always the final
	// event before the channel closes.
	Cancelled
)

func (k EventKind) String() string {
	switch k {
	case Snapshot:
		return "snapshot"
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Child is one direct child of a subtree: its key and its JSON leaf value.
type Child struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is the single polymorphic notification type delivered for a watched
// subtree. Which fields are set depends on Kind:
//
//	Snapshot:  Children
//	Added:     Key, Data
//	Changed:   Key, Data
//	Removed:   Key, Data (last known value)
//	Cancelled: Err
type Event struct {
	Kind     EventKind
	Key      string
	Data     json.RawMessage
	Children []Child
	Err      error
}

// CancelFunc detaches a watch. It is idempotent; the event channel is closed
// once the listener is deregistered.
type CancelFunc func()

// Client is the realtime database client. All blocking operations take a
// context; write acknowledgment is the returned error (nil means the backend
// accepted the write).
type Client interface {
	// Get returns the JSON value at path, or nil if the node does not
	// exist. A node carrying both a leaf object and children reads as one
	// object holding the leaf's fields and the children.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// GetChildren returns the direct children of path in key order.
	GetChildren(ctx context.Context, path string) ([]Child, error)

	// Query returns the children of path whose leaf object's field equals
	// value, in key order. The field must be indexed at path; querying an
	// unindexed field is an error.
	Query(ctx context.Context, path, field, value string) ([]Child, error)

	// Watch subscribes to child events under path. Existing children are
	// replayed as Added events, followed by one Snapshot event carrying the
	// same children, then live Added/Changed/Removed events. The ordering
	// is a hard guarantee: every event staged before the Snapshot is
	// covered by it, and no event after it is. A backend-initiated
	// termination delivers Cancelled and closes the channel. The returned
	// CancelFunc deregisters the listener.
	Watch(path string) (<-chan Event, CancelFunc)

	// Push allocates a new push key for a child of path. The key is
	// generated client-side; no record exists until it is written.
	Push(path string) string

	// Set writes value as the JSON leaf at path, replacing any previous
	// value.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the JSON object leaf at path, leaving
	// unmentioned fields untouched.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes the node at path and its entire subtree.
	Remove(ctx context.Context, path string) error

	// KeepSynced marks the subtree at path for local caching so it stays
	// available offline.
	KeepSynced(path string)
}
