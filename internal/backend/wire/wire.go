// Package wire defines the JSON frames spoken between the realtime backend
// server and its clients over a WebSocket connection.
//
// Clients send Request frames; the server answers each with exactly one
// Result frame correlated by request id. Watch requests additionally open an
// event subscription: the server pushes Event frames tagged with the watch's
// request id until the client sends Unwatch or the connection ends.
package wire

import (
	"encoding/json"

	"github.com/mmynk/homeledger/internal/backend"
)

// Op identifies a frame type.
type Op string

const (
	// Client → server.
	OpGet        Op = "get"
	OpChildren   Op = "children"
	OpQuery      Op = "query"
	OpWatch      Op = "watch"
	OpUnwatch    Op = "unwatch"
	OpSet        Op = "set"
	OpUpdate     Op = "update"
	OpRemove     Op = "remove"
	OpKeepSynced Op = "keepsynced"

	// Server → client.
	OpResult Op = "result"
	OpEvent  Op = "event"
)

// Request is a client-initiated frame.
type Request struct {
	Op    Op     `json:"op"`
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	Field string `json:"field,omitempty"` // query: indexed field name
	Match string `json:"match,omitempty"` // query: value to match
	Watch string `json:"watch,omitempty"` // unwatch: id of the watch to drop

	Value  json.RawMessage            `json:"value,omitempty"`  // set
	Fields map[string]json.RawMessage `json:"fields,omitempty"` // update
}

// Response is a server-initiated frame: either the result of a request or an
// event on a watch.
type Response struct {
	Op    Op     `json:"op"`
	ID    string `json:"id"`              // request id (result) or watch id (event)
	Error string `json:"error,omitempty"` // result: failure reason

	Data     json.RawMessage `json:"data,omitempty"`     // get result, event payload
	Children []backend.Child `json:"children,omitempty"` // children/query result

	Kind string `json:"kind,omitempty"` // event: snapshot/added/changed/removed/cancelled
	Key  string `json:"key,omitempty"`  // event: child key
}
