// Package memdb provides an in-memory implementation of the backend.Client
// realtime tree database. It backs the dev server and the test suites.
//
// The tree is a hierarchy of nodes addressed by slash-separated paths. Each
// node may carry a JSON leaf value and children. Watches attach to a path and
// observe its direct children: existing children are replayed as Added and
// sealed with a Snapshot event, then live events follow in write order.
package memdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/eventq"
	"github.com/mmynk/homeledger/pkg/idx"
)

// ErrNoIndex reports a Query against a field that is not indexed at the
// queried path.
var ErrNoIndex = errors.New("memdb: no index on queried field")

// ErrClosed reports an operation on a closed database.
var ErrClosed = errors.New("memdb: database closed")

// Ensure DB implements backend.Client.
var _ backend.Client = (*DB)(nil)

type node struct {
	value    json.RawMessage
	children map[string]*node
}

// DB is an in-memory realtime tree database.
type DB struct {
	mu      sync.Mutex
	root    *node
	watches map[string]map[string]*eventq.Queue[backend.Event] // path -> watch id -> queue
	indexes map[string]map[string]bool                         // path -> indexed fields
	kept    map[string]bool
	closed  bool
}

// New creates an empty database.
func New() *DB {
	return &DB{
		root:    &node{},
		watches: make(map[string]map[string]*eventq.Queue[backend.Event]),
		indexes: make(map[string]map[string]bool),
		kept:    make(map[string]bool),
	}
}

// AddIndex declares that children of path may be queried by field.
func (db *DB) AddIndex(path, field string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.indexes[path] == nil {
		db.indexes[path] = make(map[string]bool)
	}
	db.indexes[path][field] = true
}

// Get returns the JSON value at path, or nil if absent. Branch nodes read as
// one object: the leaf object's fields plus the encoded children.
func (db *DB) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	return encodeNode(db.lookup(path)), nil
}

// GetChildren returns the direct children of path in key order.
func (db *DB) GetChildren(ctx context.Context, path string) ([]backend.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.childrenLocked(path), nil
}

// Query returns the children of path whose leaf object's field equals value.
// The field must have been declared via AddIndex.
func (db *DB) Query(ctx context.Context, path, field, value string) ([]backend.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if !db.indexes[path][field] {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoIndex, path, field)
	}

	var matches []backend.Child
	for _, child := range db.childrenLocked(path) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(child.Data, &fields); err != nil {
			continue
		}
		var got string
		if err := json.Unmarshal(fields[field], &got); err != nil {
			continue
		}
		if got == value {
			matches = append(matches, child)
		}
	}
	return matches, nil
}

// Watch subscribes to child events under path.
func (db *DB) Watch(path string) (<-chan backend.Event, backend.CancelFunc) {
	db.mu.Lock()

	q := eventq.New[backend.Event]()
	if db.closed {
		db.mu.Unlock()
		q.Put(backend.Event{Kind: backend.Cancelled, Err: ErrClosed})
		q.Finish()
		return q.Out(), q.Cancel
	}

	id := uuid.NewString()
	if db.watches[path] == nil {
		db.watches[path] = make(map[string]*eventq.Queue[backend.Event])
	}
	db.watches[path][id] = q

	// Replay existing children, then the snapshot covering exactly them,
	// atomically with registration so no live event can interleave.
	children := db.childrenLocked(path)
	for _, child := range children {
		q.Put(backend.Event{Kind: backend.Added, Key: child.Key, Data: child.Data})
	}
	q.Put(backend.Event{Kind: backend.Snapshot, Children: children})
	db.mu.Unlock()

	cancel := func() {
		db.mu.Lock()
		if ws := db.watches[path]; ws != nil {
			delete(ws, id)
			if len(ws) == 0 {
				delete(db.watches, path)
			}
		}
		db.mu.Unlock()
		q.Cancel()
	}
	return q.Out(), cancel
}

// Push allocates a new push key for a child of path.
func (db *DB) Push(path string) string {
	return idx.NewKey()
}

// Set writes value as the leaf at path.
func (db *DB) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memdb: marshal value for %s: %w", path, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	pre := db.preWriteState(path)
	n := db.ensure(path)
	n.value = data
	db.notifyWrite(path, pre)
	return nil
}

// Update merges fields into the object leaf at path.
func (db *DB) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	merged := make(map[string]json.RawMessage)
	if n := db.lookup(path); n != nil && n.value != nil {
		if err := json.Unmarshal(n.value, &merged); err != nil {
			return fmt.Errorf("memdb: update non-object at %s: %w", path, err)
		}
	}
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("memdb: marshal field %s for %s: %w", k, path, err)
		}
		merged[k] = data
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("memdb: marshal merged value for %s: %w", path, err)
	}

	pre := db.preWriteState(path)
	n := db.ensure(path)
	n.value = data
	db.notifyWrite(path, pre)
	return nil
}

// Remove deletes the node at path and its subtree.
func (db *DB) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	target := db.lookup(path)
	if target == nil {
		return nil
	}

	// Watches inside the removed subtree see every child go away.
	for wpath, ws := range db.watches {
		if wpath != path && !under(wpath, path) {
			continue
		}
		for _, child := range db.childrenLocked(wpath) {
			for _, q := range ws {
				q.Put(backend.Event{Kind: backend.Removed, Key: child.Key, Data: child.Data})
			}
		}
	}

	// Watches on the parent see the node itself removed.
	parentPath, key := splitPath(path)
	old := encodeNode(target)
	if parent := db.lookup(parentPath); parent != nil {
		delete(parent.children, key)
	}
	for _, q := range db.watches[parentPath] {
		q.Put(backend.Event{Kind: backend.Removed, Key: key, Data: old})
	}
	return nil
}

// KeepSynced marks the subtree at path for local caching.
func (db *DB) KeepSynced(path string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.kept[path] = true
}

// KeptSynced reports whether path has been marked via KeepSynced.
func (db *DB) KeptSynced(path string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.kept[path]
}

// Close cancels every watch with a Cancelled event and rejects further
// operations.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	for _, ws := range db.watches {
		for _, q := range ws {
			q.Put(backend.Event{Kind: backend.Cancelled, Err: ErrClosed})
			q.Finish()
		}
	}
	db.watches = make(map[string]map[string]*eventq.Queue[backend.Event])
	return nil
}

// lookup returns the node at path, or nil. Callers hold db.mu.
func (db *DB) lookup(path string) *node {
	n := db.root
	for _, seg := range segments(path) {
		n = n.children[seg]
		if n == nil {
			return nil
		}
	}
	return n
}

// ensure returns the node at path, creating intermediate nodes as needed.
// Callers hold db.mu.
func (db *DB) ensure(path string) *node {
	n := db.root
	for _, seg := range segments(path) {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child := n.children[seg]
		if child == nil {
			child = &node{}
			n.children[seg] = child
		}
		n = child
	}
	return n
}

// childrenLocked returns the direct children of path in key order. Callers
// hold db.mu.
func (db *DB) childrenLocked(path string) []backend.Child {
	n := db.lookup(path)
	if n == nil || len(n.children) == 0 {
		return nil
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]backend.Child, 0, len(keys))
	for _, k := range keys {
		children = append(children, backend.Child{Key: k, Data: encodeNode(n.children[k])})
	}
	return children
}

// preWriteState records, per affected watch, whether the watched child that a
// write at path touches already exists. Callers hold db.mu.
func (db *DB) preWriteState(path string) map[*eventq.Queue[backend.Event]]bool {
	pre := make(map[*eventq.Queue[backend.Event]]bool)
	for wpath, ws := range db.watches {
		key, ok := childKey(wpath, path)
		if !ok {
			continue
		}
		exists := db.lookup(wpath+"/"+key) != nil
		for _, q := range ws {
			pre[q] = exists
		}
	}
	return pre
}

// notifyWrite enqueues Added/Changed events for every watch observing a write
// at path. Callers hold db.mu.
func (db *DB) notifyWrite(path string, pre map[*eventq.Queue[backend.Event]]bool) {
	for wpath, ws := range db.watches {
		key, ok := childKey(wpath, path)
		if !ok {
			continue
		}
		data := encodeNode(db.lookup(wpath + "/" + key))
		for _, q := range ws {
			kind := backend.Added
			if pre[q] {
				kind = backend.Changed
			}
			q.Put(backend.Event{Kind: kind, Key: key, Data: data})
		}
	}
}

// encodeNode serializes a node for delivery: the leaf value alone for leaf
// nodes, one object for branch nodes. A branch node's leaf object and its
// children live in the same object, so a record keeps its own fields visible
// after subtrees are written beneath it; children win on key collision, and a
// non-object leaf is shadowed entirely.
func encodeNode(n *node) json.RawMessage {
	if n == nil {
		return nil
	}
	if len(n.children) == 0 {
		return n.value
	}
	obj := make(map[string]json.RawMessage, len(n.children))
	if n.value != nil {
		if err := json.Unmarshal(n.value, &obj); err != nil {
			obj = make(map[string]json.RawMessage, len(n.children))
		}
	}
	for k, child := range n.children {
		obj[k] = encodeNode(child)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return data
}

// childKey returns the direct-child key of watchPath that a write at
// writePath falls under, if any.
func childKey(watchPath, writePath string) (string, bool) {
	if !under(writePath, watchPath) {
		return "", false
	}
	rest := strings.TrimPrefix(writePath, watchPath+"/")
	key, _, _ := strings.Cut(rest, "/")
	return key, true
}

// under reports whether path is strictly inside subtree.
func under(path, subtree string) bool {
	return strings.HasPrefix(path, subtree+"/")
}

func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func splitPath(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
