// Package remote implements backend.Client against a wire-protocol server
// over a single WebSocket connection. One read loop dispatches result frames
// to pending calls and event frames to watch queues; a connection loss
// cancels every outstanding call and watch, which is exactly the
// listener-cancellation signal the sync layer propagates downstream.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/backend/wire"
	"github.com/mmynk/homeledger/internal/eventq"
	"github.com/mmynk/homeledger/pkg/idx"
)

// ErrClientClosed reports an operation on a closed client.
var ErrClientClosed = errors.New("remote: client closed")

// Ensure Client implements backend.Client.
var _ backend.Client = (*Client)(nil)

// Client is a remote realtime database client.
type Client struct {
	conn   *ws.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wire.Response
	watches map[string]*eventq.Queue[backend.Event]
	err     error
	closed  bool
}

// Dial connects to a wire-protocol server at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		ctx:     connCtx,
		cancel:  cancel,
		pending: make(map[string]chan wire.Response),
		watches: make(map[string]*eventq.Queue[backend.Event]),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Outstanding calls fail and watches are
// cancelled.
func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return c.conn.Close(ws.StatusNormalClosure, "")
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.fail(fmt.Errorf("remote: connection lost: %w", err))
			return
		}
		var resp wire.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("remote: undecodable frame", "error", err)
			continue
		}
		switch resp.Op {
		case wire.OpResult:
			c.mu.Lock()
			ch := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}
		case wire.OpEvent:
			c.dispatchEvent(resp)
		default:
			slog.Warn("remote: unexpected frame op", "op", resp.Op)
		}
	}
}

func (c *Client) dispatchEvent(resp wire.Response) {
	c.mu.Lock()
	q := c.watches[resp.ID]
	c.mu.Unlock()
	if q == nil {
		return // watch already cancelled locally
	}

	ev := backend.Event{Key: resp.Key, Data: resp.Data, Children: resp.Children}
	switch resp.Kind {
	case backend.Snapshot.String():
		ev.Kind = backend.Snapshot
	case backend.Added.String():
		ev.Kind = backend.Added
	case backend.Changed.String():
		ev.Kind = backend.Changed
	case backend.Removed.String():
		ev.Kind = backend.Removed
	case backend.Cancelled.String():
		ev.Kind = backend.Cancelled
		if resp.Error != "" {
			ev.Err = errors.New(resp.Error)
		}
	default:
		slog.Warn("remote: unknown event kind", "kind", resp.Kind)
		return
	}

	q.Put(ev)
	if ev.Kind == backend.Cancelled {
		c.mu.Lock()
		delete(c.watches, resp.ID)
		c.mu.Unlock()
		q.Finish()
	}
}

// fail terminates every outstanding call and watch.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- wire.Response{Error: err.Error()}
	}
	for id, q := range c.watches {
		delete(c.watches, id)
		q.Put(backend.Event{Kind: backend.Cancelled, Err: err})
		q.Finish()
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Client) write(ctx context.Context, req wire.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("remote: marshal request: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, ws.MessageText, data)
}

// call performs one request/result round trip.
func (c *Client) call(ctx context.Context, req wire.Request) (wire.Response, error) {
	req.ID = uuid.NewString()
	ch := make(chan wire.Response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return wire.Response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return wire.Response{}, fmt.Errorf("remote: send %s: %w", req.Op, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return wire.Response{}, fmt.Errorf("remote: %s %s: %s", req.Op, req.Path, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return wire.Response{}, ctx.Err()
	case <-c.ctx.Done():
		c.mu.Lock()
		err := c.err
		delete(c.pending, req.ID)
		c.mu.Unlock()
		if err == nil {
			err = ErrClientClosed
		}
		return wire.Response{}, err
	}
}

// Get implements backend.Client.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.call(ctx, wire.Request{Op: wire.OpGet, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetChildren implements backend.Client.
func (c *Client) GetChildren(ctx context.Context, path string) ([]backend.Child, error) {
	resp, err := c.call(ctx, wire.Request{Op: wire.OpChildren, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Children, nil
}

// Query implements backend.Client.
func (c *Client) Query(ctx context.Context, path, field, value string) ([]backend.Child, error) {
	resp, err := c.call(ctx, wire.Request{Op: wire.OpQuery, Path: path, Field: field, Match: value})
	if err != nil {
		return nil, err
	}
	return resp.Children, nil
}

// Watch implements backend.Client.
func (c *Client) Watch(path string) (<-chan backend.Event, backend.CancelFunc) {
	id := uuid.NewString()
	q := eventq.New[backend.Event]()

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		q.Put(backend.Event{Kind: backend.Cancelled, Err: err})
		q.Finish()
		return q.Out(), q.Cancel
	}
	c.watches[id] = q
	c.mu.Unlock()

	if err := c.write(c.ctx, wire.Request{Op: wire.OpWatch, ID: id, Path: path}); err != nil {
		c.mu.Lock()
		delete(c.watches, id)
		c.mu.Unlock()
		q.Put(backend.Event{Kind: backend.Cancelled, Err: err})
		q.Finish()
		return q.Out(), q.Cancel
	}

	cancel := func() {
		c.mu.Lock()
		_, active := c.watches[id]
		delete(c.watches, id)
		closed := c.closed
		c.mu.Unlock()
		q.Cancel()
		if active && !closed {
			req := wire.Request{Op: wire.OpUnwatch, ID: uuid.NewString(), Watch: id}
			if err := c.write(c.ctx, req); err != nil {
				slog.Debug("remote: unwatch send failed", "error", err)
			}
		}
	}
	return q.Out(), cancel
}

// Push implements backend.Client. Push keys are generated client-side.
func (c *Client) Push(path string) string {
	return idx.NewKey()
}

// Set implements backend.Client.
func (c *Client) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("remote: marshal value for %s: %w", path, err)
	}
	_, err = c.call(ctx, wire.Request{Op: wire.OpSet, Path: path, Value: data})
	return err
}

// Update implements backend.Client.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	raw := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("remote: marshal field %s for %s: %w", k, path, err)
		}
		raw[k] = data
	}
	_, err := c.call(ctx, wire.Request{Op: wire.OpUpdate, Path: path, Fields: raw})
	return err
}

// Remove implements backend.Client.
func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.call(ctx, wire.Request{Op: wire.OpRemove, Path: path})
	return err
}

// KeepSynced implements backend.Client. The mark is forwarded best-effort;
// local caching is the server's concern.
func (c *Client) KeepSynced(path string) {
	go func() {
		if _, err := c.call(c.ctx, wire.Request{Op: wire.OpKeepSynced, Path: path}); err != nil {
			slog.Debug("remote: keepsynced failed", "path", path, "error", err)
		}
	}()
}
