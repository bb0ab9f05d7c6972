// Package server exposes a memdb tree over the WebSocket wire protocol. One
// connection serves any number of concurrent requests and watches; responses
// are funneled through a single write pump per connection.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/backend/memdb"
	"github.com/mmynk/homeledger/internal/backend/wire"
	"github.com/mmynk/homeledger/internal/metrics"
)

const (
	sendBufferSize = 64
	pingInterval   = 30 * time.Second
)

// Handler returns an HTTP handler that upgrades connections to WebSocket and
// serves the wire protocol against db.
func Handler(db *memdb.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // household LAN / dev use
		})
		if err != nil {
			slog.Error("wire: accept failed", "error", err)
			return
		}
		newConn(db, conn).run(r.Context())
	}
}

// connection is one WebSocket client session.
type connection struct {
	db      *memdb.DB
	ws      *ws.Conn
	send    chan wire.Response
	watches map[string]backend.CancelFunc
}

func newConn(db *memdb.DB, conn *ws.Conn) *connection {
	return &connection{
		db:      db,
		ws:      conn,
		send:    make(chan wire.Response, sendBufferSize),
		watches: make(map[string]backend.CancelFunc),
	}
}

// run drives the connection: a write pump goroutine plus a read loop. It
// blocks until the connection closes, then detaches every watch it opened.
func (c *connection) run(ctx context.Context) {
	metrics.WireConnections.Inc()
	defer metrics.WireConnections.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readLoop(ctx)

	for id, cancelWatch := range c.watches {
		cancelWatch()
		delete(c.watches, id)
	}
	c.ws.Close(ws.StatusNormalClosure, "")
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("wire: undecodable frame", "error", err)
			continue
		}
		metrics.WireFrames.WithLabelValues(string(req.Op)).Inc()
		c.handle(ctx, req)
	}
}

func (c *connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case resp := <-c.send:
			data, err := json.Marshal(resp)
			if err != nil {
				slog.Error("wire: marshal response", "error", err)
				continue
			}
			if err := c.ws.Write(ctx, ws.MessageText, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) handle(ctx context.Context, req wire.Request) {
	switch req.Op {
	case wire.OpGet:
		data, err := c.db.Get(ctx, req.Path)
		c.result(ctx, wire.Response{ID: req.ID, Data: data, Error: errString(err)})
	case wire.OpChildren:
		children, err := c.db.GetChildren(ctx, req.Path)
		c.result(ctx, wire.Response{ID: req.ID, Children: children, Error: errString(err)})
	case wire.OpQuery:
		children, err := c.db.Query(ctx, req.Path, req.Field, req.Match)
		c.result(ctx, wire.Response{ID: req.ID, Children: children, Error: errString(err)})
	case wire.OpSet:
		err := c.db.Set(ctx, req.Path, req.Value)
		c.result(ctx, wire.Response{ID: req.ID, Error: errString(err)})
	case wire.OpUpdate:
		fields := make(map[string]any, len(req.Fields))
		for k, v := range req.Fields {
			fields[k] = v
		}
		err := c.db.Update(ctx, req.Path, fields)
		c.result(ctx, wire.Response{ID: req.ID, Error: errString(err)})
	case wire.OpRemove:
		err := c.db.Remove(ctx, req.Path)
		c.result(ctx, wire.Response{ID: req.ID, Error: errString(err)})
	case wire.OpKeepSynced:
		c.db.KeepSynced(req.Path)
		c.result(ctx, wire.Response{ID: req.ID})
	case wire.OpWatch:
		events, cancelWatch := c.db.Watch(req.Path)
		c.watches[req.ID] = cancelWatch
		go c.forward(ctx, req.ID, events)
		c.result(ctx, wire.Response{ID: req.ID})
	case wire.OpUnwatch:
		if cancelWatch, ok := c.watches[req.Watch]; ok {
			cancelWatch()
			delete(c.watches, req.Watch)
		}
		c.result(ctx, wire.Response{ID: req.ID})
	default:
		c.result(ctx, wire.Response{ID: req.ID, Error: "unknown op"})
	}
}

// forward relays one watch's events to the client until the watch ends or
// the connection goes away.
func (c *connection) forward(ctx context.Context, watchID string, events <-chan backend.Event) {
	for ev := range events {
		resp := wire.Response{
			Op:       wire.OpEvent,
			ID:       watchID,
			Kind:     ev.Kind.String(),
			Key:      ev.Key,
			Data:     ev.Data,
			Children: ev.Children,
		}
		if ev.Err != nil {
			resp.Error = ev.Err.Error()
		}
		select {
		case c.send <- resp:
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) result(ctx context.Context, resp wire.Response) {
	resp.Op = wire.OpResult
	select {
	case c.send <- resp:
	case <-ctx.Done():
	}
}

func errString(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}
