package sync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/pkg/idx"
)

// scriptClient is a backend.Client whose watch events are injected by the
// test, giving full control over event ordering.
type scriptClient struct {
	mu      sync.Mutex
	watches map[string]chan backend.Event
	kept    map[string]bool
}

var _ backend.Client = (*scriptClient)(nil)

func newScriptClient() *scriptClient {
	return &scriptClient{
		watches: make(map[string]chan backend.Event),
		kept:    make(map[string]bool),
	}
}

func (c *scriptClient) Watch(path string) (<-chan backend.Event, backend.CancelFunc) {
	ch := make(chan backend.Event, 64)
	c.mu.Lock()
	c.watches[path] = ch
	c.mu.Unlock()
	return ch, func() {}
}

// send injects an event into the watch attached at path.
func (c *scriptClient) send(t *testing.T, path string, ev backend.Event) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		ch := c.watches[path]
		c.mu.Unlock()
		if ch != nil {
			ch <- ev
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no watch attached at %s", path)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *scriptClient) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return nil, nil
}

func (c *scriptClient) GetChildren(ctx context.Context, path string) ([]backend.Child, error) {
	return nil, nil
}

func (c *scriptClient) Query(ctx context.Context, path, field, value string) ([]backend.Child, error) {
	return nil, nil
}

func (c *scriptClient) Push(path string) string { return idx.NewKey() }

func (c *scriptClient) Set(ctx context.Context, path string, value any) error { return nil }

func (c *scriptClient) Update(ctx context.Context, path string, fields map[string]any) error {
	return nil
}

func (c *scriptClient) Remove(ctx context.Context, path string) error { return nil }

func (c *scriptClient) KeepSynced(path string) {
	c.mu.Lock()
	c.kept[path] = true
	c.mu.Unlock()
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// recvEmission reads the next emission from a subscriber channel.
func recvEmission[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before expected emission")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		var zero T
		return zero
	}
}

// recvUntil drains emissions until pred accepts one, returning it.
func recvUntil[T any](t *testing.T, ch <-chan T, pred func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatal("channel closed before matching emission")
			}
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching emission")
		}
	}
}

func recvEmissionClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}
