package remote

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/backend/memdb"
	"github.com/mmynk/homeledger/internal/backend/server"
	"github.com/mmynk/homeledger/pkg/idx"
)

func setup(t *testing.T) (*Client, *memdb.DB) {
	t.Helper()
	db := memdb.New()
	srv := httptest.NewServer(server.Handler(db))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, db
}

func recv(t *testing.T, ch <-chan backend.Event) backend.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed before expected event")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return backend.Event{}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "items/a", map[string]string{"cause": "dinner"}))

	data, err := client.Get(ctx, "items/a")
	require.NoError(t, err)
	require.JSONEq(t, `{"cause":"dinner"}`, string(data))

	data, err = client.Get(ctx, "items/missing")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestGetChildrenAndUpdate(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "items/b", map[string]string{"cause": "late"}))
	require.NoError(t, client.Set(ctx, "items/a", map[string]string{"cause": "early"}))

	children, err := client.GetChildren(ctx, "items")
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, "a", children[0].Key)
	require.Equal(t, "b", children[1].Key)

	require.NoError(t, client.Update(ctx, "items/a", map[string]any{"amount": "10"}))
	data, err := client.Get(ctx, "items/a")
	require.NoError(t, err)
	require.JSONEq(t, `{"cause":"early","amount":"10"}`, string(data))
}

func TestQuery(t *testing.T) {
	client, db := setup(t)
	ctx := context.Background()

	db.AddIndex("households", "creator")
	require.NoError(t, client.Set(ctx, "households/1", map[string]string{"creator": "ada@example.com"}))

	matches, err := client.Query(ctx, "households", "creator", "ada@example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "1", matches[0].Key)

	// Server-side errors surface as call errors, not silent empties.
	_, err = client.Query(ctx, "households", "name", "Home")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no index")
}

func TestWatchOverWire(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "items/a", "one"))

	events, cancel := client.Watch("items")
	defer cancel()

	ev := recv(t, events)
	require.Equal(t, backend.Added, ev.Kind)
	require.Equal(t, "a", ev.Key)

	ev = recv(t, events)
	require.Equal(t, backend.Snapshot, ev.Kind)
	require.Len(t, ev.Children, 1)
	require.Equal(t, "a", ev.Children[0].Key)

	require.NoError(t, client.Set(ctx, "items/b", map[string]string{"cause": "two"}))
	ev = recv(t, events)
	require.Equal(t, backend.Added, ev.Kind)
	require.Equal(t, "b", ev.Key)

	require.NoError(t, client.Update(ctx, "items/b", map[string]any{"amount": "5"}))
	ev = recv(t, events)
	require.Equal(t, backend.Changed, ev.Kind)
	require.JSONEq(t, `{"cause":"two","amount":"5"}`, string(ev.Data))

	require.NoError(t, client.Remove(ctx, "items/b"))
	ev = recv(t, events)
	require.Equal(t, backend.Removed, ev.Kind)
	require.Equal(t, "b", ev.Key)
}

func TestWatchCancelStopsEvents(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	events, cancel := client.Watch("items")
	recv(t, events) // snapshot
	cancel()

	// The local channel closes promptly; the server-side watch detaches so
	// further writes do not pile up frames.
	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
	require.NoError(t, client.Set(ctx, "items/a", "one"))
}

func TestClientCloseCancelsWatches(t *testing.T) {
	client, _ := setup(t)

	events, cancel := client.Watch("items")
	defer cancel()
	recv(t, events) // snapshot

	require.NoError(t, client.Close())

	ev := recv(t, events)
	require.Equal(t, backend.Cancelled, ev.Kind)
	require.ErrorIs(t, ev.Err, ErrClientClosed)

	_, err := client.Get(context.Background(), "items")
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestServerCloseCancelsWatches(t *testing.T) {
	client, db := setup(t)

	events, cancel := client.Watch("items")
	defer cancel()
	recv(t, events) // snapshot

	require.NoError(t, db.Close())

	ev := recv(t, events)
	require.Equal(t, backend.Cancelled, ev.Kind)
	require.Error(t, ev.Err)
	require.Contains(t, ev.Err.Error(), "closed")
}

func TestPushKeys(t *testing.T) {
	client, _ := setup(t)

	k1 := client.Push("items")
	k2 := client.Push("items")
	require.NoError(t, idx.Validate(k1))
	require.NoError(t, idx.Validate(k2))
	require.Less(t, k1, k2, "push keys sort by allocation order")
}

func TestKeepSyncedForwarded(t *testing.T) {
	client, db := setup(t)

	client.KeepSynced("households/h1/users")
	require.Eventually(t, func() bool {
		return db.KeptSynced("households/h1/users")
	}, 2*time.Second, 10*time.Millisecond)
}
