package memdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmynk/homeledger/internal/backend"
)

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

func recvClosed(t *testing.T, ch <-chan backend.Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "expected closed channel, got event kind %s", ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSetGet(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "a/b", map[string]string{"name": "dinner"}))

	data, err := db.Get(ctx, "a/b")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"dinner"}`, string(data))

	data, err = db.Get(ctx, "a/missing")
	require.NoError(t, err)
	require.Nil(t, data, "absent path should read as nil, not an error")
}

func TestGetChildrenKeyOrder(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "list/b", 2))
	require.NoError(t, db.Set(ctx, "list/c", 3))
	require.NoError(t, db.Set(ctx, "list/a", 1))

	children, err := db.GetChildren(ctx, "list")
	require.NoError(t, err)
	require.Len(t, children, 3)
	require.Equal(t, "a", children[0].Key)
	require.Equal(t, "b", children[1].Key)
	require.Equal(t, "c", children[2].Key)
}

func TestWatchReplayThenSnapshotThenLive(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "items/a", "one"))
	require.NoError(t, db.Set(ctx, "items/b", "two"))

	events, cancel := db.Watch("items")
	defer cancel()

	// Existing children replay in key order, sealed by a snapshot carrying
	// exactly the replayed set.
	ev := recv(t, events)
	require.Equal(t, backend.Added, ev.Kind)
	require.Equal(t, "a", ev.Key)

	ev = recv(t, events)
	require.Equal(t, backend.Added, ev.Kind)
	require.Equal(t, "b", ev.Key)

	ev = recv(t, events)
	require.Equal(t, backend.Snapshot, ev.Kind)
	require.Len(t, ev.Children, 2)
	require.Equal(t, "a", ev.Children[0].Key)
	require.Equal(t, "b", ev.Children[1].Key)

	require.NoError(t, db.Set(ctx, "items/c", "three"))
	ev = recv(t, events)
	require.Equal(t, backend.Added, ev.Kind)
	require.Equal(t, "c", ev.Key)
	require.JSONEq(t, `"three"`, string(ev.Data))
}

func TestWatchEmptyPathSnapshotOnly(t *testing.T) {
	db := New()

	events, cancel := db.Watch("nothing/here")
	defer cancel()

	ev := recv(t, events)
	require.Equal(t, backend.Snapshot, ev.Kind)
	require.Empty(t, ev.Children)
}

func TestWatchChangedOnOverwrite(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "items/a", map[string]any{"amount": "10", "cause": "pizza"}))

	events, cancel := db.Watch("items")
	defer cancel()
	recv(t, events) // replayed a
	recv(t, events) // snapshot

	require.NoError(t, db.Update(ctx, "items/a", map[string]any{"amount": "12"}))
	ev := recv(t, events)
	require.Equal(t, backend.Changed, ev.Kind)
	require.Equal(t, "a", ev.Key)
	require.JSONEq(t, `{"amount":"12","cause":"pizza"}`, string(ev.Data))
}

func TestWatchRemovedChild(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "items/a", "one"))

	events, cancel := db.Watch("items")
	defer cancel()
	recv(t, events) // replayed a
	recv(t, events) // snapshot

	require.NoError(t, db.Remove(ctx, "items/a"))
	ev := recv(t, events)
	require.Equal(t, backend.Removed, ev.Kind)
	require.Equal(t, "a", ev.Key)
}

func TestRemoveSubtreeNotifiesInnerWatches(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "h/1/items/a", "one"))
	require.NoError(t, db.Set(ctx, "h/1/items/b", "two"))

	events, cancel := db.Watch("h/1/items")
	defer cancel()
	recv(t, events) // replayed a
	recv(t, events) // replayed b
	recv(t, events) // snapshot

	// Removing an ancestor takes every watched child away.
	require.NoError(t, db.Remove(ctx, "h/1"))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := recv(t, events)
		require.Equal(t, backend.Removed, ev.Kind)
		got[ev.Key] = true
	}
	require.True(t, got["a"] && got["b"], "both children should be removed, got %v", got)
}

func TestQuery(t *testing.T) {
	db := New()
	ctx := context.Background()

	db.AddIndex("households", "creator")
	require.NoError(t, db.Set(ctx, "households/1", map[string]string{"creator": "ada@example.com"}))
	require.NoError(t, db.Set(ctx, "households/2", map[string]string{"creator": "bob@example.com"}))

	matches, err := db.Query(ctx, "households", "creator", "ada@example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "1", matches[0].Key)

	matches, err = db.Query(ctx, "households", "creator", "eve@example.com")
	require.NoError(t, err)
	require.Empty(t, matches)

	_, err = db.Query(ctx, "households", "name", "Home")
	require.ErrorIs(t, err, ErrNoIndex)
}

func TestQueryMatchesRecordWithChildren(t *testing.T) {
	db := New()
	ctx := context.Background()

	db.AddIndex("households", "creator")
	require.NoError(t, db.Set(ctx, "households/1", map[string]string{"creator": "ada@example.com"}))

	// A subtree written beneath the record must not hide its own fields
	// from indexed lookups.
	require.NoError(t, db.Set(ctx, "households/1/users/u1", map[string]string{"name": "Ada"}))

	matches, err := db.Query(ctx, "households", "creator", "ada@example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "1", matches[0].Key)
}

func TestGetMergesLeafAndChildren(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "households/1", map[string]string{"name": "Home", "creator": "ada@example.com"}))
	require.NoError(t, db.Set(ctx, "households/1/users/u1", map[string]string{"name": "Ada"}))

	data, err := db.Get(ctx, "households/1")
	require.NoError(t, err)

	var decoded struct {
		Name    string                     `json:"name"`
		Creator string                     `json:"creator"`
		Users   map[string]json.RawMessage `json:"users"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "Home", decoded.Name)
	require.Equal(t, "ada@example.com", decoded.Creator)
	require.Len(t, decoded.Users, 1)
}

func TestKeepSynced(t *testing.T) {
	db := New()
	require.False(t, db.KeptSynced("h/1/users"))
	db.KeepSynced("h/1/users")
	require.True(t, db.KeptSynced("h/1/users"))
}

func TestCloseCancelsWatches(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "items/a", "one"))
	events, cancel := db.Watch("items")
	defer cancel()
	recv(t, events) // replayed a
	recv(t, events) // snapshot

	require.NoError(t, db.Close())

	ev := recv(t, events)
	require.Equal(t, backend.Cancelled, ev.Kind)
	require.ErrorIs(t, ev.Err, ErrClosed)
	recvClosed(t, events)

	_, err := db.Get(ctx, "items/a")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, db.Set(ctx, "items/b", "x"), ErrClosed)

	// A watch attached after close terminates immediately.
	events, cancel = db.Watch("items")
	defer cancel()
	ev = recv(t, events)
	require.Equal(t, backend.Cancelled, ev.Kind)
	recvClosed(t, events)
}

func TestEncodeBranchNode(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "h/1/users/u1", map[string]string{"name": "Ada"}))
	require.NoError(t, db.Set(ctx, "h/1/users/u2", map[string]string{"name": "Bob"}))

	// A watch on the grandparent sees the branch child as a nested object.
	events, cancel := db.Watch("h")
	defer cancel()

	ev := recv(t, events)
	require.Equal(t, backend.Added, ev.Kind)
	require.Equal(t, "1", ev.Key)

	var decoded struct {
		Users map[string]json.RawMessage `json:"users"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &decoded))
	require.Len(t, decoded.Users, 2)
}
