package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/backend/memdb"
	"github.com/mmynk/homeledger/internal/models"
)

func TestRosterSnapshotSuppressesReplayedAdds(t *testing.T) {
	client := newScriptClient()
	roster := NewRoster(client, "h1")
	path := backend.UsersPath("h1")

	ch, cancel := roster.Subscribe()
	defer cancel()

	// The replayed add arrives before the snapshot that covers it. Applying
	// both would double-count u1; the first emission must be the snapshot.
	client.send(t, path, backend.Event{
		Kind: backend.Added,
		Key:  "u1",
		Data: mustJSON(t, models.User{Name: "Ada", Email: "ada@example.com"}),
	})
	client.send(t, path, backend.Event{
		Kind: backend.Snapshot,
		Children: []backend.Child{
			{Key: "u1", Data: mustJSON(t, models.User{Name: "Ada", Email: "ada@example.com"})},
			{Key: "u2", Data: mustJSON(t, models.User{Name: "Bob", Email: "bob@example.com"})},
		},
	})

	users := recvEmission(t, ch)
	require.Len(t, users, 2)
	require.Equal(t, "u1", users[0].ID)
	require.Equal(t, "Ada", users[0].Name)
	require.Equal(t, "u2", users[1].ID)

	// Adds after the snapshot append.
	client.send(t, path, backend.Event{
		Kind: backend.Added,
		Key:  "u3",
		Data: mustJSON(t, models.User{Name: "Cleo", Email: "cleo@example.com"}),
	})
	users = recvEmission(t, ch)
	require.Len(t, users, 3)
	require.Equal(t, "u3", users[2].ID)
}

func TestRosterSkipsUndecodableMember(t *testing.T) {
	client := newScriptClient()
	roster := NewRoster(client, "h1")
	path := backend.UsersPath("h1")

	ch, cancel := roster.Subscribe()
	defer cancel()

	client.send(t, path, backend.Event{Kind: backend.Snapshot})
	require.Empty(t, recvEmission(t, ch))

	client.send(t, path, backend.Event{Kind: backend.Added, Key: "bad", Data: []byte("{")})
	client.send(t, path, backend.Event{
		Kind: backend.Added,
		Key:  "u1",
		Data: mustJSON(t, models.User{Name: "Ada"}),
	})

	// The undecodable record is dropped, not emitted and not fatal.
	users := recvEmission(t, ch)
	require.Len(t, users, 1)
	require.Equal(t, "u1", users[0].ID)
}

func TestRosterCancellation(t *testing.T) {
	client := newScriptClient()
	roster := NewRoster(client, "h1")
	path := backend.UsersPath("h1")

	ch, cancel := roster.Subscribe()
	defer cancel()

	client.send(t, path, backend.Event{Kind: backend.Snapshot})
	recvEmission(t, ch)

	upstreamErr := errors.New("listener detached")
	client.send(t, path, backend.Event{Kind: backend.Cancelled, Err: upstreamErr})

	recvEmissionClosed(t, ch)
	require.ErrorIs(t, roster.Err(), upstreamErr)
}

func TestRosterKeepSynced(t *testing.T) {
	client := newScriptClient()
	NewRoster(client, "h1")

	client.mu.Lock()
	defer client.mu.Unlock()
	require.True(t, client.kept[backend.UsersPath("h1")])
}

func TestRosterAgainstMemdb(t *testing.T) {
	db := memdb.New()
	ctx := context.Background()

	ada := models.User{Name: "Ada", Email: "ada@example.com"}
	bob := models.User{Name: "Bob", Email: "bob@example.com"}
	require.NoError(t, db.Set(ctx, backend.UserPath("h1", "u1"), ada))
	require.NoError(t, db.Set(ctx, backend.UserPath("h1", "u2"), bob))

	roster := NewRoster(db, "h1")
	ch, cancel := roster.Subscribe()
	defer cancel()

	// One emission with both pre-existing members, never a partial roster.
	users := recvEmission(t, ch)
	require.Len(t, users, 2)
	require.Equal(t, "Ada", users[0].Name)
	require.Equal(t, "Bob", users[1].Name)

	latest, ok := roster.Latest()
	require.True(t, ok)
	require.Len(t, latest, 2)

	// A member joining after attach appends.
	cleo := models.User{Name: "Cleo", Email: "cleo@example.com"}
	require.NoError(t, db.Set(ctx, backend.UserPath("h1", "u3"), cleo))
	users = recvEmission(t, ch)
	require.Len(t, users, 3)
	require.Equal(t, "u3", users[2].ID)

	require.True(t, db.KeptSynced(backend.UsersPath("h1")))
}

func TestRosterClosedBackend(t *testing.T) {
	db := memdb.New()
	roster := NewRoster(db, "h1")

	ch, cancel := roster.Subscribe()
	defer cancel()
	recvEmission(t, ch) // empty snapshot

	require.NoError(t, db.Close())
	recvEmissionClosed(t, ch)
	require.ErrorIs(t, roster.Err(), memdb.ErrClosed)
}
