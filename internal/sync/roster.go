package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/metrics"
	"github.com/mmynk/homeledger/internal/models"
)

const rosterStream = "roster"

// Roster maintains the live, deduplicated member list of a household.
//
// The subscription replays existing children on attach and then delivers a
// snapshot marker carrying the same children, so incremental add events seen
// before the snapshot are suppressed; the snapshot covers them. Only after
// the snapshot has been applied do add events append to the working list.
// The roster is effectively append-only, so child change/remove events are
// not modeled.
type Roster struct {
	client backend.Client
	path   string
	stream *Stream[[]models.User]
}

// NewRoster creates the roster sync for a household. The roster subtree is
// marked for local caching so it stays available offline.
func NewRoster(client backend.Client, householdID string) *Roster {
	r := &Roster{
		client: client,
		path:   backend.UsersPath(householdID),
	}
	client.KeepSynced(r.path)
	r.stream = NewStream(rosterStream, r.connect)
	return r
}

// Subscribe attaches a consumer to the shared roster stream. Every emission
// is the full roster after a change. The single underlying backend
// subscription serves all subscribers; it is attached on the first subscribe
// and detached on the last cancel.
func (r *Roster) Subscribe() (<-chan []models.User, func()) {
	return r.stream.Subscribe()
}

// Latest returns the most recent roster snapshot, if the stream is active
// and has emitted.
func (r *Roster) Latest() ([]models.User, bool) {
	return r.stream.Latest()
}

// Err returns the terminal error if the backend cancelled the subscription.
func (r *Roster) Err() error {
	return r.stream.Err()
}

func (r *Roster) connect(publish func([]models.User), fail func(error)) func() {
	events, cancelWatch := r.client.Watch(r.path)
	go r.run(events, publish, fail)
	return cancelWatch
}

// run is the single dispatch loop for the roster subtree. All event kinds
// (the one-shot snapshot, incremental children, cancellation) arrive on one
// channel, and all list mutation happens here, so no locking is needed
// around the working slice.
func (r *Roster) run(events <-chan backend.Event, publish func([]models.User), fail func(error)) {
	var users []models.User
	loaded := false

	apply := func(ev backend.Event) (done bool) {
		switch ev.Kind {
		case backend.Snapshot:
			users = users[:0]
			for _, child := range ev.Children {
				u, err := decodeUser(child.Key, child.Data)
				if err != nil {
					slog.Warn("roster: skipping undecodable member", "key", child.Key, "error", err)
					continue
				}
				users = append(users, u)
			}
			loaded = true
			metrics.EventsApplied.WithLabelValues(rosterStream, backend.Snapshot.String()).Inc()
			publish(slices.Clone(users))
		case backend.Added:
			if !loaded {
				// Already covered by the pending snapshot.
				metrics.EventsSuppressed.WithLabelValues(rosterStream).Inc()
				slog.Debug("roster: suppressed pre-snapshot add", "key", ev.Key)
				return false
			}
			u, err := decodeUser(ev.Key, ev.Data)
			if err != nil {
				slog.Warn("roster: skipping undecodable member", "key", ev.Key, "error", err)
				return false
			}
			users = append(users, u)
			metrics.EventsApplied.WithLabelValues(rosterStream, backend.Added.String()).Inc()
			publish(slices.Clone(users))
		case backend.Cancelled:
			slog.Warn("roster: subscription cancelled", "path", r.path, "error", ev.Err)
			fail(ev.Err)
			return true
		}
		return false
	}

	for ev := range events {
		if apply(ev) {
			return
		}
	}
}

func decodeUser(key string, data json.RawMessage) (models.User, error) {
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil {
		return models.User{}, fmt.Errorf("decode user %s: %w", key, err)
	}
	u.ID = key
	return u, nil
}
