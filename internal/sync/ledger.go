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

const ledgerStream = "ledger"

// Ledger maintains the live, deduplicated, ordered expense list of a
// household, join-enriched with each expense's creating user.
//
// It mirrors the roster algorithm but models all three child event kinds:
// add appends, change replaces the matching id in place, remove deletes it.
// Each event is fully applied before the list is re-emitted, so consumers
// never observe partial states. The creator join is a combine-latest coupling
// against the roster stream: whenever either the expense list or the roster
// changes, every entry's derived User field is re-resolved against the most
// recent roster sample, so it never goes stale while both streams are active.
type Ledger struct {
	client backend.Client
	roster *Roster
	path   string
	stream *Stream[[]models.Expense]
}

// NewLedger creates the ledger sync for a household, joined against the given
// roster. The expense subtree is marked for local caching.
func NewLedger(client backend.Client, roster *Roster, householdID string) *Ledger {
	l := &Ledger{
		client: client,
		roster: roster,
		path:   backend.ExpensesPath(householdID),
	}
	client.KeepSynced(l.path)
	l.stream = NewStream(ledgerStream, l.connect)
	return l
}

// Subscribe attaches a consumer to the shared ledger stream. Every emission
// is the full expense list after a change, in backend key order (push keys,
// i.e. creation order).
func (l *Ledger) Subscribe() (<-chan []models.Expense, func()) {
	return l.stream.Subscribe()
}

// Err returns the terminal error if the backend cancelled the subscription.
func (l *Ledger) Err() error {
	return l.stream.Err()
}

func (l *Ledger) connect(publish func([]models.Expense), fail func(error)) func() {
	events, cancelWatch := l.client.Watch(l.path)
	rosterCh, unsubRoster := l.roster.Subscribe()

	go l.run(events, rosterCh, publish, fail)

	return func() {
		cancelWatch()
		unsubRoster()
	}
}

// run is the single dispatch loop for the expense subtree. Cross-stream
// coordination with the roster happens by sampling its latest emission here,
// never by blocking on it.
func (l *Ledger) run(events <-chan backend.Event, rosterCh <-chan []models.User, publish func([]models.Expense), fail func(error)) {
	var expenses []models.Expense
	var roster []models.User
	loaded := false

	emit := func() {
		resolveCreators(expenses, roster)
		publish(slices.Clone(expenses))
	}

	apply := func(ev backend.Event) (done bool) {
		switch ev.Kind {
		case backend.Snapshot:
			expenses = expenses[:0]
			for _, child := range ev.Children {
				e, err := decodeExpense(child.Key, child.Data)
				if err != nil {
					slog.Warn("ledger: skipping undecodable expense", "key", child.Key, "error", err)
					continue
				}
				expenses = append(expenses, e)
			}
			loaded = true
			metrics.EventsApplied.WithLabelValues(ledgerStream, backend.Snapshot.String()).Inc()
			emit()
		case backend.Added:
			if !loaded {
				metrics.EventsSuppressed.WithLabelValues(ledgerStream).Inc()
				slog.Debug("ledger: suppressed pre-snapshot add", "key", ev.Key)
				return false
			}
			e, err := decodeExpense(ev.Key, ev.Data)
			if err != nil {
				slog.Warn("ledger: skipping undecodable expense", "key", ev.Key, "error", err)
				return false
			}
			expenses = append(expenses, e)
			metrics.EventsApplied.WithLabelValues(ledgerStream, backend.Added.String()).Inc()
			emit()
		case backend.Changed:
			i := indexByID(expenses, ev.Key)
			if i < 0 {
				// Documented no-op: the id is not in the working list.
				metrics.EventsIgnored.WithLabelValues(ledgerStream, backend.Changed.String()).Inc()
				slog.Debug("ledger: change for unknown expense", "key", ev.Key)
				return false
			}
			e, err := decodeExpense(ev.Key, ev.Data)
			if err != nil {
				slog.Warn("ledger: skipping undecodable expense", "key", ev.Key, "error", err)
				return false
			}
			expenses[i] = e
			metrics.EventsApplied.WithLabelValues(ledgerStream, backend.Changed.String()).Inc()
			emit()
		case backend.Removed:
			i := indexByID(expenses, ev.Key)
			if i < 0 {
				metrics.EventsIgnored.WithLabelValues(ledgerStream, backend.Removed.String()).Inc()
				slog.Debug("ledger: remove for unknown expense", "key", ev.Key)
				return false
			}
			expenses = slices.Delete(expenses, i, i+1)
			metrics.EventsApplied.WithLabelValues(ledgerStream, backend.Removed.String()).Inc()
			emit()
		case backend.Cancelled:
			slog.Warn("ledger: subscription cancelled", "path", l.path, "error", ev.Err)
			fail(ev.Err)
			return true
		}
		return false
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if apply(ev) {
				return
			}
		case users, ok := <-rosterCh:
			if !ok {
				// Roster stream ended; keep serving the ledger with the
				// last sampled roster.
				rosterCh = nil
				continue
			}
			roster = users
			if loaded {
				emit()
			}
		}
	}
}

// resolveCreators recomputes the derived User field of every expense against
// the given roster sample. An expense's User is set if and only if a roster
// entry matches its Creator id.
func resolveCreators(expenses []models.Expense, roster []models.User) {
	byID := make(map[string]models.User, len(roster))
	for _, u := range roster {
		byID[u.ID] = u
	}
	for i := range expenses {
		if u, ok := byID[expenses[i].Creator]; ok {
			expenses[i].User = &u
		} else {
			expenses[i].User = nil
		}
	}
}

func indexByID(expenses []models.Expense, id string) int {
	return slices.IndexFunc(expenses, func(e models.Expense) bool { return e.ID == id })
}

func decodeExpense(key string, data json.RawMessage) (models.Expense, error) {
	var e models.Expense
	if err := json.Unmarshal(data, &e); err != nil {
		return models.Expense{}, fmt.Errorf("decode expense %s: %w", key, err)
	}
	e.ID = key
	return e, nil
}
