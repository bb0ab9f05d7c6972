// Package session persists the local session state: which household and
// which membership the app is currently operating as. Both ids are required
// for subtree-scoped reads, so the membership workflow must have resolved
// them before the sync components can attach.
package session

import "context"

// State holds the durable session values.
type State struct {
	// UserID is the backend-issued id of the current membership record.
	UserID string

	// HouseholdID is the backend-issued id of the current household.
	HouseholdID string
}

// Store persists session state across process restarts.
type Store interface {
	// Load returns the stored state. Missing values are empty strings.
	Load(ctx context.Context) (State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state State) error

	// Close releases any resources held by the store.
	Close() error
}

// Memory is an in-process Store for tests.
type Memory struct {
	state State
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context) (State, error) {
	return m.state, nil
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, state State) error {
	m.state = state
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
