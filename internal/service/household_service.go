package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/identity"
	"github.com/mmynk/homeledger/internal/models"
	"github.com/mmynk/homeledger/internal/session"
)

// HouseholdService creates households and registers memberships. A completed
// join durably records the current household and user ids in the session
// store; the sync components depend on those for subtree addressing.
type HouseholdService struct {
	client   backend.Client
	identity identity.Provider
	sessions session.Store
}

// NewHouseholdService creates a HouseholdService.
func NewHouseholdService(client backend.Client, provider identity.Provider, sessions session.Store) *HouseholdService {
	return &HouseholdService{
		client:   client,
		identity: provider,
		sessions: sessions,
	}
}

// CreateHousehold persists a new household from the draft's name and secret.
// The creator is the current principal's email; the id is a fresh push key;
// the secret is stored as a bcrypt hash. The populated household is returned
// with the hashed secret.
func (s *HouseholdService) CreateHousehold(ctx context.Context, draft models.Household) (*models.Household, error) {
	principal, ok := s.identity.CurrentPrincipal()
	if !ok {
		return nil, ErrNotSignedIn
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(draft.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash household secret: %w", err)
	}

	household := models.Household{
		ID:      s.client.Push(backend.HouseholdsPath),
		Name:    draft.Name,
		Creator: principal.Email,
		Secret:  string(hash),
	}
	if err := s.client.Set(ctx, backend.HouseholdPath(household.ID), household); err != nil {
		return nil, fmt.Errorf("failed to persist household: %w", err)
	}

	slog.Info("household created", "household_id", household.ID, "name", household.Name)
	return &household, nil
}

// JoinHousehold registers the current principal as a member of the household,
// provided the supplied secret matches. The stored secret is fetched fresh
// from the backend, never trusted from a caller-held copy. On success the
// new membership and household ids become the current session state.
func (s *HouseholdService) JoinHousehold(ctx context.Context, householdID, secret string) (*models.User, error) {
	principal, ok := s.identity.CurrentPrincipal()
	if !ok {
		return nil, ErrNotSignedIn
	}

	data, err := s.client.Get(ctx, backend.HouseholdPath(householdID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch household: %w", err)
	}
	if data == nil {
		return nil, ErrNoSuchHousehold
	}
	var household models.Household
	if err := json.Unmarshal(data, &household); err != nil {
		return nil, fmt.Errorf("failed to decode household: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(household.Secret), []byte(secret)) != nil {
		return nil, ErrInvalidSecret
	}

	user := models.User{
		ID:    s.client.Push(backend.UsersPath(householdID)),
		Name:  principal.DisplayName,
		Email: principal.Email,
	}
	if err := s.client.Set(ctx, backend.UserPath(householdID, user.ID), user); err != nil {
		return nil, fmt.Errorf("failed to register membership: %w", err)
	}

	state := session.State{UserID: user.ID, HouseholdID: householdID}
	if err := s.sessions.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save session state: %w", err)
	}

	slog.Info("household joined", "household_id", householdID, "user_id", user.ID)
	return &user, nil
}

// JoinHouseholdByMail looks up the household whose creator email equals email
// (there is at most one; creator is an indexed field) and performs the same
// secret-checked join.
func (s *HouseholdService) JoinHouseholdByMail(ctx context.Context, email, secret string) (*models.User, error) {
	matches, err := s.client.Query(ctx, backend.HouseholdsPath, "creator", email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up household by creator: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoSuchHousehold
	}
	return s.JoinHousehold(ctx, matches[0].Key, secret)
}
