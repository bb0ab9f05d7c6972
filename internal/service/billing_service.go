package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/models"
	"github.com/mmynk/homeledger/internal/session"
)

// BillingService appends billing records under the current household.
type BillingService struct {
	client   backend.Client
	sessions session.Store
}

// NewBillingService creates a BillingService.
func NewBillingService(client backend.Client, sessions session.Store) *BillingService {
	return &BillingService{client: client, sessions: sessions}
}

// SaveBilling allocates a push id under the household's billing subtree and
// writes the full record.
func (s *BillingService) SaveBilling(ctx context.Context, billing models.Billing) (*models.Billing, error) {
	state, err := s.sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	if state.HouseholdID == "" {
		return nil, ErrNoHousehold
	}

	billing.ID = s.client.Push(backend.BillingPath(state.HouseholdID))
	if err := s.client.Set(ctx, backend.BillingEntryPath(state.HouseholdID, billing.ID), billing); err != nil {
		return nil, fmt.Errorf("failed to persist billing record: %w", err)
	}
	slog.Info("billing recorded", "billing_id", billing.ID, "month", billing.Month)
	return &billing, nil
}
