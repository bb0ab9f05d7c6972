package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/identity"
	"github.com/mmynk/homeledger/internal/models"
	"github.com/mmynk/homeledger/internal/session"
	livesync "github.com/mmynk/homeledger/internal/sync"
)

// ExpenseService is the mutation gateway for the expense ledger. Reads of the
// live ledger go through sync.Ledger; this service covers writes and the
// one-shot single-expense fetch.
type ExpenseService struct {
	client   backend.Client
	identity identity.Provider
	sessions session.Store
	roster   *livesync.Roster
}

// NewExpenseService creates an ExpenseService. roster may be nil; then
// FindExpenseBy returns expenses without creator enrichment.
func NewExpenseService(client backend.Client, provider identity.Provider, sessions session.Store, roster *livesync.Roster) *ExpenseService {
	return &ExpenseService{
		client:   client,
		identity: provider,
		sessions: sessions,
		roster:   roster,
	}
}

// SaveExpense creates or updates an expense. Without an id it is a create:
// creator and creator name are stamped from the current session and
// principal, a push key is allocated, and the full record is written. With
// an id it is an update: only the mutable fields are merged, never a full
// overwrite.
func (s *ExpenseService) SaveExpense(ctx context.Context, expense models.Expense) (*models.Expense, error) {
	state, err := s.sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	if state.HouseholdID == "" {
		return nil, ErrNoHousehold
	}

	if expense.ID == "" {
		principal, ok := s.identity.CurrentPrincipal()
		if !ok {
			return nil, ErrNotSignedIn
		}
		expense.Creator = state.UserID
		expense.CreatorName = principal.DisplayName
		expense.ID = s.client.Push(backend.ExpensesPath(state.HouseholdID))
		if err := s.client.Set(ctx, backend.ExpensePath(state.HouseholdID, expense.ID), expense); err != nil {
			return nil, fmt.Errorf("failed to create expense: %w", err)
		}
		slog.Info("expense created", "expense_id", expense.ID, "cause", expense.Cause)
		return &expense, nil
	}

	fields := map[string]any{
		"amount":      expense.Amount,
		"cause":       expense.Cause,
		"creator":     expense.Creator,
		"creatorName": expense.CreatorName,
	}
	if err := s.client.Update(ctx, backend.ExpensePath(state.HouseholdID, expense.ID), fields); err != nil {
		return nil, fmt.Errorf("failed to update expense: %w", err)
	}
	slog.Info("expense updated", "expense_id", expense.ID)
	return &expense, nil
}

// DeleteExpense removes the expense with the given id. It reports success
// only once the backend has acknowledged the remove, matching
// DeleteExpenses.
func (s *ExpenseService) DeleteExpense(ctx context.Context, expenseID string) error {
	state, err := s.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if state.HouseholdID == "" {
		return ErrNoHousehold
	}
	if err := s.client.Remove(ctx, backend.ExpensePath(state.HouseholdID, expenseID)); err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	slog.Info("expense deleted", "expense_id", expenseID)
	return nil
}

// DeleteExpenses removes the household's entire expense subtree.
func (s *ExpenseService) DeleteExpenses(ctx context.Context) error {
	state, err := s.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if state.HouseholdID == "" {
		return ErrNoHousehold
	}
	if err := s.client.Remove(ctx, backend.ExpensesPath(state.HouseholdID)); err != nil {
		return fmt.Errorf("failed to delete expenses: %w", err)
	}
	slog.Info("all expenses deleted", "household_id", state.HouseholdID)
	return nil
}

// FindExpenseBy fetches a single expense by id, enriched with its creator
// from the latest roster snapshot. A miss or backend error resolves to
// ErrNoExpenseFound; it is never an empty success.
func (s *ExpenseService) FindExpenseBy(ctx context.Context, expenseID string) (*models.Expense, error) {
	state, err := s.sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	if state.HouseholdID == "" {
		return nil, ErrNoHousehold
	}

	data, err := s.client.Get(ctx, backend.ExpensePath(state.HouseholdID, expenseID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoExpenseFound, err)
	}
	if data == nil {
		return nil, ErrNoExpenseFound
	}
	var expense models.Expense
	if err := json.Unmarshal(data, &expense); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoExpenseFound, err)
	}
	expense.ID = expenseID

	if s.roster != nil {
		if users, ok := s.roster.Latest(); ok {
			for _, u := range users {
				if u.ID == expense.Creator {
					expense.User = &u
					break
				}
			}
		}
	}
	return &expense, nil
}
