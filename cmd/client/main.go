// Command client is a small CLI for the homeledger realtime backend. It talks
// the wire protocol to a running server (see cmd/server), keeps its session
// state in a local SQLite file, and exposes the membership, expense and
// billing operations plus a live ledger view.
//
// Identity comes from the environment: either TOKEN and TOKEN_SECRET (a JWT
// minted by the auth provider) or USER_NAME and USER_EMAIL for local use.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/backend/remote"
	"github.com/mmynk/homeledger/internal/calculator"
	"github.com/mmynk/homeledger/internal/identity"
	"github.com/mmynk/homeledger/internal/models"
	"github.com/mmynk/homeledger/internal/service"
	"github.com/mmynk/homeledger/internal/session"
	livesync "github.com/mmynk/homeledger/internal/sync"
	"github.com/mmynk/homeledger/pkg/logging"
)

const usage = `usage: client <command> [flags]

commands:
  create-household  -name NAME -secret SECRET
  join              -household ID -secret SECRET
  join-by-mail      -email EMAIL -secret SECRET
  add-expense       -amount AMOUNT -cause CAUSE
  delete-expense    -id ID
  expenses          [-follow]
  balances
  bill              -month 2006-01 -amount AMOUNT -debtor ID -creditor ID

environment:
  SERVER_URL    wire server endpoint (default ws://localhost:8080/ws)
  DATA_DIR      session state directory (default ~/.homeledger)
  TOKEN         identity JWT, validated against TOKEN_SECRET
  USER_NAME     display name when no TOKEN is set
  USER_EMAIL    email when no TOKEN is set
`

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

type app struct {
	client     *remote.Client
	sessions   session.Store
	households *service.HouseholdService
	expenses   *service.ExpenseService
	billing    *service.BillingService
}

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	a, cleanup, err := setup(ctx)
	if err != nil {
		slog.Error("setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, service.UserMessage(err))
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*app, func(), error) {
	provider, err := providerFromEnv()
	if err != nil {
		return nil, nil, err
	}

	dataDir := getEnv("DATA_DIR", defaultDataDir())
	sessions, err := session.NewSQLite(filepath.Join(dataDir, "session.db"))
	if err != nil {
		return nil, nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := remote.Dial(dialCtx, getEnv("SERVER_URL", "ws://localhost:8080/ws"))
	if err != nil {
		sessions.Close()
		return nil, nil, err
	}

	a := &app{
		client:     client,
		sessions:   sessions,
		households: service.NewHouseholdService(client, provider, sessions),
		billing:    service.NewBillingService(client, sessions),
	}
	a.expenses = service.NewExpenseService(client, provider, sessions, nil)

	cleanup := func() {
		client.Close()
		sessions.Close()
	}
	return a, cleanup, nil
}

func providerFromEnv() (identity.Provider, error) {
	if token := os.Getenv("TOKEN"); token != "" {
		return identity.NewTokenProvider(token, []byte(os.Getenv("TOKEN_SECRET")))
	}
	name, email := os.Getenv("USER_NAME"), os.Getenv("USER_EMAIL")
	if name == "" || email == "" {
		return nil, fmt.Errorf("set TOKEN or USER_NAME and USER_EMAIL")
	}
	return &identity.Static{
		Principal: identity.Principal{DisplayName: name, Email: email},
		SignedIn:  true,
	}, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".homeledger"
	}
	return filepath.Join(home, ".homeledger")
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "create-household":
		return a.createHousehold(ctx, args)
	case "join":
		return a.join(ctx, args)
	case "join-by-mail":
		return a.joinByMail(ctx, args)
	case "add-expense":
		return a.addExpense(ctx, args)
	case "delete-expense":
		return a.deleteExpense(ctx, args)
	case "expenses":
		return a.listExpenses(ctx, args)
	case "balances":
		return a.balances(ctx)
	case "bill":
		return a.bill(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) createHousehold(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-household", flag.ExitOnError)
	name := fs.String("name", "", "household name")
	secret := fs.String("secret", "", "join secret")
	fs.Parse(args)

	household, err := a.households.CreateHousehold(ctx, models.Household{Name: *name, Secret: *secret})
	if err != nil {
		return err
	}
	fmt.Printf("created household %s (%s)\n", household.Name, household.ID)
	return nil
}

func (a *app) join(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	householdID := fs.String("household", "", "household id")
	secret := fs.String("secret", "", "join secret")
	fs.Parse(args)

	user, err := a.households.JoinHousehold(ctx, *householdID, *secret)
	if err != nil {
		return err
	}
	fmt.Printf("joined as %s (%s)\n", user.Name, user.ID)
	return nil
}

func (a *app) joinByMail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("join-by-mail", flag.ExitOnError)
	email := fs.String("email", "", "household creator email")
	secret := fs.String("secret", "", "join secret")
	fs.Parse(args)

	user, err := a.households.JoinHouseholdByMail(ctx, *email, *secret)
	if err != nil {
		return err
	}
	fmt.Printf("joined as %s (%s)\n", user.Name, user.ID)
	return nil
}

func (a *app) addExpense(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-expense", flag.ExitOnError)
	amount := fs.String("amount", "", "expense amount")
	cause := fs.String("cause", "", "what the money was spent on")
	fs.Parse(args)

	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", *amount, err)
	}
	expense, err := a.expenses.SaveExpense(ctx, models.Expense{Amount: value, Cause: *cause})
	if err != nil {
		return err
	}
	fmt.Printf("recorded %s for %s (%s)\n", expense.Amount, expense.Cause, expense.ID)
	return nil
}

func (a *app) deleteExpense(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete-expense", flag.ExitOnError)
	id := fs.String("id", "", "expense id")
	fs.Parse(args)

	if err := a.expenses.DeleteExpense(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", *id)
	return nil
}

// listExpenses prints the live ledger: the current list once, or every
// emission with -follow.
func (a *app) listExpenses(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("expenses", flag.ExitOnError)
	follow := fs.Bool("follow", false, "keep printing the list on every change")
	fs.Parse(args)

	state, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if state.HouseholdID == "" {
		return service.ErrNoHousehold
	}

	roster := livesync.NewRoster(a.client, state.HouseholdID)
	ledger := livesync.NewLedger(a.client, roster, state.HouseholdID)
	emissions, cancel := ledger.Subscribe()
	defer cancel()

	for expenses := range emissions {
		printExpenses(expenses)
		if !*follow {
			return nil
		}
	}
	return ledger.Err()
}

func printExpenses(expenses []models.Expense) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAMOUNT\tCAUSE\tCREATOR")
	for _, e := range expenses {
		creator := e.CreatorName
		if e.Resolved() {
			creator = e.User.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Amount, e.Cause, creator)
	}
	w.Flush()
}

func (a *app) balances(ctx context.Context) error {
	state, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if state.HouseholdID == "" {
		return service.ErrNoHousehold
	}

	roster := livesync.NewRoster(a.client, state.HouseholdID)
	ledger := livesync.NewLedger(a.client, roster, state.HouseholdID)

	users, unsubUsers := roster.Subscribe()
	defer unsubUsers()
	emissions, cancel := ledger.Subscribe()
	defer cancel()

	members, ok := <-users
	if !ok {
		return roster.Err()
	}
	expenses, ok := <-emissions
	if !ok {
		return ledger.Err()
	}

	billings, err := a.loadBillings(ctx, state.HouseholdID)
	if err != nil {
		return err
	}

	balances := calculator.Balances(expenses, members, billings)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MEMBER\tPAID\tOWED\tNET")
	for _, mb := range balances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mb.Name, mb.Paid, mb.Owed, mb.Net)
	}
	w.Flush()

	for _, tr := range calculator.Settle(balances) {
		fmt.Printf("settle: %s pays %s %s\n", tr.From, tr.To, tr.Amount)
	}
	return nil
}

func (a *app) loadBillings(ctx context.Context, householdID string) ([]models.Billing, error) {
	children, err := a.client.GetChildren(ctx, backend.BillingPath(householdID))
	if err != nil {
		return nil, err
	}
	billings := make([]models.Billing, 0, len(children))
	for _, child := range children {
		var b models.Billing
		if err := json.Unmarshal(child.Data, &b); err != nil {
			slog.Warn("skipping undecodable billing record", "key", child.Key, "error", err)
			continue
		}
		b.ID = child.Key
		billings = append(billings, b)
	}
	return billings, nil
}

func (a *app) bill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bill", flag.ExitOnError)
	month := fs.String("month", time.Now().Format("2006-01"), "accounting month")
	amount := fs.String("amount", "", "payment amount")
	debtor := fs.String("debtor", "", "paying member's user id")
	creditor := fs.String("creditor", "", "receiving member's user id")
	fs.Parse(args)

	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", *amount, err)
	}
	billing, err := a.billing.SaveBilling(ctx, models.Billing{
		Month:    *month,
		Amount:   value,
		Debtor:   *debtor,
		Creditor: *creditor,
	})
	if err != nil {
		return err
	}
	fmt.Printf("recorded settlement %s: %s -> %s (%s)\n", billing.Amount, billing.Debtor, billing.Creditor, billing.ID)
	return nil
}
