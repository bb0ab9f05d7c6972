// Package calculator computes household balances from the synced ledger:
// who paid what, who owes what, and a minimal set of settlement transfers.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/homeledger/internal/models"
)

// MemberBalance is the balance information for one household member.
type MemberBalance struct {
	UserID string
	Name   string
	Paid   decimal.Decimal // total amount this member paid
	Owed   decimal.Decimal // total share this member owes
	Net    decimal.Decimal // Paid - Owed; positive = is owed money
}

// Transfer is a suggested settlement payment from one member to another.
type Transfer struct {
	From   string // user id of the member who owes
	To     string // user id of the member who is owed
	Amount decimal.Decimal
}

// Balances aggregates the ledger into per-member balances. Every expense is
// paid in full by its creator and split equally among all roster members;
// billing records shift balance from debtor to creditor. Members are returned
// in roster order; expenses created by someone no longer on the roster still
// count toward the splits.
func Balances(expenses []models.Expense, roster []models.User, billings []models.Billing) []MemberBalance {
	if len(roster) == 0 {
		return nil
	}

	byID := make(map[string]*MemberBalance, len(roster))
	ordered := make([]*MemberBalance, 0, len(roster))
	for _, u := range roster {
		mb := &MemberBalance{UserID: u.ID, Name: u.Name}
		byID[u.ID] = mb
		ordered = append(ordered, mb)
	}

	members := decimal.NewFromInt(int64(len(roster)))
	for _, e := range expenses {
		if payer, ok := byID[e.Creator]; ok {
			payer.Paid = payer.Paid.Add(e.Amount)
		}
		share := e.Amount.DivRound(members, 2)
		for _, mb := range ordered {
			mb.Owed = mb.Owed.Add(share)
		}
	}

	for _, b := range billings {
		if debtor, ok := byID[b.Debtor]; ok {
			debtor.Paid = debtor.Paid.Add(b.Amount)
		}
		if creditor, ok := byID[b.Creditor]; ok {
			creditor.Owed = creditor.Owed.Add(b.Amount)
		}
	}

	out := make([]MemberBalance, 0, len(ordered))
	for _, mb := range ordered {
		mb.Net = mb.Paid.Sub(mb.Owed)
		out = append(out, *mb)
	}
	return out
}

// Settle reduces the balances to a small set of transfers using greedy
// matching: the largest debtor pays the largest creditor until one of them is
// even. Residue below a cent is dropped.
func Settle(balances []MemberBalance) []Transfer {
	cent := decimal.New(1, -2)

	var debtors, creditors []MemberBalance
	for _, mb := range balances {
		switch {
		case mb.Net.LessThan(cent.Neg()):
			debtors = append(debtors, mb)
		case mb.Net.GreaterThan(cent):
			creditors = append(creditors, mb)
		}
	}
	sort.Slice(debtors, func(i, j int) bool { return debtors[i].Net.LessThan(debtors[j].Net) })
	sort.Slice(creditors, func(i, j int) bool { return creditors[i].Net.GreaterThan(creditors[j].Net) })

	var transfers []Transfer
	i, j := 0, 0
	owe := make([]decimal.Decimal, len(debtors))
	due := make([]decimal.Decimal, len(creditors))
	for k, d := range debtors {
		owe[k] = d.Net.Neg()
	}
	for k, c := range creditors {
		due[k] = c.Net
	}

	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(owe[i], due[j])
		if amount.GreaterThan(cent) {
			transfers = append(transfers, Transfer{
				From:   debtors[i].UserID,
				To:     creditors[j].UserID,
				Amount: amount,
			})
		}
		owe[i] = owe[i].Sub(amount)
		due[j] = due[j].Sub(amount)
		if owe[i].LessThan(cent) {
			i++
		}
		if due[j].LessThan(cent) {
			j++
		}
	}
	return transfers
}
