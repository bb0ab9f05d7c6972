// Package models defines the core domain models for Homeledger.
//
// # Models
//
//   - User: a household member, keyed by a backend-issued id
//   - Household: a shared expense-tracking group with a join secret
//   - Expense: a single ledger entry, join-enriched with its creating User
//   - Billing: an append-only settlement record between two members
//
// # Design Principles
//
//  1. Ids are backend push keys, never client-chosen.
//  2. Amounts are decimal.Decimal, never floats.
//  3. Derived fields (Expense.User) are transient and excluded from
//     serialization; they are recomputed by the sync layer, not persisted.
//  4. Relationships use id strings instead of pointers to avoid circular
//     references in the persisted tree.
package models
