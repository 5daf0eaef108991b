/*
types.go - Core data model for the credit ledger

PURPOSE:
  Defines the two durable entities of the credit system:
  - Account: a merchant with a cached credit balance
  - Transaction: an immutable ledger entry recording one balance change

THE BALANCE IS A CACHE:
  Account.Balance is a materialized sum of the account's transaction
  history. It exists so that "can this user generate a sheet?" is a
  single row read, but it is only ever mutated in the same atomic unit
  as a ledger append. Audit() in ledger.go verifies the two agree.

TRANSACTION KINDS:
  PURCHASE     Credits bought through the payment processor (+N)
  CONSUMPTION  One product-sheet generation (-N, typically -1)
  BONUS        Signup bonus, admin grant, or compensating refund (+N)

SEE ALSO:
  - ledger.go: The only code path allowed to mutate these entities
  - store.go: Persistence interface
*/
package credit

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is the opaque user identifier issued by the identity provider.
type AccountID string

// TransactionID uniquely identifies a ledger entry.
type TransactionID string

// Kind classifies a ledger entry.
type Kind string

const (
	KindPurchase    Kind = "PURCHASE"
	KindConsumption Kind = "CONSUMPTION"
	KindBonus       Kind = "BONUS"
)

// Role controls access to the admin endpoints.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// =============================================================================
// ENTITIES
// =============================================================================

// Account holds a merchant's identity and cached credit balance.
//
// INVARIANT: Balance == sum of all Transaction.Amount for this account.
// INVARIANT: Balance >= 0 at all times.
//
// Balance is never overwritten directly; it only moves through the
// ledger operations in ledger.go.
type Account struct {
	ID        AccountID
	Email     string
	Name      string
	Role      Role
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the account may call admin endpoints.
func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

// Transaction is one immutable entry in an account's credit history.
//
// INVARIANT: Append-only. No update, no delete. Corrections are made by
// appending a compensating entry of the opposite sign.
//
// SettlementID is the payment processor's idempotency key. It is set
// only on PURCHASE entries created by SettlePurchase, and at most one
// PURCHASE entry may exist per distinct SettlementID (enforced by a
// uniqueness constraint in the store).
type Transaction struct {
	ID           TransactionID
	AccountID    AccountID
	Kind         Kind
	Amount       int64 // signed: positive for grants/purchases, negative for consumption
	Description  string
	SettlementID string
	CreatedAt    time.Time
}
