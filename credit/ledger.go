/*
ledger.go - Atomic, auditable credit balance operations

PURPOSE:
  The Ledger is the single mutation path for credit balances. It exposes
  three operations, each of which appends exactly one immutable
  transaction and moves the cached balance in the same atomic unit:

    Grant          +N BONUS       signup bonus, admin grant, refund
    Consume        -N CONSUMPTION one per sheet generation
    SettlePurchase +N PURCHASE    payment-confirmed webhook

CRITICAL INVARIANTS:
  1. balance == sum(history) at all times (verified by Audit)
  2. balance >= 0 at all times (conditional decrement in the store)
  3. at most one PURCHASE per settlement id (store uniqueness constraint)

IDEMPOTENCY:
  The payment processor delivers webhooks at least once. SettlePurchase
  tolerates duplicates by design: a replayed settlement id is a
  successful no-op, never an error and never a second credit.

COMPENSATION:
  The ledger has no cross-operation rollback. A caller whose downstream
  work fails after a successful Consume must issue a compensating Grant
  itself (see product.Generator).

SEE ALSO:
  - store.go: Atomicity contract delegated to the store
  - errors.go: Error taxonomy
*/
package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger provides atomic, auditable mutation of account balances.
// Safe for concurrent use; all coordination lives in the Store.
type Ledger struct {
	store Store

	// Overridable for deterministic tests.
	now   func() time.Time
	newID func() TransactionID
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() TransactionID { return TransactionID(uuid.NewString()) },
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Grant atomically increments the account balance by amount and appends
// a BONUS transaction. It never creates accounts: granting to an unknown
// id fails with ErrAccountNotFound.
func (l *Ledger) Grant(ctx context.Context, accountID AccountID, amount int64, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	tx := Transaction{
		ID:          l.newID(),
		AccountID:   accountID,
		Kind:        KindBonus,
		Amount:      amount,
		Description: description,
		CreatedAt:   l.now(),
	}
	if err := l.store.ApplyGrant(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Consume atomically checks balance >= amount, decrements, and appends a
// CONSUMPTION transaction with the amount negated. The check and the
// decrement are one atomic unit: two concurrent consumes against a
// balance of 1 yield exactly one success.
//
// On InsufficientCreditsError nothing was written; the caller must not
// proceed to the downstream costly work.
func (l *Ledger) Consume(ctx context.Context, accountID AccountID, amount int64, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	tx := Transaction{
		ID:          l.newID(),
		AccountID:   accountID,
		Kind:        KindConsumption,
		Amount:      -amount,
		Description: description,
		CreatedAt:   l.now(),
	}
	if err := l.store.ApplyConsume(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// SettlePurchase credits the account for a confirmed external payment.
// settlementID is the payment processor's idempotency key: any number of
// calls with the same id produce exactly one PURCHASE transaction and one
// balance increment. Replays return applied=false with no error.
func (l *Ledger) SettlePurchase(ctx context.Context, accountID AccountID, amount int64, description, settlementID string) (Transaction, bool, error) {
	if amount <= 0 {
		return Transaction{}, false, ErrInvalidAmount
	}
	if settlementID == "" {
		return Transaction{}, false, ErrInvalidAmount
	}

	tx := Transaction{
		ID:           l.newID(),
		AccountID:    accountID,
		Kind:         KindPurchase,
		Amount:       amount,
		Description:  description,
		SettlementID: settlementID,
		CreatedAt:    l.now(),
	}
	applied, err := l.store.ApplySettlement(ctx, tx)
	if err != nil {
		return Transaction{}, false, err
	}
	if !applied {
		return Transaction{}, false, nil
	}
	return tx, true, nil
}

// =============================================================================
// READS
// =============================================================================

// Balance returns the cached balance for the account.
func (l *Ledger) Balance(ctx context.Context, accountID AccountID) (int64, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, ErrAccountNotFound
	}
	return acct.Balance, nil
}

// Transactions returns the account's history, oldest first.
func (l *Ledger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	return l.store.Transactions(ctx, accountID)
}

// =============================================================================
// AUDIT - Verify the balance cache against the immutable log
// =============================================================================

// AuditReport compares an account's cached balance with the replayed sum
// of its transaction history.
type AuditReport struct {
	AccountID    AccountID `json:"account_id"`
	Cached       int64     `json:"cached_balance"`
	Replayed     int64     `json:"replayed_balance"`
	Transactions int       `json:"transactions"`
	Consistent   bool      `json:"consistent"`
}

// Audit recomputes the balance from the ledger and reports whether the
// cached balance agrees. A mismatch means an invariant was violated
// somewhere and deserves an alert, not an automatic repair.
func (l *Ledger) Audit(ctx context.Context, accountID AccountID) (AuditReport, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}
	if acct == nil {
		return AuditReport{}, ErrAccountNotFound
	}

	txs, err := l.store.Transactions(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}

	var sum int64
	for _, tx := range txs {
		sum += tx.Amount
	}

	return AuditReport{
		AccountID:    accountID,
		Cached:       acct.Balance,
		Replayed:     sum,
		Transactions: len(txs),
		Consistent:   acct.Balance == sum,
	}, nil
}
