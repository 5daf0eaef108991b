/*
store.go - Persistence interface for the credit ledger

PURPOSE:
  Defines the storage contract the ledger runs on. Each Apply* method is
  one atomic unit: the balance mutation and the transaction insert either
  both commit or neither does. The ledger itself holds no in-process
  mutable state; all coordination is delegated to the store's
  transactional guarantees.

IMPLEMENTATIONS:
  store/sqlite: Production store (SQLite, WAL mode, conditional updates)
  store/memory: In-memory store for tests, with fault injection

ATOMICITY CONTRACT:
  ApplyConsume must execute the balance check and the decrement as a
  single atomic unit (conditional UPDATE ... WHERE balance >= amount, or
  an equivalent serializable transaction). Two concurrent consumes
  against the same account must never jointly overdraw it.

  ApplySettlement must detect a pre-existing PURCHASE with the same
  settlement id via a uniqueness constraint and return applied=false
  without mutating anything.

SEE ALSO:
  - ledger.go: Validation layer on top of this interface
  - store/sqlite/sqlite.go: SQL implementation
*/
package credit

import "context"

// Store is the durable home of accounts and their transaction history.
// The ledger is the only caller; nothing else writes balances or
// transactions.
type Store interface {
	// SyncAccount creates the account on first touch (balance 0) or
	// refreshes its identity fields on subsequent calls. Returns the
	// stored account and whether it was just created.
	SyncAccount(ctx context.Context, acct Account) (Account, bool, error)

	// GetAccount returns the account, or nil if it does not exist.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// ListAccounts returns all accounts, newest first.
	ListAccounts(ctx context.Context) ([]Account, error)

	// ApplyGrant atomically increments the balance and appends tx.
	// Fails with ErrAccountNotFound if the account does not exist.
	ApplyGrant(ctx context.Context, tx Transaction) error

	// ApplyConsume atomically checks balance >= |tx.Amount|, decrements,
	// and appends tx (tx.Amount is negative). Fails with
	// InsufficientCreditsError without mutating anything when the
	// balance is too low.
	ApplyConsume(ctx context.Context, tx Transaction) error

	// ApplySettlement atomically appends the PURCHASE tx and increments
	// the balance, unless a PURCHASE with the same settlement id already
	// exists, in which case it returns applied=false and mutates nothing.
	ApplySettlement(ctx context.Context, tx Transaction) (applied bool, err error)

	// Transactions returns the account's full history, oldest first.
	Transactions(ctx context.Context, id AccountID) ([]Transaction, error)
}
