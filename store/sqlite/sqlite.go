/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements credit.Store and product.Store using SQLite. The same
  patterns apply to PostgreSQL in production - only minor SQL dialect
  differences.

ATOMICITY:
  Every credit.Store Apply* method runs as a single database
  transaction: the balance mutation on accounts and the insert into
  credit_transactions commit together or not at all.

  ApplyConsume uses a conditional decrement:

    UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ?

  Zero rows affected means either the account is missing or the balance
  is too low; the method distinguishes the two without ever letting the
  balance go negative, even under concurrent consumes.

APPEND-ONLY ENFORCEMENT:
  No UPDATE and no DELETE statements touch credit_transactions.
  Corrections happen via compensating entries only.

IDEMPOTENCY:
  idx_unique_purchase_settlement is a partial unique index on
  credit_transactions(settlement_id) for kind = 'PURCHASE'. A replayed
  settlement insert violates it; ApplySettlement maps that violation to
  applied=false inside the transaction, so a duplicate webhook commits
  nothing.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/fichflow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := credit.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - credit/store.go: Interface and atomicity contract
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/product"
)

// Store implements credit.Store and product.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Compile-time interface checks.
var (
	_ credit.Store  = (*Store)(nil)
	_ product.Store = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time. Also keeps ":memory:" working: every pooled
	// connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (balance is a materialized cache of the ledger sum)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'USER',
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Credit transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		description TEXT NOT NULL,
		settlement_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON credit_transactions(account_id, created_at);

	-- CRITICAL: at most one PURCHASE per external settlement id.
	-- This is the idempotency guard against at-least-once webhook delivery.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_purchase_settlement
		ON credit_transactions(settlement_id)
		WHERE kind = 'PURCHASE' AND settlement_id IS NOT NULL;

	-- Products and their generated sheets
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price TEXT,
		notes TEXT NOT NULL DEFAULT '',
		tone TEXT NOT NULL,
		photo_urls_json TEXT NOT NULL DEFAULT '[]',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		characteristics_json TEXT NOT NULL DEFAULT '{}',
		attributes_json TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_account
		ON products(account_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS (credit.Store interface)
// =============================================================================

// SyncAccount creates the account on first touch or refreshes its
// identity fields. The balance is never written here; new accounts start
// at zero and only the ledger moves them.
func (s *Store) SyncAccount(ctx context.Context, acct credit.Account) (credit.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getAccount(ctx, acct.ID)
	if err != nil {
		return credit.Account{}, false, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if existing == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (id, email, name, role, balance, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)
		`, acct.ID, acct.Email, acct.Name, string(roleOrDefault(acct.Role)), now, now)
		if err != nil {
			// Lost a race with a concurrent first login; fall through to
			// the update path.
			if !isUniqueConstraintError(err) {
				return credit.Account{}, false, storeErr("create account", err)
			}
		} else {
			stored, err := s.getAccount(ctx, acct.ID)
			if err != nil {
				return credit.Account{}, false, err
			}
			return *stored, true, nil
		}
	}

	if acct.Role != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE accounts SET email = ?, role = ?, updated_at = ? WHERE id = ?`,
			acct.Email, string(acct.Role), now, acct.ID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE accounts SET email = ?, updated_at = ? WHERE id = ?`,
			acct.Email, now, acct.ID)
	}
	if err != nil {
		return credit.Account{}, false, storeErr("update account", err)
	}

	stored, err := s.getAccount(ctx, acct.ID)
	if err != nil {
		return credit.Account{}, false, err
	}
	return *stored, false, nil
}

// GetAccount returns the account, or nil if it does not exist.
func (s *Store) GetAccount(ctx context.Context, id credit.AccountID) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAccount(ctx, id)
}

func (s *Store) getAccount(ctx context.Context, id credit.AccountID) (*credit.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, balance, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get account", err)
	}
	return &acct, nil
}

// ListAccounts returns all accounts, newest first.
func (s *Store) ListAccounts(ctx context.Context) ([]credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, role, balance, created_at, updated_at
		FROM accounts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []credit.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, storeErr("list accounts", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// =============================================================================
// LEDGER OPERATIONS (credit.Store interface)
// =============================================================================

// ApplyGrant increments the balance and appends the BONUS transaction in
// one database transaction.
func (s *Store) ApplyGrant(ctx context.Context, tx credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin grant", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		tx.Amount, tx.CreatedAt.Format(time.RFC3339Nano), tx.AccountID)
	if err != nil {
		return storeErr("grant balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return credit.ErrAccountNotFound
	}

	if err := insertTransaction(ctx, dbTx, tx); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return storeErr("commit grant", err)
	}
	return nil
}

// ApplyConsume executes the balance check and the decrement as one
// conditional update, then appends the CONSUMPTION transaction, all in
// one database transaction.
func (s *Store) ApplyConsume(ctx context.Context, tx credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requested := -tx.Amount // tx.Amount is negative

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin consume", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - ?, updated_at = ?
		 WHERE id = ? AND balance >= ?`,
		requested, tx.CreatedAt.Format(time.RFC3339Nano), tx.AccountID, requested)
	if err != nil {
		return storeErr("consume balance", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Account missing, or balance too low. Look to tell the two apart.
		var balance int64
		err := dbTx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE id = ?`, tx.AccountID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return credit.ErrAccountNotFound
		}
		if err != nil {
			return storeErr("consume lookup", err)
		}
		return &credit.InsufficientCreditsError{
			AccountID: tx.AccountID,
			Available: balance,
			Requested: requested,
		}
	}

	if err := insertTransaction(ctx, dbTx, tx); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return storeErr("commit consume", err)
	}
	return nil
}

// ApplySettlement inserts the PURCHASE transaction first so the partial
// unique index on settlement_id rejects replays, then increments the
// balance, all in one database transaction. A duplicate commits nothing
// and returns applied=false.
func (s *Store) ApplySettlement(ctx context.Context, tx credit.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin settlement", err)
	}
	defer dbTx.Rollback()

	if err := insertTransaction(ctx, dbTx, tx); err != nil {
		if errors.Is(err, credit.ErrDuplicateSettlement) {
			return false, nil
		}
		return false, err
	}

	res, err := dbTx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		tx.Amount, tx.CreatedAt.Format(time.RFC3339Nano), tx.AccountID)
	if err != nil {
		return false, storeErr("settlement balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, credit.ErrAccountNotFound
	}

	if err := dbTx.Commit(); err != nil {
		return false, storeErr("commit settlement", err)
	}
	return true, nil
}

// Transactions returns the account's history, oldest first.
func (s *Store) Transactions(ctx context.Context, id credit.AccountID) ([]credit.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, description, settlement_id, created_at
		FROM credit_transactions
		WHERE account_id = ?
		ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, storeErr("query transactions", err)
	}
	defer rows.Close()

	var txs []credit.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storeErr("scan transaction", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func insertTransaction(ctx context.Context, dbTx *sql.Tx, tx credit.Transaction) error {
	_, err := dbTx.ExecContext(ctx, `
		INSERT INTO credit_transactions
		(id, account_id, kind, amount, description, settlement_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.AccountID,
		string(tx.Kind),
		tx.Amount,
		tx.Description,
		nullString(tx.SettlementID),
		tx.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateSettlement
		}
		return storeErr("insert transaction", err)
	}
	return nil
}

// =============================================================================
// PRODUCTS (product.Store interface)
// =============================================================================

// SaveProduct inserts or replaces a product row.
func (s *Store) SaveProduct(ctx context.Context, p product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	photosJSON, _ := json.Marshal(p.PhotoURLs)
	charsJSON, _ := json.Marshal(p.Sheet.Characteristics)
	attrsJSON, _ := json.Marshal(p.Sheet.Attributes)

	var price sql.NullString
	if p.Price != nil {
		price = sql.NullString{String: p.Price.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO products
		(id, account_id, name, category, price, notes, tone, photo_urls_json,
		 title, description, characteristics_json, attributes_json, status,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.AccountID, p.Name, p.Category, price, p.Notes, string(p.Tone),
		string(photosJSON), p.Sheet.Title, p.Sheet.Description,
		string(charsJSON), string(attrsJSON), string(p.Status),
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return storeErr("save product", err)
	}
	return nil
}

// GetProduct returns the product if it exists and belongs to the account.
func (s *Store) GetProduct(ctx context.Context, accountID credit.AccountID, id string) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, category, price, notes, tone, photo_urls_json,
		       title, description, characteristics_json, attributes_json, status,
		       created_at, updated_at
		FROM products WHERE id = ? AND account_id = ?
	`, id, accountID)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get product", err)
	}
	return &p, nil
}

// ListProducts returns the account's products, newest first.
func (s *Store) ListProducts(ctx context.Context, accountID credit.AccountID) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, name, category, price, notes, tone, photo_urls_json,
		       title, description, characteristics_json, attributes_json, status,
		       created_at, updated_at
		FROM products WHERE account_id = ?
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, storeErr("list products", err)
	}
	defer rows.Close()

	var products []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storeErr("scan product", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// DeleteProduct removes a product owned by the account.
func (s *Store) DeleteProduct(ctx context.Context, accountID credit.AccountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM products WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return storeErr("delete product", err)
	}
	return nil
}

// =============================================================================
// SCANNING / HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (credit.Account, error) {
	var (
		acct                 credit.Account
		role                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Name, &role, &acct.Balance, &createdAt, &updatedAt); err != nil {
		return credit.Account{}, err
	}
	acct.Role = credit.Role(role)
	acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	acct.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return acct, nil
}

func scanTransaction(row rowScanner) (credit.Transaction, error) {
	var (
		tx           credit.Transaction
		kind         string
		settlementID sql.NullString
		createdAt    string
	)
	if err := row.Scan(&tx.ID, &tx.AccountID, &kind, &tx.Amount, &tx.Description, &settlementID, &createdAt); err != nil {
		return credit.Transaction{}, err
	}
	tx.Kind = credit.Kind(kind)
	tx.SettlementID = settlementID.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return tx, nil
}

func scanProduct(row rowScanner) (product.Product, error) {
	var (
		p                    product.Product
		price                sql.NullString
		tone, status         string
		photosJSON           string
		charsJSON, attrsJSON string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.AccountID, &p.Name, &p.Category, &price, &p.Notes, &tone,
		&photosJSON, &p.Sheet.Title, &p.Sheet.Description, &charsJSON, &attrsJSON, &status,
		&createdAt, &updatedAt); err != nil {
		return product.Product{}, err
	}
	if price.Valid {
		if d, err := decimal.NewFromString(price.String); err == nil {
			p.Price = &d
		}
	}
	p.Tone = product.Tone(tone)
	p.Status = product.Status(status)
	json.Unmarshal([]byte(photosJSON), &p.PhotoURLs)
	json.Unmarshal([]byte(charsJSON), &p.Sheet.Characteristics)
	json.Unmarshal([]byte(attrsJSON), &p.Sheet.Attributes)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

func roleOrDefault(r credit.Role) credit.Role {
	if r == "" {
		return credit.RoleUser
	}
	return r
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", credit.ErrStoreUnavailable, op, err)
}
