// Package memory provides in-memory Store implementations for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/product"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements credit.Store and product.Store with the same
// atomicity semantics as the SQLite store: each Apply* either mutates
// both the balance and the history under one lock, or neither.
//
// FailNext injects a store failure for the next ledger operation, which
// is how tests exercise the StoreUnavailable paths.
type Memory struct {
	mu           sync.Mutex
	accounts     map[credit.AccountID]*credit.Account
	transactions map[credit.AccountID][]credit.Transaction
	settlements  map[string]bool
	products     map[string]product.Product

	nextErr error
}

var (
	_ credit.Store  = (*Memory)(nil)
	_ product.Store = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[credit.AccountID]*credit.Account),
		transactions: make(map[credit.AccountID][]credit.Transaction),
		settlements:  make(map[string]bool),
		products:     make(map[string]product.Product),
	}
}

// FailNext makes the next ledger operation fail with err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextErr = err
}

func (m *Memory) takeErr() error {
	err := m.nextErr
	m.nextErr = nil
	return err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) SyncAccount(_ context.Context, acct credit.Account) (credit.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.accounts[acct.ID]; ok {
		existing.Email = acct.Email
		if acct.Role != "" {
			existing.Role = acct.Role
		}
		existing.UpdatedAt = now
		return *existing, false, nil
	}

	role := acct.Role
	if role == "" {
		role = credit.RoleUser
	}
	stored := &credit.Account{
		ID:        acct.ID,
		Email:     acct.Email,
		Name:      acct.Name,
		Role:      role,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[acct.ID] = stored
	return *stored, true, nil
}

func (m *Memory) GetAccount(_ context.Context, id credit.AccountID) (*credit.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]credit.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]credit.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		accounts = append(accounts, *acct)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

func (m *Memory) ApplyGrant(_ context.Context, tx credit.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeErr(); err != nil {
		return err
	}

	acct, ok := m.accounts[tx.AccountID]
	if !ok {
		return credit.ErrAccountNotFound
	}
	acct.Balance += tx.Amount
	acct.UpdatedAt = tx.CreatedAt
	m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	return nil
}

func (m *Memory) ApplyConsume(_ context.Context, tx credit.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeErr(); err != nil {
		return err
	}

	acct, ok := m.accounts[tx.AccountID]
	if !ok {
		return credit.ErrAccountNotFound
	}
	requested := -tx.Amount
	if acct.Balance < requested {
		return &credit.InsufficientCreditsError{
			AccountID: tx.AccountID,
			Available: acct.Balance,
			Requested: requested,
		}
	}
	acct.Balance -= requested
	acct.UpdatedAt = tx.CreatedAt
	m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	return nil
}

func (m *Memory) ApplySettlement(_ context.Context, tx credit.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeErr(); err != nil {
		return false, err
	}

	if m.settlements[tx.SettlementID] {
		return false, nil
	}
	acct, ok := m.accounts[tx.AccountID]
	if !ok {
		return false, credit.ErrAccountNotFound
	}
	m.settlements[tx.SettlementID] = true
	acct.Balance += tx.Amount
	acct.UpdatedAt = tx.CreatedAt
	m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	return true, nil
}

func (m *Memory) Transactions(_ context.Context, id credit.AccountID) ([]credit.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := m.transactions[id]
	out := make([]credit.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeErr(); err != nil {
		return err
	}
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, accountID credit.AccountID, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok || p.AccountID != accountID {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context, accountID credit.AccountID) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []product.Product
	for _, p := range m.products {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteProduct(_ context.Context, accountID credit.AccountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if ok && p.AccountID == accountID {
		delete(m.products, id)
	}
	return nil
}
