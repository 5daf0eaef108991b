package sqlite_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/product"
	"github.com/fichflow/fichflow/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccount(t *testing.T, store *sqlite.Store, id string, balance int64) credit.AccountID {
	t.Helper()
	ctx := context.Background()

	acct, created, err := store.SyncAccount(ctx, credit.Account{
		ID:    credit.AccountID(id),
		Email: id + "@example.com",
	})
	require.NoError(t, err)
	require.True(t, created)

	if balance > 0 {
		err = store.ApplyGrant(ctx, credit.Transaction{
			ID:          credit.TransactionID("seed-" + id),
			AccountID:   acct.ID,
			Kind:        credit.KindBonus,
			Amount:      balance,
			Description: "seed",
			CreatedAt:   time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	return acct.ID
}

func consumeTx(id string, accountID credit.AccountID, amount int64) credit.Transaction {
	return credit.Transaction{
		ID:          credit.TransactionID(id),
		AccountID:   accountID,
		Kind:        credit.KindConsumption,
		Amount:      -amount,
		Description: "test consume",
		CreatedAt:   time.Now().UTC(),
	}
}

// =============================================================================
// ACCOUNT SYNC
// =============================================================================

func TestSyncAccount_CreateThenUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, created, err := store.SyncAccount(ctx, credit.Account{
		ID:    "u1",
		Email: "u1@example.com",
		Name:  "Léa",
		Role:  credit.RoleUser,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, acct.Balance)
	assert.Equal(t, credit.RoleUser, acct.Role)

	// Second sync is an update, not a second creation.
	again, created, err := store.SyncAccount(ctx, credit.Account{
		ID:    "u1",
		Email: "lea@example.com",
		Role:  credit.RoleAdmin,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "lea@example.com", again.Email)
	assert.Equal(t, credit.RoleAdmin, again.Role)
}

func TestSyncAccount_EmptyRoleDoesNotDemote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.SyncAccount(ctx, credit.Account{ID: "u1", Email: "u1@example.com", Role: credit.RoleAdmin})
	require.NoError(t, err)

	acct, _, err := store.SyncAccount(ctx, credit.Account{ID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	assert.Equal(t, credit.RoleAdmin, acct.Role, "sync without a role keeps the stored one")
}

// =============================================================================
// CONCURRENCY - the reason the conditional decrement exists
// =============================================================================

func TestApplyConsume_ConcurrentOverBalanceOfOne(t *testing.T) {
	// GIVEN: balance 1
	// WHEN: two goroutines consume 1 concurrently
	// THEN: exactly one succeeds, balance ends at 0, one tx recorded

	store := newTestStore(t)
	ctx := context.Background()
	id := seedAccount(t, store, "u1", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.ApplyConsume(ctx, consumeTx(fmt.Sprintf("tx-%d", i), id, 1))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, credit.ErrInsufficientCredits)
		}
	}
	assert.Equal(t, 1, successes)

	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Zero(t, acct.Balance)

	txs, err := store.Transactions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, txs, 2, "seed grant plus exactly one consumption")
}

func TestApplySettlement_ConcurrentSameID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := seedAccount(t, store, "u1", 0)

	const workers = 8
	var wg sync.WaitGroup
	applied := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applied[i], errs[i] = store.ApplySettlement(ctx, credit.Transaction{
				ID:           credit.TransactionID(fmt.Sprintf("tx-%d", i)),
				AccountID:    id,
				Kind:         credit.KindPurchase,
				Amount:       10,
				Description:  "race",
				SettlementID: "cs_race",
				CreatedAt:    time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	count := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if applied[i] {
			count++
		}
	}
	assert.Equal(t, 1, count, "one settlement applied no matter how many replays race")

	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)
}

func TestApplyConsume_DistinguishesMissingAccount(t *testing.T) {
	store := newTestStore(t)

	err := store.ApplyConsume(context.Background(), consumeTx("tx-1", "ghost", 1))
	assert.ErrorIs(t, err, credit.ErrAccountNotFound)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestTransactions_OldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := seedAccount(t, store, "u1", 5)

	require.NoError(t, store.ApplyConsume(ctx, consumeTx("tx-a", id, 1)))
	require.NoError(t, store.ApplyConsume(ctx, consumeTx("tx-b", id, 1)))

	txs, err := store.Transactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, credit.KindBonus, txs[0].Kind)
	assert.Equal(t, credit.TransactionID("tx-a"), txs[1].ID)
	assert.Equal(t, credit.TransactionID("tx-b"), txs[2].ID)

	var sum int64
	for _, tx := range txs {
		sum += tx.Amount
	}
	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, acct.Balance, sum, "cached balance equals replayed history")
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestProducts_RoundTripAndScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, store, "owner", 0)
	other := seedAccount(t, store, "other", 0)

	price := decimal.RequireFromString("24.90")
	now := time.Now().UTC()
	p := product.Product{
		ID:        "prod-1",
		AccountID: owner,
		Name:      "Bougie artisanale",
		Category:  "Maison",
		Price:     &price,
		Tone:      product.ToneLuxe,
		PhotoURLs: []string{"https://blob.example/p1.jpg"},
		Sheet: product.Sheet{
			Title:           "Bougie artisanale à la cire de soja",
			Description:     "Une bougie coulée à la main.",
			Characteristics: map[string]string{"Matière": "Cire de soja"},
			Attributes:      map[string]string{"couleur": "ivoire"},
		},
		Status:    product.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.SaveProduct(ctx, p))

	got, err := store.GetProduct(ctx, owner, "prod-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Sheet.Title, got.Sheet.Title)
	assert.Equal(t, "Cire de soja", got.Sheet.Characteristics["Matière"])
	require.NotNil(t, got.Price)
	assert.True(t, price.Equal(*got.Price))

	// Another account cannot see or delete it.
	hidden, err := store.GetProduct(ctx, other, "prod-1")
	require.NoError(t, err)
	assert.Nil(t, hidden)

	require.NoError(t, store.DeleteProduct(ctx, other, "prod-1"))
	still, err := store.GetProduct(ctx, owner, "prod-1")
	require.NoError(t, err)
	assert.NotNil(t, still, "cross-account delete is a no-op")

	require.NoError(t, store.DeleteProduct(ctx, owner, "prod-1"))
	gone, err := store.GetProduct(ctx, owner, "prod-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestListProducts_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, store, "owner", 0)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		p := product.Product{
			ID:        fmt.Sprintf("prod-%d", i),
			AccountID: owner,
			Name:      fmt.Sprintf("Produit %d", i),
			Category:  "Divers",
			Tone:      product.ToneProfessionnel,
			Status:    product.StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveProduct(ctx, p))
	}

	list, err := store.ListProducts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "prod-2", list[0].ID)
	assert.Equal(t, "prod-0", list[2].ID)
}
