package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
	"github.com/manifest-network/blockledger/internal/store/memory"
)

// countingStore counts GetTransaction calls that reach the backing store.
type countingStore struct {
	store.Store
	gets int
}

func (c *countingStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	c.gets++
	return c.Store.GetTransaction(ctx, id)
}

func newCached(t *testing.T) (*store.CachedStore, *countingStore) {
	t.Helper()
	mem := memory.New()
	require.NoError(t, mem.InsertTransactions(context.Background(), 1, []models.Transaction{
		{ID: "tx1", Outputs: []models.Output{{Address: "addr1", Value: 10}}},
	}))
	backing := &countingStore{Store: mem}
	return store.NewCachedStore(backing, 16), backing
}

func TestCachedStoreReadsThrough(t *testing.T) {
	ctx := context.Background()
	c, backing := newCached(t)

	for i := 0; i < 3; i++ {
		tx, err := c.GetTransaction(ctx, "tx1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), tx.Outputs[0].Value)
		tx.Outputs[0].Value = 0
	}
	assert.Equal(t, 1, backing.gets)

	_, err := c.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCachedStoreEvictsOnDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newCached(t)

	_, err := c.GetTransaction(ctx, "tx1")
	require.NoError(t, err)

	require.NoError(t, c.DeleteTransactions(ctx, []string{"tx1"}))
	_, err = c.GetTransaction(ctx, "tx1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCachedStoreEvictsOnDeleteInsideUnit(t *testing.T) {
	ctx := context.Background()
	c, _ := newCached(t)

	_, err := c.GetTransaction(ctx, "tx1")
	require.NoError(t, err)

	err = c.ExecTx(ctx, func(s store.Store) error {
		return s.DeleteTransactions(ctx, []string{"tx1"})
	})
	require.NoError(t, err)

	_, err = c.GetTransaction(ctx, "tx1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseScanOrder(t *testing.T) {
	order, err := store.ParseScanOrder("id")
	require.NoError(t, err)
	assert.Equal(t, store.OrderID, order)

	order, err = store.ParseScanOrder("acceptance")
	require.NoError(t, err)
	assert.Equal(t, store.OrderAcceptance, order)

	_, err = store.ParseScanOrder("height")
	assert.Error(t, err)
}
