package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertBlock(ctx, &models.StoredBlock{ID: "b1", Height: 1, TxIDs: []string{"c", "a"}}))
	require.NoError(t, s.InsertTransactions(ctx, 1, []models.Transaction{
		{ID: "c", Outputs: []models.Output{{Address: "x", Value: 1}}},
		{ID: "a", Outputs: []models.Output{{Address: "y", Value: 2}}},
	}))
	require.NoError(t, s.InsertBlock(ctx, &models.StoredBlock{ID: "b2", Height: 2, TxIDs: []string{"b"}}))
	require.NoError(t, s.InsertTransactions(ctx, 2, []models.Transaction{
		{ID: "b", Inputs: []models.Input{{TxID: "c", Index: 0}}, Outputs: []models.Output{{Address: "z", Value: 1}}},
	}))
}

func ids(txs []*models.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestGetTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	tx, err := s.GetTransaction(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []models.Input{{TxID: "c", Index: 0}}, tx.Inputs)

	// Returned transactions are copies.
	tx.Outputs[0].Value = 99
	again, err := s.GetTransaction(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Outputs[0].Value)

	_, err = s.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScanTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	cases := []struct {
		name   string
		order  store.ScanOrder
		limit  int
		offset int
		want   []string
	}{
		{name: "by id", order: store.OrderID, limit: 10, want: []string{"a", "b", "c"}},
		{name: "by acceptance", order: store.OrderAcceptance, limit: 10, want: []string{"c", "a", "b"}},
		{name: "first page", order: store.OrderAcceptance, limit: 2, want: []string{"c", "a"}},
		{name: "second page", order: store.OrderAcceptance, limit: 2, offset: 2, want: []string{"b"}},
		{name: "past the end", order: store.OrderID, limit: 2, offset: 5, want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			txs, err := s.ScanTransactions(ctx, tc.order, tc.limit, tc.offset)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(txs))
		})
	}

	_, err := s.ScanTransactions(ctx, "height", 10, 0)
	assert.Error(t, err)
	_, err = s.ScanTransactions(ctx, store.OrderID, 0, 0)
	assert.Error(t, err)
}

func TestBlocks(t *testing.T) {
	ctx := context.Background()
	s := New()

	last, err := s.GetLastBlock(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	seed(t, s)
	last, err = s.GetLastBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last.Height)

	above, err := s.GetBlocksAboveHeight(ctx, 0)
	require.NoError(t, err)
	require.Len(t, above, 2)
	assert.Equal(t, uint64(2), above[0].Height)
	assert.Equal(t, uint64(1), above[1].Height)
	assert.Equal(t, []string{"c", "a"}, above[1].TxIDs)

	above, err = s.GetBlocksAboveHeight(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, above)

	err = s.InsertBlock(ctx, &models.StoredBlock{ID: "dup", Height: 2})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.DeleteBlocks(ctx, []uint64{2}))
	last, err = s.GetLastBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Height)
}

func TestInsertTransactionsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	cases := []struct {
		name string
		txs  []models.Transaction
	}{
		{name: "stored id", txs: []models.Transaction{{ID: "new"}, {ID: "a"}}},
		{
			name: "id repeated in batch",
			txs: []models.Transaction{
				{ID: "new", Outputs: []models.Output{{Address: "x", Value: 5}}},
				{ID: "new", Outputs: []models.Output{{Address: "y", Value: 7}}},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.InsertTransactions(ctx, 3, tc.txs)
			assert.ErrorIs(t, err, store.ErrConflict)

			_, err = s.GetTransaction(ctx, "new")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestExecTx(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	err := s.ExecTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.DeleteTransactions(ctx, []string{"b"}))
		require.NoError(t, tx.DeleteBlocks(ctx, []uint64{2}))

		// Writes are visible inside the unit.
		_, err := tx.GetTransaction(ctx, "b")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")

	_, err = s.GetTransaction(ctx, "b")
	assert.NoError(t, err, "aborted unit must not be applied")

	err = s.ExecTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteTransactions(ctx, []string{"b"}); err != nil {
			return err
		}
		return tx.DeleteBlocks(ctx, []uint64{2})
	})
	require.NoError(t, err)

	n, err := s.CountTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	last, err := s.GetLastBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Height)
}
