package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manifest-network/blockledger/internal/ledger"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
	"github.com/manifest-network/blockledger/internal/store/memory"
)

func firstBlock() *models.Block {
	return &models.Block{
		ID:     "d1582b9e2cac15e170c39ef2e85855ffd7e6a820550a8ca16a2f016d366503dc",
		Height: 1,
		Transactions: []models.Transaction{{
			ID:      "tx1",
			Inputs:  []models.Input{},
			Outputs: []models.Output{{Address: "addr1", Value: 10}},
		}},
	}
}

func secondBlock() *models.Block {
	return &models.Block{
		ID:     "c4701d0bfd7179e1db6e33e947e6c718bbc4a1ae927300cd1e3bda91a930cba5",
		Height: 2,
		Transactions: []models.Transaction{{
			ID:     "tx2",
			Inputs: []models.Input{{TxID: "tx1", Index: 0}},
			Outputs: []models.Output{
				{Address: "addr2", Value: 4},
				{Address: "addr3", Value: 6},
			},
		}},
	}
}

func thirdBlock() *models.Block {
	return &models.Block{
		ID:     "4e5f22a2abacfaf2dcaaeb1652aec4eb65028d0f831fa435e6b1ee931c6799ec",
		Height: 3,
		Transactions: []models.Transaction{{
			ID:     "tx3",
			Inputs: []models.Input{{TxID: "tx2", Index: 1}},
			Outputs: []models.Output{
				{Address: "addr4", Value: 2},
				{Address: "addr5", Value: 2},
				{Address: "addr6", Value: 2},
			},
		}},
	}
}

// block builds a block at height with a correct id.
func block(height uint64, txs ...models.Transaction) *models.Block {
	b := &models.Block{Height: height, Transactions: txs}
	b.ID = CreateBlockHash(b)
	return b
}

type fixture struct {
	store  *memory.Store
	ledger *ledger.Ledger
	chain  *Chain
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s := memory.New()
	l := ledger.New()
	c := New(s, l, nil, cfg)
	require.NoError(t, c.Bootstrap(context.Background()))
	return &fixture{store: s, ledger: l, chain: c}
}

func (f *fixture) accept(t *testing.T, blocks ...*models.Block) {
	t.Helper()
	for _, b := range blocks {
		require.NoError(t, f.chain.AcceptBlock(context.Background(), b), "block %d", b.Height)
	}
}

func (f *fixture) height(t *testing.T) uint64 {
	t.Helper()
	last, err := f.store.GetLastBlock(context.Background())
	require.NoError(t, err)
	if last == nil {
		return 0
	}
	return last.Height
}

// failingStore wraps a store and fails the selected operations.
type failingStore struct {
	store.Store
	failInsertTxs bool
	failDelete    bool
	err           error
}

func (f *failingStore) ExecTx(ctx context.Context, fn func(store.Store) error) error {
	return f.Store.ExecTx(ctx, func(s store.Store) error {
		return fn(&failingStore{Store: s, failInsertTxs: f.failInsertTxs, failDelete: f.failDelete, err: f.err})
	})
}

func (f *failingStore) InsertTransactions(ctx context.Context, height uint64, txs []models.Transaction) error {
	if f.failInsertTxs {
		return f.err
	}
	return f.Store.InsertTransactions(ctx, height, txs)
}

func (f *failingStore) DeleteBlocks(ctx context.Context, heights []uint64) error {
	if f.failDelete {
		return f.err
	}
	return f.Store.DeleteBlocks(ctx, heights)
}
