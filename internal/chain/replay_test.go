package chain

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/blockledger/internal/ledger"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
	"github.com/manifest-network/blockledger/internal/store/memory"
)

func TestReplayEmptyStore(t *testing.T) {
	for _, order := range []store.ScanOrder{store.OrderAcceptance, store.OrderID} {
		t.Run(string(order), func(t *testing.T) {
			balances, n, err := Replay(context.Background(), memory.New(), order, DefaultPageSize, nil)
			require.NoError(t, err)
			assert.Empty(t, balances)
			assert.Zero(t, n)
		})
	}
}

func TestReplayInvalidPageSize(t *testing.T) {
	_, _, err := Replay(context.Background(), memory.New(), store.OrderAcceptance, 0, nil)
	assert.Error(t, err)
}

// chainOf returns n blocks where each block spends the output of the previous
// one, keeping all but one unit and paying that unit to "fee".
func chainOf(n int) []*models.Block {
	blocks := []*models.Block{block(1, models.Transaction{
		ID:      "t00",
		Outputs: []models.Output{{Address: "a0", Value: 100}},
	})}
	for i := 1; i < n; i++ {
		prev := blocks[i-1].Transactions[0]
		blocks = append(blocks, block(uint64(i+1), models.Transaction{
			ID:     fmt.Sprintf("t%02d", i),
			Inputs: []models.Input{{TxID: prev.ID, Index: 0}},
			Outputs: []models.Output{
				{Address: fmt.Sprintf("a%d", i%5), Value: prev.Outputs[0].Value - 1},
				{Address: "fee", Value: 1},
			},
		}))
	}
	return blocks
}

func TestReplayMatchesIncrementalApplication(t *testing.T) {
	for _, pageSize := range []int{1, 3, DefaultPageSize, 100} {
		f := newFixture(t, DefaultConfig())
		f.accept(t, chainOf(45)...)

		balances, n, err := Replay(context.Background(), f.store, store.OrderAcceptance, pageSize, nil)
		require.NoError(t, err)
		assert.Equal(t, 45, n)

		for addr, v := range f.ledger.Snapshot() {
			assert.Equal(t, v, balances[addr], "page size %d, address %s", pageSize, addr)
		}
		assert.Equal(t, int64(44), balances["fee"])
	}
}

func TestBootstrapCountsCallbacks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.accept(t, chainOf(7)...)

	calls := 0
	_, _, err := Replay(context.Background(), f.store, store.OrderAcceptance, 2, func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 7, calls)
}

// idOrderChain returns a chain whose spending transaction sorts before the
// transaction it spends.
func idOrderChain() []*models.Block {
	return []*models.Block{
		block(1, models.Transaction{ID: "z-coinbase", Outputs: []models.Output{{Address: "alice", Value: 10}}}),
		block(2, models.Transaction{
			ID:      "a-spend",
			Inputs:  []models.Input{{TxID: "z-coinbase", Index: 0}},
			Outputs: []models.Output{{Address: "bob", Value: 10}},
		}),
	}
}

func TestReplayOrders(t *testing.T) {
	cases := []struct {
		name  string
		order store.ScanOrder
		want  map[string]int64
	}{
		{
			name:  "acceptance order debits the spent output",
			order: store.OrderAcceptance,
			want:  map[string]int64{"alice": 0, "bob": 10},
		},
		{
			name:  "id order skips the unseen spend",
			order: store.OrderID,
			want:  map[string]int64{"alice": 10, "bob": 10},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.accept(t, idOrderChain()...)

			balances, _, err := Replay(context.Background(), f.store, tc.order, DefaultPageSize, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, balances)
		})
	}
}

func TestReplayAcceptanceOrderUnresolvedInput(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.InsertTransactions(ctx, 1, []models.Transaction{{
		ID:      "orphan",
		Inputs:  []models.Input{{TxID: "gone", Index: 0}},
		Outputs: []models.Output{{Address: "x", Value: 1}},
	}}))

	_, _, err := Replay(ctx, s, store.OrderAcceptance, DefaultPageSize, nil)
	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "orphan", ierr.TxID)

	// The compatibility order skips it.
	balances, _, err := Replay(ctx, s, store.OrderID, DefaultPageSize, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"x": 1}, balances)
}

func TestBootstrapRebuildsLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.accept(t, firstBlock(), secondBlock(), thirdBlock())

	l := ledger.New()
	l.Reset(map[string]int64{"stale": 99})
	cfg := DefaultConfig()
	cfg.PageSize = 1
	c := New(f.store, l, nil, cfg)
	require.NoError(t, c.Bootstrap(ctx))

	assert.True(t, c.Ready())
	assert.Equal(t, int64(0), l.Get("stale"))
	assert.Equal(t, int64(4), l.Get("addr2"))
	assert.Equal(t, int64(0), l.Get("addr3"))
	assert.Equal(t, int64(2), l.Get("addr5"))
	assert.NoError(t, l.Verify())

	// A rebuilt chain keeps accepting on top of the stored tip.
	next := block(4, models.Transaction{
		ID:      "tx4",
		Inputs:  []models.Input{{TxID: "tx3", Index: 0}},
		Outputs: []models.Output{{Address: "addr7", Value: 2}},
	})
	require.NoError(t, c.AcceptBlock(ctx, next))
	assert.Equal(t, int64(0), l.Get("addr4"))
	assert.Equal(t, int64(2), l.Get("addr7"))
}
