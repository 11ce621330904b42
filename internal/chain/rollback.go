package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/manifest-network/blockledger/internal/ledger"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

// Rollback removes every block above height and undoes its balance effects.
//
// Blocks are unwound newest first while their transactions and the outputs
// they spend are still stored. Only once the whole unwind is staged are the
// transactions, then the blocks, deleted in one store transaction, and the
// staged deltas committed to the ledger. Rolling back to the tip or above
// does nothing.
func (c *Chain) Rollback(ctx context.Context, height uint64) error {
	if !c.Ready() {
		return ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fault != nil {
		return fmt.Errorf("%w: %v", ErrInconsistent, c.fault)
	}

	blocks, err := c.store.GetBlocksAboveHeight(ctx, height)
	if err != nil {
		return fmt.Errorf("failed to get blocks above height %d: %w", height, err)
	}
	if len(blocks) == 0 {
		slog.Info("Nothing to roll back", "height", height)
		return nil
	}

	batch := ledger.NewBatch()
	heights := make([]uint64, 0, len(blocks))
	txIDs := make([]string, 0)

	for _, blk := range blocks {
		heights = append(heights, blk.Height)

		txs, spent, err := c.loadBlock(ctx, blk)
		if err != nil {
			c.logInternal(err)
			return err
		}
		if err := batch.StageUnapply(ledger.Block{Height: blk.Height, Transactions: txs}, spent); err != nil {
			err = &InternalError{Height: blk.Height, Err: err}
			c.logInternal(err)
			return err
		}
		txIDs = append(txIDs, blk.TxIDs...)
	}

	err = c.store.ExecTx(ctx, func(s store.Store) error {
		if err := s.DeleteTransactions(ctx, txIDs); err != nil {
			return err
		}
		return s.DeleteBlocks(ctx, heights)
	})
	if err != nil {
		return fmt.Errorf("failed to delete blocks above height %d: %w", height, err)
	}

	if err := c.ledger.Commit(batch); err != nil {
		c.markInconsistent(height, err)
		return fmt.Errorf("%w: rollback to %d: %v", ErrInconsistent, height, err)
	}

	c.metrics.RolledBack(len(blocks), height, c.ledger.Len())
	slog.Info("Rolled back",
		"height", height,
		"blocks", len(heights),
		"transactions", len(txIDs))
	return nil
}

// loadBlock fetches the transactions of blk and every output they spend.
func (c *Chain) loadBlock(ctx context.Context, blk *models.StoredBlock) ([]models.Transaction, ledger.Outputs, error) {
	txs := make([]models.Transaction, 0, len(blk.TxIDs))
	spent := make(ledger.Outputs)

	for _, id := range blk.TxIDs {
		tx, err := c.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, nil, c.lookupErr(blk.Height, id, err)
		}

		for _, in := range tx.Inputs {
			if _, done := spent[in]; done {
				continue
			}
			src, err := c.store.GetTransaction(ctx, in.TxID)
			if err != nil {
				return nil, nil, c.lookupErr(blk.Height, tx.ID, err)
			}
			out, ok := src.OutputAt(in.Index)
			if !ok {
				return nil, nil, &InternalError{
					Height: blk.Height,
					TxID:   tx.ID,
					Err:    fmt.Errorf("input %s:%d is out of range", in.TxID, in.Index),
				}
			}
			spent[in] = out
		}
		txs = append(txs, *tx)
	}
	return txs, spent, nil
}

// lookupErr classifies a failed lookup: a missing row is an internal error,
// anything else is I/O and passed through.
func (c *Chain) lookupErr(height uint64, txID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &InternalError{Height: height, TxID: txID, Err: err}
	}
	return fmt.Errorf("failed to load transaction %s of block %d: %w", txID, height, err)
}

func (c *Chain) logInternal(err error) {
	var ierr *InternalError
	if errors.As(err, &ierr) {
		slog.Error("Rollback aborted", "height", ierr.Height, "tx", ierr.TxID, "error", ierr.Err)
	}
}
