package chain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

// Bootstrap rebuilds the ledger from the transaction store and marks the chain ready.
// It must complete before any block is accepted.
func (c *Chain) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()

	var bar *progressbar.ProgressBar
	if c.cfg.ShowProgress {
		total, err := c.store.CountTransactions(ctx)
		if err != nil {
			return fmt.Errorf("failed to count transactions: %w", err)
		}
		if total > 0 {
			bar = newReplayBar(total)
		}
	}

	balances, n, err := Replay(ctx, c.store, c.cfg.ReplayOrder, c.cfg.PageSize, func() {
		if bar != nil {
			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to replay transactions: %w", err)
	}
	if bar != nil {
		if err := bar.Finish(); err != nil {
			return fmt.Errorf("failed to finish progress bar: %w", err)
		}
	}

	last, err := c.store.GetLastBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last block: %w", err)
	}
	var height uint64
	if last != nil {
		height = last.Height
	}

	c.ledger.Reset(balances)
	c.fault = nil
	c.ready.Store(true)

	elapsed := time.Since(start)
	c.metrics.Replayed(elapsed, n, height, len(balances))
	slog.Info("Ledger rebuilt",
		"order", c.cfg.ReplayOrder,
		"transactions", n,
		"addresses", len(balances),
		"height", height,
		"elapsed", elapsed)
	return nil
}

// Replay recomputes balances from every stored transaction, reading pages of
// pageSize until a short page. It returns the balances and the number of
// transactions read.
//
// Inputs are resolved against the transactions already seen in this replay.
// With OrderAcceptance every spent transaction precedes its spender, and an
// unresolved input is an *InternalError. With OrderID a spender can sort
// before the transaction it spends; such debits, and debits from an address
// without a balance yet, are skipped. That order under-counts debits and is
// kept only for compatibility with ledgers built that way.
func Replay(ctx context.Context, txs store.TransactionStore, order store.ScanOrder, pageSize int, onTx func()) (map[string]int64, int, error) {
	if pageSize <= 0 {
		return nil, 0, fmt.Errorf("invalid page size %d", pageSize)
	}

	balances := make(map[string]int64)
	seen := make(map[string]*models.Transaction)
	offset := 0

	for {
		page, err := txs.ScanTransactions(ctx, order, pageSize, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read transactions at offset %d: %w", offset, err)
		}

		for _, tx := range page {
			seen[tx.ID] = tx
			for _, out := range tx.Outputs {
				balances[out.Address] += out.Value
			}
			for _, in := range tx.Inputs {
				if err := replayInput(balances, seen, order, tx.ID, in); err != nil {
					return nil, 0, err
				}
			}
			if onTx != nil {
				onTx()
			}
		}

		offset += len(page)
		if len(page) < pageSize {
			break
		}
	}
	return balances, offset, nil
}

func replayInput(balances map[string]int64, seen map[string]*models.Transaction, order store.ScanOrder, txID string, in models.Input) error {
	src, ok := seen[in.TxID]
	if !ok {
		if order == store.OrderID {
			return nil
		}
		return &InternalError{TxID: txID, Err: fmt.Errorf("input %s:%d spends a transaction not replayed yet", in.TxID, in.Index)}
	}

	out, ok := src.OutputAt(in.Index)
	if !ok {
		return &InternalError{TxID: txID, Err: fmt.Errorf("input %s:%d is out of range", in.TxID, in.Index)}
	}

	if _, ok := balances[out.Address]; !ok && order == store.OrderID {
		return nil
	}
	balances[out.Address] -= out.Value
	return nil
}

func newReplayBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Replaying transactions..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
