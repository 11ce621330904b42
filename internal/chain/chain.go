// Package chain accepts blocks into the store, keeps the balance ledger in
// step with it, rolls both back on request and rebuilds the ledger at startup.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/manifest-network/blockledger/internal/ledger"
	"github.com/manifest-network/blockledger/internal/metrics"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

const DefaultPageSize = 20

// Config tunes a Chain.
type Config struct {
	// PageSize is the number of transactions read per page during replay.
	PageSize int
	// ReplayOrder selects the order transactions are replayed in.
	ReplayOrder store.ScanOrder
	// ShowProgress renders a progress bar during replay.
	ShowProgress bool
	Genesis      GenesisPolicy
}

func DefaultConfig() Config {
	return Config{
		PageSize:    DefaultPageSize,
		ReplayOrder: store.OrderAcceptance,
		Genesis:     DefaultGenesisPolicy(),
	}
}

// Chain is the single writer of the store and the ledger.
type Chain struct {
	store     store.Store
	ledger    *ledger.Ledger
	validator *Validator
	metrics   *metrics.Metrics
	cfg       Config

	// mu serialises AcceptBlock, Rollback and Bootstrap.
	mu    sync.Mutex
	fault error
	ready atomic.Bool
}

// New returns a Chain over s and l. m may be nil.
func New(s store.Store, l *ledger.Ledger, m *metrics.Metrics, cfg Config) *Chain {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.ReplayOrder == "" {
		cfg.ReplayOrder = store.OrderAcceptance
	}
	return &Chain{
		store:     s,
		ledger:    l,
		validator: NewValidator(s, cfg.Genesis),
		metrics:   m,
		cfg:       cfg,
	}
}

// Ready reports whether the ledger has been rebuilt and the chain accepts writes.
func (c *Chain) Ready() bool {
	return c.ready.Load()
}

// Balance returns the current balance of address.
func (c *Chain) Balance(address string) int64 {
	return c.ledger.Get(address)
}

// AcceptBlock validates b and, if it is valid, stores it and applies it to the ledger.
// Rejections are *ValidationError; the stores and the ledger are left untouched.
func (c *Chain) AcceptBlock(ctx context.Context, b *models.Block) error {
	if !c.Ready() {
		return ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fault != nil {
		return fmt.Errorf("%w: %v", ErrInconsistent, c.fault)
	}

	last, err := c.store.GetLastBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last block: %w", err)
	}

	spent, err := c.validator.Validate(ctx, last, b)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.metrics.BlockRejected(verr.Kind.String())
			slog.Warn("Rejected block", "height", b.Height, "id", b.ID, "reason", verr.Kind.String(), "error", err)
		}
		return err
	}

	batch := ledger.NewBatch()
	if err := batch.StageApply(ledger.FromModel(b), spent); err != nil {
		return &InternalError{Height: b.Height, Err: err}
	}

	err = c.store.ExecTx(ctx, func(s store.Store) error {
		if err := s.InsertBlock(ctx, models.NewStoredBlock(b)); err != nil {
			return err
		}
		return s.InsertTransactions(ctx, b.Height, b.Transactions)
	})
	if err != nil {
		return fmt.Errorf("failed to store block %d: %w", b.Height, err)
	}

	if err := c.ledger.Commit(batch); err != nil {
		c.markInconsistent(b.Height, err)
		return fmt.Errorf("%w: block %d: %v", ErrInconsistent, b.Height, err)
	}

	c.metrics.BlockAccepted(b.Height, c.ledger.Len())
	slog.Info("Accepted block", "height", b.Height, "id", b.ID, "transactions", len(b.Transactions))
	return nil
}

// markInconsistent stops the chain from accepting writes after the store and
// the ledger diverged. The ledger is rebuilt from the store on restart.
func (c *Chain) markInconsistent(height uint64, err error) {
	c.fault = err
	slog.Error("Ledger diverged from the store, restart required", "height", height, "error", err)
}
