package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifest-network/blockledger/internal/models"
)

var (
	// ErrNotFound is returned when a transaction lookup finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("conflict")
)

// ScanOrder selects the ordering of ScanTransactions.
type ScanOrder string

const (
	// OrderAcceptance orders transactions by block height, then position in the block.
	OrderAcceptance ScanOrder = "acceptance"

	// OrderID orders transactions by id.
	OrderID ScanOrder = "id"
)

// ParseScanOrder parses a configured scan order.
func ParseScanOrder(s string) (ScanOrder, error) {
	switch ScanOrder(s) {
	case OrderAcceptance, OrderID:
		return ScanOrder(s), nil
	default:
		return "", fmt.Errorf("unknown scan order %q", s)
	}
}

type TransactionStore interface {
	// GetTransaction returns the transaction with the given id, or ErrNotFound.
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)

	// ScanTransactions returns at most limit transactions starting at offset in the given order.
	ScanTransactions(ctx context.Context, order ScanOrder, limit, offset int) ([]*models.Transaction, error)

	// InsertTransactions stores the transactions of the block at height, keeping their order.
	InsertTransactions(ctx context.Context, height uint64, txs []models.Transaction) error

	// DeleteTransactions removes the transactions with the given ids.
	DeleteTransactions(ctx context.Context, ids []string) error

	// CountTransactions returns the number of stored transactions.
	CountTransactions(ctx context.Context) (int64, error)
}

type BlockStore interface {
	// GetLastBlock returns the block with the greatest height, or nil if there is none.
	GetLastBlock(ctx context.Context) (*models.StoredBlock, error)

	// GetBlocksAboveHeight returns every block higher than height, highest first.
	GetBlocksAboveHeight(ctx context.Context, height uint64) ([]*models.StoredBlock, error)

	// InsertBlock stores a block.
	InsertBlock(ctx context.Context, block *models.StoredBlock) error

	// DeleteBlocks removes the blocks at the given heights.
	DeleteBlocks(ctx context.Context, heights []uint64) error
}

// Store combines both stores and the atomic unit they are written in.
type Store interface {
	TransactionStore
	BlockStore

	// ExecTx runs fn against a view of the store whose writes are committed
	// together when fn returns nil and discarded otherwise.
	ExecTx(ctx context.Context, fn func(Store) error) error

	// Close closes the store.
	Close() error
}
