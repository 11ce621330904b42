// Package memory implements store.Store in process memory.
// It is used for development runs and tests; nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

type txRecord struct {
	tx       *models.Transaction
	height   uint64
	position int
}

type state struct {
	txs    map[string]txRecord
	blocks map[uint64]*models.StoredBlock
}

func newState() *state {
	return &state{
		txs:    make(map[string]txRecord),
		blocks: make(map[uint64]*models.StoredBlock),
	}
}

func (s *state) clone() *state {
	c := &state{
		txs:    make(map[string]txRecord, len(s.txs)),
		blocks: make(map[uint64]*models.StoredBlock, len(s.blocks)),
	}
	for id, rec := range s.txs {
		c.txs[id] = rec
	}
	for h, b := range s.blocks {
		c.blocks[h] = b
	}
	return c
}

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTransaction(id)
}

func (s *Store) ScanTransactions(_ context.Context, order store.ScanOrder, limit, offset int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.scanTransactions(order, limit, offset)
}

func (s *Store) InsertTransactions(_ context.Context, height uint64, txs []models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirror the all-or-nothing behaviour of a multi-row INSERT.
	next := s.st.clone()
	if err := next.insertTransactions(height, txs); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *Store) DeleteTransactions(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.deleteTransactions(ids)
	return nil
}

func (s *Store) CountTransactions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.st.txs)), nil
}

func (s *Store) GetLastBlock(_ context.Context) (*models.StoredBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.lastBlock(), nil
}

func (s *Store) GetBlocksAboveHeight(_ context.Context, height uint64) ([]*models.StoredBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.blocksAbove(height), nil
}

func (s *Store) InsertBlock(_ context.Context, block *models.StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.insertBlock(block)
}

func (s *Store) DeleteBlocks(_ context.Context, heights []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.deleteBlocks(heights)
	return nil
}

// ExecTx runs fn against a copy of the current state and installs the copy if fn succeeds.
// Other callers are blocked for the duration of fn.
func (s *Store) ExecTx(ctx context.Context, fn func(store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &txView{st: s.st.clone()}
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = view.st
	return nil
}

func (s *Store) Close() error {
	return nil
}

// txView is the store handed to ExecTx callbacks. The enclosing Store's lock is already held.
type txView struct {
	st *state
}

func (v *txView) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	return v.st.getTransaction(id)
}

func (v *txView) ScanTransactions(_ context.Context, order store.ScanOrder, limit, offset int) ([]*models.Transaction, error) {
	return v.st.scanTransactions(order, limit, offset)
}

func (v *txView) InsertTransactions(_ context.Context, height uint64, txs []models.Transaction) error {
	return v.st.insertTransactions(height, txs)
}

func (v *txView) DeleteTransactions(_ context.Context, ids []string) error {
	v.st.deleteTransactions(ids)
	return nil
}

func (v *txView) CountTransactions(_ context.Context) (int64, error) {
	return int64(len(v.st.txs)), nil
}

func (v *txView) GetLastBlock(_ context.Context) (*models.StoredBlock, error) {
	return v.st.lastBlock(), nil
}

func (v *txView) GetBlocksAboveHeight(_ context.Context, height uint64) ([]*models.StoredBlock, error) {
	return v.st.blocksAbove(height), nil
}

func (v *txView) InsertBlock(_ context.Context, block *models.StoredBlock) error {
	return v.st.insertBlock(block)
}

func (v *txView) DeleteBlocks(_ context.Context, heights []uint64) error {
	v.st.deleteBlocks(heights)
	return nil
}

func (v *txView) ExecTx(_ context.Context, fn func(store.Store) error) error {
	return fn(v)
}

func (v *txView) Close() error {
	return nil
}

func (s *state) getTransaction(id string) (*models.Transaction, error) {
	rec, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return rec.tx.Clone(), nil
}

func (s *state) scanTransactions(order store.ScanOrder, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("invalid page limit=%d offset=%d", limit, offset)
	}

	recs := make([]txRecord, 0, len(s.txs))
	for _, rec := range s.txs {
		recs = append(recs, rec)
	}

	switch order {
	case store.OrderID:
		slices.SortFunc(recs, func(a, b txRecord) int {
			return cmp.Compare(a.tx.ID, b.tx.ID)
		})
	case store.OrderAcceptance:
		slices.SortFunc(recs, func(a, b txRecord) int {
			if c := cmp.Compare(a.height, b.height); c != 0 {
				return c
			}
			return cmp.Compare(a.position, b.position)
		})
	default:
		return nil, fmt.Errorf("unknown scan order %q", order)
	}

	if offset >= len(recs) {
		return []*models.Transaction{}, nil
	}
	end := min(offset+limit, len(recs))

	page := make([]*models.Transaction, 0, end-offset)
	for _, rec := range recs[offset:end] {
		page = append(page, rec.tx.Clone())
	}
	return page, nil
}

func (s *state) insertTransactions(height uint64, txs []models.Transaction) error {
	seen := make(map[string]struct{}, len(txs))
	for i := range txs {
		id := txs[i].ID
		if _, exists := s.txs[id]; exists {
			return fmt.Errorf("transaction %s: %w", id, store.ErrConflict)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("transaction %s repeated in batch: %w", id, store.ErrConflict)
		}
		seen[id] = struct{}{}
	}
	for i := range txs {
		s.txs[txs[i].ID] = txRecord{
			tx:       txs[i].Clone(),
			height:   height,
			position: i,
		}
	}
	return nil
}

func (s *state) deleteTransactions(ids []string) {
	for _, id := range ids {
		delete(s.txs, id)
	}
}

func (s *state) lastBlock() *models.StoredBlock {
	var last *models.StoredBlock
	for _, b := range s.blocks {
		if last == nil || b.Height > last.Height {
			last = b
		}
	}
	if last == nil {
		return nil
	}
	return cloneBlock(last)
}

func (s *state) blocksAbove(height uint64) []*models.StoredBlock {
	blocks := make([]*models.StoredBlock, 0)
	for h, b := range s.blocks {
		if h > height {
			blocks = append(blocks, cloneBlock(b))
		}
	}
	slices.SortFunc(blocks, func(a, b *models.StoredBlock) int {
		return cmp.Compare(b.Height, a.Height)
	})
	return blocks
}

func (s *state) insertBlock(block *models.StoredBlock) error {
	if _, exists := s.blocks[block.Height]; exists {
		return fmt.Errorf("block at height %d: %w", block.Height, store.ErrConflict)
	}
	s.blocks[block.Height] = cloneBlock(block)
	return nil
}

func (s *state) deleteBlocks(heights []uint64) {
	for _, h := range heights {
		delete(s.blocks, h)
	}
}

func cloneBlock(b *models.StoredBlock) *models.StoredBlock {
	return &models.StoredBlock{
		ID:     b.ID,
		Height: b.Height,
		TxIDs:  append([]string(nil), b.TxIDs...),
	}
}
