package store

import (
	"context"
	"errors"

	"github.com/bluele/gcache"

	"github.com/manifest-network/blockledger/internal/models"
)

// CachedStore fronts a Store with an LRU cache of committed transactions.
// Transactions are immutable once written, so the only invalidation needed is on delete.
type CachedStore struct {
	Store
	cache gcache.Cache
}

// NewCachedStore wraps s with a cache holding up to size transactions.
func NewCachedStore(s Store, size int) *CachedStore {
	return &CachedStore{
		Store: s,
		cache: gcache.New(size).LRU().Build(),
	}
}

// GetTransaction returns the cached transaction or loads it from the underlying store.
func (c *CachedStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if v, err := c.cache.Get(id); err == nil {
		return v.(*models.Transaction).Clone(), nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		return nil, err
	}

	tx, err := c.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(id, tx.Clone()); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *CachedStore) DeleteTransactions(ctx context.Context, ids []string) error {
	c.evict(ids)
	return c.Store.DeleteTransactions(ctx, ids)
}

// ExecTx runs fn inside the underlying store's atomic unit.
// Reads inside the unit bypass the cache; deletes evict.
func (c *CachedStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	return c.Store.ExecTx(ctx, func(s Store) error {
		return fn(&cachedTx{Store: s, parent: c})
	})
}

func (c *CachedStore) evict(ids []string) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

type cachedTx struct {
	Store
	parent *CachedStore
}

func (t *cachedTx) DeleteTransactions(ctx context.Context, ids []string) error {
	t.parent.evict(ids)
	return t.Store.DeleteTransactions(ctx, ids)
}
