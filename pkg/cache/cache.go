package cache

import (
	"context"
	"fmt"
	"time"
)

// Status reports whether GetOrSet served a cached value or computed a new one.
type Status string

const (
	StatusHit  Status = "hit"
	StatusMiss Status = "miss"
)

// Store is the backing key/value store. Entries carry their own expiry;
// namespace versions never expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrementVersion bumps the version counter for a namespace and
	// returns the new value. A missing counter starts at 1.
	IncrementVersion(ctx context.Context, namespace string) (int64, error)
	// Version returns the current counter for a namespace (1 if unset).
	Version(ctx context.Context, namespace string) (int64, error)
}

// Cache is a generational cache: every entry key embeds the namespace version
// current at write time, so bumping the namespace orphans all of its entries
// at once. Orphans fall out via TTL; nothing is deleted eagerly.
type Cache struct {
	store Store
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) entryKey(namespace string, version int64, variantKey string) string {
	return fmt.Sprintf("%s:v%d:%s", namespace, version, variantKey)
}

// GetOrSet returns the cached value for (namespace, variantKey) at the
// namespace's current version, or computes, stores and returns a fresh one.
func (c *Cache) GetOrSet(ctx context.Context, namespace, variantKey string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, Status, error) {
	version, err := c.store.Version(ctx, namespace)
	if err != nil {
		return nil, StatusMiss, err
	}

	key := c.entryKey(namespace, version, variantKey)
	if value, found, err := c.store.Get(ctx, key); err == nil && found {
		return value, StatusHit, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, StatusMiss, err
	}

	// Store failures are not fatal: the computed value is still valid.
	_ = c.store.Set(ctx, key, value, ttl)
	return value, StatusMiss, nil
}

// Bump invalidates every entry in a namespace. Call it only after the
// mutation's own transaction has committed, never before.
func (c *Cache) Bump(ctx context.Context, namespace string) error {
	_, err := c.store.IncrementVersion(ctx, namespace)
	return err
}
