// Package inventory lists the authenticated user's cards, caching the listing
// in memory for a short time.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/api"
)

const (
	cacheKey   = "inventory"
	defaultTTL = time.Minute
)

// Fetcher is the inventory endpoint of the remote API.
type Fetcher interface {
	Inventory(ctx context.Context) (*api.InventoryResponse, error)
}

// Lister serves the inventory from cache, fetching it when absent or
// expired.
type Lister struct {
	fetcher Fetcher
	cache   *ristretto.Cache
	ttl     time.Duration
	log     *logrus.Entry
}

func NewLister(fetcher Fetcher, ttl time.Duration, log *logrus.Entry) (*Lister, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100,
		MaxCost:            10,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to create cache: %w", err)
	}

	return &Lister{
		fetcher: fetcher,
		cache:   cache,
		ttl:     ttl,
		log:     log.WithField("component", "inventory"),
	}, nil
}

// List returns the inventory. A cached listing younger than the TTL is
// returned without a network call.
func (l *Lister) List(ctx context.Context) (*api.InventoryResponse, error) {
	if v, ok := l.cache.Get(cacheKey); ok {
		if inv, ok := v.(*api.InventoryResponse); ok {
			l.log.Debug("inventory served from cache")
			return inv, nil
		}
	}

	inv, err := l.fetcher.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	log := l.log.WithField("count", inv.Count)
	if !l.cache.SetWithTTL(cacheKey, inv, 1, l.ttl) {
		log.Warn("inventory fetched but not cached")
		return inv, nil
	}
	l.cache.Wait()
	log.Debug("inventory fetched")
	return inv, nil
}

// Invalidate drops the cached listing so the next List fetches afresh.
func (l *Lister) Invalidate() {
	l.cache.Del(cacheKey)
}

func (l *Lister) Close() {
	l.cache.Close()
}
