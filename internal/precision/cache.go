// Package precision implements the PrecisionCache and market warmup
// described in spec §4.3: an in-memory, RWMutex-guarded map of MarketInfo
// that makes the order path read-only with respect to exchange metadata.
// The cache idiom (TTL table + RWMutex-guarded map + scheduled cleanup)
// is generalized from the teacher's internal/clientdata package.
package precision

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// cacheKey identifies one MarketInfo entry.
type cacheKey struct {
	exchange   string
	marketType domain.MarketType
	symbol     string
}

// Cache holds MarketInfo for every (exchange, market_type, symbol) tuple
// the engine has warmed up or refreshed. Reads never touch the network;
// ExecutorOrder-path lookups that miss return domain.ErrCacheMiss rather
// than falling back to a live call (spec §4.3).
type Cache struct {
	log zerolog.Logger

	mu      sync.RWMutex
	entries map[cacheKey]domain.MarketInfo
}

// NewCache builds an empty Cache.
func NewCache(log zerolog.Logger) *Cache {
	return &Cache{
		log:     log.With().Str("component", "precision_cache").Logger(),
		entries: make(map[cacheKey]domain.MarketInfo),
	}
}

// Put installs/replaces the MarketInfo entries for one exchange/market_type
// load_markets response.
func (c *Cache) Put(exchange string, marketType domain.MarketType, markets map[string]domain.MarketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, info := range markets {
		c.entries[cacheKey{exchange: exchange, marketType: marketType, symbol: symbol}] = info
	}
}

// Get returns the MarketInfo for one symbol, or domain.ErrCacheMiss if
// absent. Callers on the order path must treat a miss as a bug signal
// (spec §4.3), never as a trigger to call the exchange.
func (c *Cache) Get(exchange string, marketType domain.MarketType, symbol string) (domain.MarketInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[cacheKey{exchange: exchange, marketType: marketType, symbol: symbol}]
	if !ok {
		return domain.MarketInfo{}, domain.ErrCacheMiss
	}
	return info, nil
}

// Len reports the number of cached entries, for diagnostics/admin endpoints.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache (admin DELETE /api/admin/precision/cache).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]domain.MarketInfo)
}

// Snapshot returns a copy of every entry, used by the on-disk snapshot
// writer (snapshot.go) and by tests.
func (c *Cache) Snapshot() map[string]domain.MarketInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.MarketInfo, len(c.entries))
	for k, v := range c.entries {
		out[snapshotKey(k)] = v
	}
	return out
}

func snapshotKey(k cacheKey) string {
	return k.exchange + "|" + string(k.marketType) + "|" + k.symbol
}
