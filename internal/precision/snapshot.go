package precision

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sentinel/internal/domain"
)

// snapshotEntry is the msgpack-serializable form of one MarketInfo,
// keyed by the flattened "(exchange|market_type|symbol)" string so the
// snapshot round-trips without depending on the unexported cacheKey type.
type snapshotEntry struct {
	Key  string
	Info domain.MarketInfo
}

// SaveSnapshot persists the current cache contents to path in msgpack
// form, so a restart can warm-start from the last good state while the
// live warmup (which may be degraded) catches up in the background.
func (c *Cache) SaveSnapshot(path string) error {
	snap := c.Snapshot()
	entries := make([]snapshotEntry, 0, len(snap))
	for k, v := range snap {
		entries = append(entries, snapshotEntry{Key: k, Info: v})
	}

	data, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSnapshot restores the cache from a previously saved msgpack
// snapshot. A missing file is not an error — the warmup path will
// populate the cache live.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries []snapshotEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.entries[parseSnapshotKey(e.Key)] = e.Info
	}
	return nil
}

func parseSnapshotKey(s string) cacheKey {
	exchange, rest, _ := cut(s, '|')
	marketType, symbol, _ := cut(rest, '|')
	return cacheKey{exchange: exchange, marketType: domain.MarketType(marketType), symbol: symbol}
}

// cut is a byte-delimiter split helper (strings.Cut with a rune
// delimiter); kept local and tiny rather than pulling in an extra import
// for one call site.
func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
