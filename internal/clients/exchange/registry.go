// Package exchange adapts domain.ExchangePort to concrete exchange wire
// clients. The core trading engine never imports this package directly;
// it is wired once in cmd/server/main.go behind the ExchangePort
// interface, following the teacher's broker-adapter-behind-an-interface
// posture (domain.BrokerClient / internal/clients/tradernet).
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// clientTTL bounds how long a cached per-account ExchangePort is reused
// before Registry rebuilds it, per spec.md §5's "per-account HTTP client
// cache, 1h TTL" requirement.
const clientTTL = 1 * time.Hour

// cacheEntry pairs a built port with the time it was created.
type cacheEntry struct {
	port    domain.ExchangePort
	builtAt time.Time
}

// Registry resolves the ExchangePort bound to an Account's (exchange,
// credentials) pair, caching up to 100 clients (spec.md §5) behind an
// LRU so idle accounts' clients get evicted before active ones.
type Registry struct {
	baseURLs map[string]string // exchange name (lowercased) -> base REST URL override
	log      zerolog.Logger
	cache    *lru.Cache
}

// NewRegistry builds a Registry. baseURLs overrides the default base URL
// per exchange (internal/config.Config.ExchangeBaseURLs); an exchange
// absent from the map falls back to a conventional
// "https://api.<exchange>.com" guess, which is sufficient since the wire
// protocol itself is a closed abstraction behind ExchangePort (spec.md
// explicitly keeps real exchange signing/reconnection out of core
// scope) — what matters here is that every account gets a distinct,
// cached, retrying REST client.
func NewRegistry(baseURLs map[string]string, log zerolog.Logger) *Registry {
	cache, err := lru.NewWithEvict(100, onClientEvicted)
	if err != nil {
		// lru.NewWithEvict only errors on a non-positive size, which never
		// happens with the constant above.
		panic(err)
	}
	return &Registry{
		baseURLs: baseURLs,
		log:      log.With().Str("component", "exchange_registry").Logger(),
		cache:    cache,
	}
}

// onClientEvicted stops a cached port's background streaming ticker (if
// any) when the LRU drops it, so idle accounts don't leak a reconnect
// goroutine forever.
func onClientEvicted(_ interface{}, value interface{}) {
	if entry, ok := value.(cacheEntry); ok {
		if rp, ok := entry.port.(*restPort); ok && rp.ws != nil {
			rp.ws.Stop()
		}
	}
}

// PortFor returns the (possibly cached) ExchangePort for account.
// Registry satisfies reconcile.PortResolver and position.PortResolver
// structurally. execution.PortResolver also requires ResolveAccount, so
// the executor gets Registry through AccountPortResolver.
func (r *Registry) PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error) {
	if v, ok := r.cache.Get(account.ID); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.builtAt) < clientTTL {
			return entry.port, nil
		}
		r.cache.Remove(account.ID)
	}

	port, err := r.build(account)
	if err != nil {
		return nil, err
	}
	r.cache.Add(account.ID, cacheEntry{port: port, builtAt: time.Now()})
	return port, nil
}

func (r *Registry) build(account domain.Account) (domain.ExchangePort, error) {
	exchange := strings.ToLower(account.Exchange)
	baseURL := r.baseURLs[exchange]
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://api.%s.com", exchange)
	}

	caps, ok := knownCapabilities[exchange]
	if !ok {
		caps = defaultCapabilities
	}

	return newRestPort(restPortConfig{
		Account:     account,
		BaseURL:     baseURL,
		NativeBatch: caps.nativeBatch,
		RuleBased:   caps.ruleBased,
		Log:         r.log,
	}), nil
}

// exchangeCapabilities records the two ExchangePort facts that differ by
// exchange rather than by account: whether it exposes a true multi-order
// endpoint (spec.md §4.4, chunked by 5) and whether its tick/step rules
// are static enough to skip the background refresher (spec.md §4.3,
// Upbit/Bithumb-class exchanges).
type exchangeCapabilities struct {
	nativeBatch bool
	ruleBased   bool
}

var defaultCapabilities = exchangeCapabilities{nativeBatch: false, ruleBased: false}

var knownCapabilities = map[string]exchangeCapabilities{
	"binance": {nativeBatch: true, ruleBased: false},
	"bybit":   {nativeBatch: true, ruleBased: false},
	"upbit":   {nativeBatch: false, ruleBased: true},
	"bithumb": {nativeBatch: false, ruleBased: true},
}
