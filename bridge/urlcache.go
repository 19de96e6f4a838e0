package bridge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultGatewayURL is used when discovery fails and no cached value is
// available; it matches the documented fallback gateway endpoint.
const defaultGatewayURL = "wss://gateway.discord.gg"

// gatewayURLCache memoizes the gateway discovery endpoint (spec.md §4.1).
// Each Client owns one, shared by every session that Client creates:
// concurrent connectors issuing Connect at the same moment share one
// in-flight discovery request rather than each hitting the REST API, and
// the result is reused until its advertised age expires. Separate Clients
// do not share a cache.
//
// golang.org/x/sync is already a required dependency for errgroup-driven
// session teardown; singleflight is a sibling package of the same module,
// so reaching for it here adds no new third-party surface.
type gatewayURLCache struct {
	clock Clock
	group singleflight.Group

	mu        sync.Mutex
	url       string
	expiresAt time.Time
}

// newGatewayURLCache constructs an empty cache.
func newGatewayURLCache(clock Clock) *gatewayURLCache {
	return &gatewayURLCache{clock: clock}
}

// discoverFunc performs the actual REST lookup, returning the gateway URL
// and a cache-age hint (how long the result may be reused).
type discoverFunc func(ctx context.Context) (url string, ttl time.Duration, err error)

// get returns a cached, unexpired URL, or performs (at most once among
// concurrent callers) a fresh discovery via discover. On discovery failure
// with no usable cache entry, it falls back to defaultGatewayURL rather
// than failing the connection attempt outright.
func (c *gatewayURLCache) get(ctx context.Context, discover discoverFunc) string {
	c.mu.Lock()
	if c.url != "" && c.clock.Now().Before(c.expiresAt) {
		url := c.url
		c.mu.Unlock()

		return url
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do("gateway-url", func() (any, error) {
		url, ttl, err := discover(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.url = url
		c.expiresAt = c.clock.Now().Add(ttl)
		c.mu.Unlock()

		return url, nil
	})

	url, _ := v.(string)
	if url == "" {
		c.mu.Lock()
		cached := c.url
		c.mu.Unlock()

		if cached != "" {
			return cached
		}

		return defaultGatewayURL
	}

	return url
}
