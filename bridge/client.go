package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Ambient defaults for the knobs spec.md leaves to the caller (SPEC_FULL §9
// Config). None of these are part of the core protocol; they tune the
// transport and pacing around it.
const (
	defaultUserAgent     = "pulsegate (https://github.com/wyrecode/pulsegate, 0.1.0)"
	defaultHTTPTimeout   = 10 * time.Second
	defaultPacerInterval = 500 * time.Millisecond
	defaultAPIBase       = "https://discord.com/api/v10"
	defaultGatewayTTL    = 5 * time.Minute

	gatewayVersionQuery  = "v=10"
	gatewayEncodingQuery = "encoding=json"

	authScheme = "Bot "
)

// Config groups the ambient concerns a Client needs beyond the core
// protocol: REST base URL, timeouts, pacer cadence, and the intents bitmask
// sent at identify time (spec.md §3).
type Config struct {
	APIBase       string
	UserAgent     string
	HTTPTimeout   time.Duration
	PacerInterval time.Duration
	Intents       int64
}

// Option configures a Config at Client construction.
type Option func(*Config)

// WithAPIBase overrides the REST base URL (default discordapi v10).
func WithAPIBase(base string) Option {
	return func(c *Config) { c.APIBase = base }
}

// WithUserAgent overrides the outbound User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Config) { c.UserAgent = ua }
}

// WithHTTPTimeout overrides the per-request HTTP timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) { c.HTTPTimeout = d }
}

// WithPacerInterval overrides the Send Pacer's fixed tick interval
// (spec.md §4.2); it must stay below the platform's true gateway budget.
func WithPacerInterval(d time.Duration) Option {
	return func(c *Config) { c.PacerInterval = d }
}

// WithIntents sets the bitmask sent in the Identify frame (spec.md §3/§6).
func WithIntents(intents int64) Option {
	return func(c *Config) { c.Intents = intents }
}

func defaultConfig() Config {
	return Config{
		APIBase:       defaultAPIBase,
		UserAgent:     defaultUserAgent,
		HTTPTimeout:   defaultHTTPTimeout,
		PacerInterval: defaultPacerInterval,
	}
}

// Client is a single bot account's handle onto both halves of the core: the
// Rate-Limit Coordinator (REST) and the Gateway Session Manager factory. One
// Client is shared across every Session and every admitted request issued
// for that bot; the Bucket Registry and gateway URL cache live here so they
// are shared too, per spec.md §5's shared-resource policy.
type Client struct {
	token  string
	config Config

	Registry    *BucketRegistry
	Transport   *HTTPTransport
	Coordinator *Coordinator
	Clock       Clock

	urlCache *gatewayURLCache
}

// NewClient strips a leading authentication-scheme prefix from token
// (spec.md §3: "the leading authentication-scheme prefix, if provided, is
// stripped on construction") and wires the REST half of the core.
func NewClient(token string, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	token = strings.TrimPrefix(token, authScheme)

	clock := NewSystemClock()
	registry := NewBucketRegistry(clock)
	transport := NewHTTPTransport(authScheme+token, cfg.UserAgent, cfg.HTTPTimeout)

	return &Client{
		token:       token,
		config:      cfg,
		Registry:    registry,
		Transport:   transport,
		Coordinator: NewCoordinator(registry, transport, clock),
		Clock:       clock,
		urlCache:    newGatewayURLCache(clock),
	}
}

// Do admits and sends req through the Rate-Limit Coordinator (spec.md §4.4).
// Request-shaping helpers (argument validation, JSON body assembly,
// endpoint-specific convenience methods) build req and sit outside the
// core, per spec.md §1.
func (c *Client) Do(ctx context.Context, req RouteRequest) (*Response, error) {
	return c.Coordinator.Do(ctx, req)
}

// NewSession constructs a Gateway Session Manager bound to this Client's
// token, intents, and REST stack (used only for gateway URL discovery;
// Sessions never go through the Rate-Limit Coordinator themselves).
func (c *Client) NewSession(sink EventSink) *GatewaySession {
	return newGatewaySession(c, sink)
}

// resolveGatewayURL returns the cached, version/encoding-decorated gateway
// URL, discovering it (at most once across concurrent callers) if the cache
// is empty or stale.
func (c *Client) resolveGatewayURL(ctx context.Context) string {
	base := c.urlCache.get(ctx, c.discoverGatewayURL)

	return base + "?" + gatewayVersionQuery + "&" + gatewayEncodingQuery
}

// gatewayBotResponse is the subset of GET /gateway/bot this client needs.
type gatewayBotResponse struct {
	URL string `json:"url"`
}

// discoverGatewayURL issues GET /gateway/bot and extracts the websocket URL
// and the server's cache-age hint (Cache-Control max-age, falling back to a
// conservative default when the response carries none).
func (c *Client) discoverGatewayURL(ctx context.Context) (string, time.Duration, error) {
	resp, _, err := c.Transport.Send(ctx, RouteRequest{
		Method: "GET",
		Route:  "gateway/bot",
		Path:   c.config.APIBase + "/gateway/bot",
	}, xid.New().String())
	if err != nil {
		return "", 0, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, StatusCodeError(resp.StatusCode)
	}

	var body gatewayBotResponse
	if err := resp.Unmarshal(&body); err != nil {
		return "", 0, err
	}

	ttl := resp.CacheMaxAge
	if ttl <= 0 {
		ttl = defaultGatewayTTL
	}

	return body.URL, ttl, nil
}
