package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// RouteRequest is the Coordinator's input contract (spec.md §6, "Request
// surface"): a pre-built (method, route template, absolute path) triple,
// optionally carrying a body and an audit-reason. Building this triple from
// an endpoint-specific helper method is explicitly out of scope (spec.md
// §1); callers assemble it themselves.
type RouteRequest struct {
	Method string
	Route  string // route template; the Index A key
	Path   string // absolute request path
	Body   []byte
	Reason string
}

// Coordinator implements the admission protocol described in spec.md §4.4:
// resolve bucket -> wait or claim -> send -> reconcile response headers ->
// release.
type Coordinator struct {
	registry  *BucketRegistry
	transport *HTTPTransport
	clock     Clock
}

// NewCoordinator constructs a Rate-Limit Coordinator over the given
// registry and HTTP transport.
func NewCoordinator(registry *BucketRegistry, transport *HTTPTransport, clock Clock) *Coordinator {
	return &Coordinator{registry: registry, transport: transport, clock: clock}
}

// Do admits and sends req, blocking as needed to respect the route's
// rate-limit bucket. The loop structure mirrors spec.md §4.4's pseudocode
// exactly: at most one of {decrement-and-send, start-probe, await-probe,
// sleep-until-reset} happens per iteration, and a bucket observed as
// superseded (isDuplicate) causes an immediate re-resolve rather than a
// wait.
func (c *Coordinator) Do(ctx context.Context, req RouteRequest) (*Response, error) {
	correlation := xid.New().String()

	// The Coordinator is never bound to a single authenticated identity (a
	// Client may issue requests before any Gateway Session has identified),
	// so the clientID field the teacher's logging threads through is left
	// blank here rather than invented.
	LogRequest(Logger.Trace(), "", correlation, req.Method, req.Route, req.Path).Msg("processing request")

	for {
		b := c.registry.GetOrCreateByRoute(req.Method, req.Route)

		b.mu.Lock()

		switch {
		case b.isDuplicate:
			b.mu.Unlock()

			continue

		case b.reset.After(c.clock.Now()):
			if b.remaining > 0 {
				b.remaining--
				b.mu.Unlock()

				return c.send(ctx, req, b, correlation)
			}

			wait := b.reset
			b.mu.Unlock()

			if err := c.sleepUntil(ctx, wait); err != nil {
				return nil, err
			}

			continue

		case b.firstRequest == nil:
			handle := newProbeHandle()
			b.firstRequest = handle
			b.mu.Unlock()

			resp, err := c.send(ctx, req, b, correlation)
			handle.complete(err)

			return resp, err

		default:
			handle := b.firstRequest
			b.mu.Unlock()

			// Cancellation-aware wait. A probe's own error is swallowed
			// here — the loop re-resolves and will re-wait, or claim, or
			// find the window already active — but a cancelled ctx ends
			// admission with ctx.Err() instead of re-resolving.
			_ = handle.wait(ctx)

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			continue
		}
	}
}

// sleepUntil blocks until t or ctx is cancelled, whichever comes first.
func (c *Coordinator) sleepUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(c.clock.Now())
	if d <= 0 {
		return nil
	}

	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send performs the HTTP exchange for an admitted request and reconciles
// the response headers into the registry, whatever the response's status
// code. A transport-layer failure reconciles nothing; it only clears
// firstRequest on the original bucket.
func (c *Coordinator) send(ctx context.Context, req RouteRequest, original *Bucket, correlation string) (*Response, error) {
	LogRequest(Logger.Debug(), "", correlation, req.Method, req.Route, req.Path).Msg("sending request")

	resp, header, err := c.transport.Send(ctx, req, correlation)
	if err != nil {
		// Transport-layer failure: clear firstRequest on the original
		// bucket so waiters wake and re-resolve; no bucket state is
		// registered from a failed probe (spec.md §4.4 Errors).
		original.mu.Lock()
		original.firstRequest = nil
		original.mu.Unlock()

		return nil, fmt.Errorf("pulsegate: sending %s %s: %w", req.Method, req.Path, err)
	}

	c.reconcile(req, original, header)

	LogResponse(LogRequest(Logger.Info(), "", correlation, req.Method, req.Route, req.Path), resp.StatusCode).
		Msg("received response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, StatusCodeError(resp.StatusCode)
	}

	return resp, nil
}

// reconcile applies spec.md §4.4's header reconciliation algorithm.
func (c *Coordinator) reconcile(req RouteRequest, original *Bucket, h RateLimitHeader) {
	effective := original

	if h.BucketID != "" {
		known := c.registry.GetByID(h.BucketID)

		switch {
		case known == nil:
			c.registry.SetByID(h.BucketID, original)

			original.mu.Lock()
			original.id = h.BucketID
			original.mu.Unlock()

		case known != original:
			c.registry.ReplaceRoute(req.Method, req.Route, known)

			original.mu.Lock()
			original.isDuplicate = true
			original.mu.Unlock()

			effective = known
		}
	}

	// Clear firstRequest on the ORIGINAL bucket regardless of outcome, so
	// every waiter wakes, even when the effective bucket has moved to a
	// superseding one.
	original.mu.Lock()
	original.firstRequest = nil
	original.mu.Unlock()

	effective.mu.Lock()
	defer effective.mu.Unlock()

	// Once superseded, a bucket never again receives header updates
	// (spec.md §8 invariant).
	if effective.isDuplicate {
		return
	}

	if h.HasLimit {
		effective.limit = h.Limit
	}

	if h.HasRemaining {
		// Out-of-order responses must not raise remaining within the same
		// window: only apply when the bucket is not currently Active, or
		// the new value is smaller than what's stored.
		if !effective.reset.After(c.clock.Now()) || h.Remaining < effective.remaining {
			effective.remaining = h.Remaining
		}
	}

	if h.HasReset {
		// Defend against reordering: reset only ever moves forward.
		if h.Reset.After(effective.reset) {
			effective.reset = h.Reset
		}
	}

	LogBucket(Logger.Debug(), effective.id, string(effective.stateLocked()), effective.limit, effective.remaining, effective.reset).
		Msg("bucket reconciled")
}
