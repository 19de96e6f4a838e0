package bridge

import (
	"context"
	"sync"
	"time"
)

// bucketState labels a Bucket's position in the three-state machine from
// spec.md §3 for logging purposes only; state is actually derived from
// (reset, firstRequest), never stored redundantly.
type bucketState string

const (
	bucketStateExpired bucketState = "expired"
	bucketStateProbing bucketState = "probing"
	bucketStateActive  bucketState = "active"
)

// probeHandle is the reference-counted task handle installed in
// Bucket.firstRequest while the inaugural request for a bucket is in
// flight. Any number of waiters may hold a reference; complete is
// idempotent so only the inaugural sender's call has effect, and cloning
// (sharing the pointer) never steals the result from other waiters.
type probeHandle struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newProbeHandle() *probeHandle {
	return &probeHandle{done: make(chan struct{})}
}

// complete signals every waiter. Only the first call sets err.
func (p *probeHandle) complete(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// wait blocks until the probe completes or ctx is done, returning the
// probe's error or ctx.Err() respectively. The Coordinator ignores the
// probe's error and re-resolves the bucket, but returns on cancellation.
func (p *probeHandle) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bucket is a per-route (or per-server-identifier) rate-limit budget. All
// field access outside of construction happens under mu; callers of the
// Coordinator never touch a Bucket's fields directly.
type Bucket struct {
	mu sync.Mutex

	id string // server-assigned bucket identifier; "" until discovered

	limit     int
	remaining int
	reset     time.Time // zero value means "never" (Expired)

	firstRequest *probeHandle
	isDuplicate  bool

	clock Clock
}

func newBucket(clock Clock) *Bucket {
	return &Bucket{clock: clock}
}

// state reports the bucket's current state at the clock's current instant. Used
// only for logging/introspection; admission logic inlines the same checks
// under the same lock acquisition to avoid a second lock round-trip.
func (b *Bucket) state() bucketState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stateLocked()
}

func (b *Bucket) stateLocked() bucketState {
	switch {
	case b.reset.After(b.clock.Now()):
		return bucketStateActive
	case b.firstRequest != nil:
		return bucketStateProbing
	default:
		return bucketStateExpired
	}
}

// snapshot returns the bucket's observable fields for logging.
func (b *Bucket) snapshot() (id string, limit, remaining int, reset time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.id, b.limit, b.remaining, b.reset
}
