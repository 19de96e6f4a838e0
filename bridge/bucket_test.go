package bridge

import (
	"context"
	"testing"
	"time"
)

func TestBucketStateTransitions(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	b := newBucket(clock)

	if got := b.state(); got != bucketStateExpired {
		t.Fatalf("fresh bucket: got state %q, want %q", got, bucketStateExpired)
	}

	handle := newProbeHandle()
	b.mu.Lock()
	b.firstRequest = handle
	b.mu.Unlock()

	if got := b.state(); got != bucketStateProbing {
		t.Fatalf("bucket with firstRequest set: got state %q, want %q", got, bucketStateProbing)
	}

	b.mu.Lock()
	b.firstRequest = nil
	b.limit = 5
	b.remaining = 5
	b.reset = clock.Now().Add(time.Minute)
	b.mu.Unlock()

	if got := b.state(); got != bucketStateActive {
		t.Fatalf("bucket with future reset: got state %q, want %q", got, bucketStateActive)
	}

	clock.Advance(2 * time.Minute)

	if got := b.state(); got != bucketStateExpired {
		t.Fatalf("bucket past its reset with no probe: got state %q, want %q", got, bucketStateExpired)
	}
}

func TestProbeHandleBroadcastsToAllWaiters(t *testing.T) {
	handle := newProbeHandle()

	const waiters = 5

	results := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			results <- handle.wait(context.Background())
		}()
	}

	// None of the waiters should observe a result before complete is called.
	select {
	case <-results:
		t.Fatalf("a waiter returned before the probe completed")
	case <-time.After(20 * time.Millisecond):
	}

	handle.complete(nil)

	for i := 0; i < waiters; i++ {
		if err := <-results; err != nil {
			t.Fatalf("waiter %d: got error %v, want nil", i, err)
		}
	}
}

func TestProbeHandleCompleteIsIdempotent(t *testing.T) {
	handle := newProbeHandle()

	handle.complete(context.DeadlineExceeded)
	handle.complete(nil) // second call must not override the first.

	if err := handle.wait(context.Background()); err != context.DeadlineExceeded {
		t.Fatalf("wait: got %v, want the first complete() error", err)
	}
}

func TestProbeHandleWaitHonoursCancellation(t *testing.T) {
	handle := newProbeHandle()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := handle.wait(ctx); err != context.Canceled {
		t.Fatalf("wait: got %v, want context.Canceled", err)
	}
}
