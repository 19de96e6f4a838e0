package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// heartbeatScheduler drives the gateway heartbeat per spec.md §4.3: a
// periodic timer at the server-advertised interval, a single outstanding
// acknowledgement, and a missed acknowledgement escalating to a graceful
// disconnect with a protocol-error status rather than silently resetting.
type heartbeatScheduler struct {
	clock    Clock
	ticker   Ticker
	waiting  atomic.Bool
	beat     func() error
	onMissed func()

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// newHeartbeatScheduler constructs a scheduler that calls beat once per
// interval and onMissed if an acknowledgement has not arrived by the next
// tick. beat is expected to push a heartbeat frame through the Send Pacer
// ahead of the queue (pushFront).
func newHeartbeatScheduler(clock Clock, interval time.Duration, beat func() error, onMissed func()) *heartbeatScheduler {
	h := &heartbeatScheduler{
		clock:    clock,
		ticker:   clock.NewTicker(interval),
		beat:     beat,
		onMissed: onMissed,
		stop:     make(chan struct{}),
	}

	h.wg.Add(1)

	go h.run()

	return h
}

func (h *heartbeatScheduler) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stop:
			return

		case <-h.ticker.C():
			if h.waiting.Load() {
				h.onMissed()

				return
			}

			h.waiting.Store(true)

			if err := h.beat(); err != nil {
				// A send failure is not itself a missed ack; the Session
				// Manager's own disconnect handling will observe the
				// transport failure through the send path.
				h.waiting.Store(false)
			}
		}
	}
}

// ack clears the outstanding-heartbeat latch in response to a
// HeartbeatAck opcode.
func (h *heartbeatScheduler) ack() {
	h.waiting.Store(false)
}

// reset reconfigures the scheduler for a new interval and clears any
// outstanding ack latch, in response to a Hello opcode arriving mid-session.
func (h *heartbeatScheduler) reset(interval time.Duration) {
	h.waiting.Store(false)
	h.ticker.Reset(interval)
}

// close stops the scheduler's timer goroutine.
func (h *heartbeatScheduler) close() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()

		return
	}

	h.stopped = true
	h.mu.Unlock()

	close(h.stop)
	h.ticker.Stop()
	h.wg.Wait()
}
