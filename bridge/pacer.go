package bridge

import (
	"container/list"
	"sync"
	"time"
)

// pacerJob is one queued outbound gateway frame.
type pacerJob struct {
	payload []byte
	done    chan error
}

// sendPacer enforces the gateway's fixed outbound send interval (spec.md
// §4.2): at most one frame leaves per tick, FIFO among equal-priority jobs,
// with heartbeats permitted to jump the queue via pushFront. The timer
// disarms when the queue empties and re-arms with an immediate first fire
// as soon as a job is enqueued, so an idle session never spins a timer for
// nothing.
type sendPacer struct {
	mu       sync.Mutex
	queue    *list.List
	armed    bool
	interval time.Duration
	clock    Clock
	ticker   Ticker
	send     func(payload []byte) error
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// newSendPacer constructs a pacer that calls send for each dequeued job, at
// most once per interval.
func newSendPacer(clock Clock, interval time.Duration, send func(payload []byte) error) *sendPacer {
	p := &sendPacer{
		queue:    list.New(),
		interval: interval,
		clock:    clock,
		send:     send,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	p.wg.Add(1)

	go p.run()

	return p
}

// pushBack enqueues payload at the tail of the queue (spec.md default
// ordering) and returns a channel that receives the result of sending it.
func (p *sendPacer) pushBack(payload []byte) <-chan error {
	return p.push(payload, false)
}

// pushFront enqueues payload at the head of the queue, ahead of anything
// already waiting. The Heartbeat Scheduler uses this so a heartbeat is
// never starved behind a backlog of ordinary frames.
func (p *sendPacer) pushFront(payload []byte) <-chan error {
	return p.push(payload, true)
}

func (p *sendPacer) push(payload []byte, front bool) <-chan error {
	job := &pacerJob{payload: payload, done: make(chan error, 1)}

	p.mu.Lock()

	if front {
		p.queue.PushFront(job)
	} else {
		p.queue.PushBack(job)
	}

	wasArmed := p.armed

	if !wasArmed {
		p.armed = true
		p.ticker = p.clock.NewTicker(p.interval)
	}

	p.mu.Unlock()

	if !wasArmed {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}

	return job.done
}

// run waits for the pacer to be armed, then fires one send per tick until
// the queue drains and it disarms again, until stop is closed. Waiting on
// wake rather than polling means an idle pacer blocks indefinitely and a
// FakeClock-driven test never races a real-time sleep against its manual
// Advance calls.
func (p *sendPacer) run() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		ticker := p.ticker
		p.mu.Unlock()

		if ticker == nil {
			select {
			case <-p.stop:
				return
			case <-p.wake:
				// Immediate first fire: the pacer should not wait a full
				// interval before sending the very first job after being
				// idle.
				p.fire()

				continue
			}
		}

		select {
		case <-p.stop:
			return
		case <-p.wake:
			// A push() may have armed the ticker and signalled wake before
			// this goroutine got around to reading p.ticker above, in
			// which case the nil-ticker branch never ran. Listening for
			// wake here too means that race can't strand the signal:
			// whichever branch of this select fires, the pending job gets
			// its immediate dequeue instead of waiting a full interval.
			p.fire()
		case <-ticker.C():
			p.fire()
		}
	}
}

// fire dequeues and sends the next job, disarming the timer if the queue
// is now empty.
func (p *sendPacer) fire() {
	p.mu.Lock()

	front := p.queue.Front()
	if front == nil {
		if p.ticker != nil {
			p.ticker.Stop()
			p.ticker = nil
		}

		p.armed = false
		p.mu.Unlock()

		return
	}

	p.queue.Remove(front)

	if p.queue.Len() == 0 {
		if p.ticker != nil {
			p.ticker.Stop()
			p.ticker = nil
		}

		p.armed = false
	}

	p.mu.Unlock()

	job := front.Value.(*pacerJob)
	job.done <- p.send(job.payload)
}

// close stops the pacer's background goroutine. Queued jobs are left
// undelivered; callers racing a close should treat a job whose done
// channel never fires as cancelled by the session's teardown.
func (p *sendPacer) close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})

	p.wg.Wait()
}
