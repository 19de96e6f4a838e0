package bridge

import (
	"testing"
	"time"
)

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	ch := clock.After(time.Second)

	select {
	case <-ch:
		t.Fatalf("After fired before Advance")
	default:
	}

	clock.Advance(time.Second)

	select {
	case <-ch:
	default:
		t.Fatalf("After did not fire once its deadline was crossed")
	}
}

func TestFakeClockAfterDoesNotFireEarly(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	ch := clock.After(2 * time.Second)

	clock.Advance(time.Second)

	select {
	case <-ch:
		t.Fatalf("After fired before its full duration elapsed")
	default:
	}

	clock.Advance(time.Second)

	select {
	case <-ch:
	default:
		t.Fatalf("After did not fire once the remaining duration elapsed")
	}
}

func TestFakeClockTickerRearms(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatalf("ticker did not fire on its first period")
	}

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatalf("ticker did not re-arm for its second period")
	}
}

func TestFakeClockTickerStopSuppressesFutureFires(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Fatalf("stopped ticker fired")
	default:
	}
}

func TestFakeClockMultiStepAdvanceFiresEveryCrossedDeadline(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	early := clock.After(time.Second)
	late := clock.After(3 * time.Second)

	clock.Advance(5 * time.Second)

	select {
	case <-early:
	default:
		t.Fatalf("earlier waiter did not fire")
	}

	select {
	case <-late:
	default:
		t.Fatalf("later waiter did not fire")
	}
}
