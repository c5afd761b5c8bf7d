package capture

import "testing"

func TestClaimIdleChannel(t *testing.T) {
	c := New()

	if _, ok := c.Claim(3); ok {
		t.Error("Claim on idle channel reported a pulse")
	}
	if c.Pending() {
		t.Error("idle capture reports pending")
	}
}

func TestRecordThenClaim(t *testing.T) {
	c := New()
	c.Record(2, 1500)

	if !c.Pending() {
		t.Fatal("recorded pulse not pending")
	}
	ts, ok := c.Claim(2)
	if !ok || ts != 1500 {
		t.Fatalf("Claim(2) = %d, %v, want 1500, true", ts, ok)
	}
	if _, ok := c.Claim(2); ok {
		t.Error("second claim returned the same pulse")
	}
	if c.Pending() {
		t.Error("drained capture still pending")
	}
}

func TestSecondPulseCoalesces(t *testing.T) {
	c := New()
	c.Record(0, 100)
	c.Record(0, 250)

	ts, ok := c.Claim(0)
	if !ok || ts != 250 {
		t.Fatalf("Claim(0) = %d, %v, want latest stamp 250", ts, ok)
	}
	if _, ok := c.Claim(0); ok {
		t.Error("coalesced pulses yielded two claims")
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	c := New()
	c.Record(1, 10)
	c.Record(7, 20)

	if ts, ok := c.Claim(7); !ok || ts != 20 {
		t.Fatalf("Claim(7) = %d, %v, want 20, true", ts, ok)
	}
	if !c.Pending() {
		t.Fatal("channel 1 pulse lost after claiming channel 7")
	}
	if ts, ok := c.Claim(1); !ok || ts != 10 {
		t.Fatalf("Claim(1) = %d, %v, want 10, true", ts, ok)
	}
}

// A writer hammering one channel while the reader drains it: claimed
// stamps never go backwards and the final stamp is always observed.
func TestConcurrentRecordAndClaim(t *testing.T) {
	c := New()
	const pulses = 1000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= pulses; i++ {
			c.Record(4, int64(i))
		}
	}()

	var last int64
	for {
		if ts, ok := c.Claim(4); ok {
			if ts < last {
				t.Fatalf("stamp went backwards: %d after %d", ts, last)
			}
			last = ts
		}
		select {
		case <-done:
			if ts, ok := c.Claim(4); ok {
				last = ts
			}
			if last != pulses {
				t.Fatalf("final claimed stamp = %d, want %d", last, pulses)
			}
			return
		default:
		}
	}
}
